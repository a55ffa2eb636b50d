// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package ruledsl is a compact text syntax for access rules, used where JSON
// is awkward to type: the CLI and seed files.
//
//	anyOf(guildAdmin, crew(id=<uuid>) & crewRole(ADMIN), allOf(role(<sf>), member(<sf>)))
//
// A rule is a mode applied to a comma-separated list of atoms. An atom is one
// or more terms joined by '&'; all of an atom's terms must hold. A term that is
// itself anyOf(...) or allOf(...) nests a rule.
package ruledsl

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ruleLexer tokenizes rule text. UUID precedes Ident so ids that start with a
// hex letter are not split.
var ruleLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "UUID", Pattern: `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`},
	{Name: "Number", Pattern: `\d+`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Punct", Pattern: `[(),=&]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// ruleNode matches: mode "(" [ atom { "," atom } ] ")"
type ruleNode struct {
	Pos   lexer.Position `parser:""`
	Mode  string      `parser:"@('anyOf' | 'allOf') '('"`
	Atoms []*atomNode `parser:"( @@ ( ',' @@ )* )? ')'"`
}

// atomNode matches: term { "&" term }
type atomNode struct {
	Pos   lexer.Position `parser:""`
	Terms []*termNode `parser:"@@ ( '&' @@ )*"`
}

// termNode is one constraint of an atom.
type termNode struct {
	Pos        lexer.Position `parser:""`
	Nested     *ruleNode  `parser:"  @@"`
	GuildAdmin bool       `parser:"| @'guildAdmin'"`
	Member     *string    `parser:"| 'member' '(' @Number ')'"`
	Role       *string    `parser:"| 'role' '(' @Number ')'"`
	Crew       []*crewArg `parser:"| 'crew' '(' @@ ( ',' @@ )* ')'"`
	CrewRole   *string    `parser:"| 'crewRole' '(' @('OWNER' | 'ADMIN' | 'MEMBER') ')'"`
}

// crewArg matches: ("id" | "sf") "=" value
type crewArg struct {
	Pos   lexer.Position `parser:""`
	Key   string `parser:"@('id' | 'sf') '='"`
	Value string `parser:"@(UUID | Number)"`
}

func newParser() (*participle.Parser[ruleNode], error) {
	return participle.Build[ruleNode](
		participle.Lexer(ruleLexer),
	)
}
