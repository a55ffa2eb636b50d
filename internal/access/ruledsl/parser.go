// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package ruledsl

import (
	"errors"
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"

	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// CodeSyntax is the oops code of text that does not match the grammar.
// Text that parses but describes an invalid rule fails with rule.CodeInvalid.
const CodeSyntax = "RULE_SYNTAX"

// parser is the singleton participle parser instance.
var parser *participle.Parser[ruleNode]

func init() {
	var err error
	parser, err = newParser()
	if err != nil {
		panic(fmt.Sprintf("failed to build rule parser: %v", err))
	}
}

// Parse converts rule text into a validated rule.
func Parse(text string) (rule.Rule, error) {
	node, err := parser.ParseString("", text)
	if err != nil {
		return rule.Rule{}, syntaxError(err)
	}
	r, err := node.toRule()
	if err != nil {
		return rule.Rule{}, err
	}
	if err := r.Validate(); err != nil {
		return rule.Rule{}, err
	}
	return r, nil
}

func syntaxError(err error) error {
	b := oops.Code(CodeSyntax)
	var perr participle.Error
	if errors.As(err, &perr) {
		pos := perr.Position()
		b = b.With("line", pos.Line).With("column", pos.Column)
	}
	return b.Wrapf(err, "parsing rule text")
}

func termError(pos lexer.Position, format string, args ...any) error {
	return oops.Code(CodeSyntax).
		With("line", pos.Line).With("column", pos.Column).
		Errorf(format, args...)
}

func (n *ruleNode) toRule() (rule.Rule, error) {
	mode, err := rule.ParseMode(n.Mode)
	if err != nil {
		return rule.Rule{}, termError(n.Pos, "%v", err)
	}
	r := rule.Rule{Mode: mode, Spec: make([]rule.Atom, 0, len(n.Atoms))}
	for _, a := range n.Atoms {
		atom, err := a.toAtom()
		if err != nil {
			return rule.Rule{}, err
		}
		r.Spec = append(r.Spec, atom)
	}
	return r, nil
}

func (n *atomNode) toAtom() (rule.Atom, error) {
	var atom rule.Atom
	for _, t := range n.Terms {
		if err := t.apply(&atom); err != nil {
			return rule.Atom{}, err
		}
	}
	return atom, nil
}

// apply sets the atom field the term describes. Each field may be set once
// per atom.
func (t *termNode) apply(atom *rule.Atom) error {
	switch {
	case t.Nested != nil:
		if atom.Rule != nil {
			return termError(t.Pos, "atom already has a nested rule")
		}
		nested, err := t.Nested.toRule()
		if err != nil {
			return err
		}
		atom.Rule = &nested
	case t.GuildAdmin:
		if atom.GuildAdmin != nil {
			return termError(t.Pos, "guildAdmin repeated in atom")
		}
		yes := true
		atom.GuildAdmin = &yes
	case t.Member != nil:
		if atom.Member != nil {
			return termError(t.Pos, "member repeated in atom")
		}
		atom.Member = t.Member
	case t.Role != nil:
		if atom.Role != nil {
			return termError(t.Pos, "role repeated in atom")
		}
		atom.Role = t.Role
	case t.Crew != nil:
		if atom.Crew != nil {
			return termError(t.Pos, "crew repeated in atom")
		}
		ref, err := crewRef(t.Crew)
		if err != nil {
			return err
		}
		atom.Crew = ref
	case t.CrewRole != nil:
		if atom.CrewRole != nil {
			return termError(t.Pos, "crewRole repeated in atom")
		}
		level, err := rule.ParseAccessLevel(*t.CrewRole)
		if err != nil {
			return termError(t.Pos, "%v", err)
		}
		atom.CrewRole = &level
	}
	return nil
}

func crewRef(args []*crewArg) (*rule.CrewRef, error) {
	ref := &rule.CrewRef{}
	for _, arg := range args {
		value := arg.Value
		switch arg.Key {
		case "id":
			if ref.ID != nil {
				return nil, termError(arg.Pos, "crew id repeated")
			}
			ref.ID = &value
		case "sf":
			if ref.CrewSF != nil {
				return nil, termError(arg.Pos, "crew sf repeated")
			}
			ref.CrewSF = &value
		}
	}
	return ref, nil
}
