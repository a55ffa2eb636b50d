// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package rule defines the declarative rule tree evaluated by the access
// decision engine, together with its persisted JSON wire format.
//
// A Rule combines an ordered list of Atoms with a combinator Mode. An Atom is a
// closed set of optional constraints; a constraint is either present (and must
// match) or absent (and is ignored). Atoms may embed a full nested Rule, so
// trees of arbitrary depth can be expressed.
package rule

import (
	"fmt"
	"slices"
)

// MaxDepth bounds how deeply rules may nest. Persisted rules are user input, so
// both ingestion and evaluation refuse trees deeper than this.
const MaxDepth = 32

// Type is the polarity of a rule.
type Type string

// Type constants.
const (
	TypePermit Type = "permit"
	TypeDeny   Type = "deny"
)

// String returns the wire value.
func (t Type) String() string {
	return string(t)
}

// Valid reports whether t is a known rule type.
func (t Type) Valid() bool {
	return t == TypePermit || t == TypeDeny
}

// ParseType converts a wire string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown rule type %q", s)
	}
	return t, nil
}

// Mode controls how sibling atoms combine.
type Mode string

// Mode constants.
const (
	ModeAny Mode = "anyOf" // logical OR; empty list is false
	ModeAll Mode = "allOf" // logical AND; empty list is true
)

// String returns the wire value.
func (m Mode) String() string {
	return string(m)
}

// Valid reports whether m is a known combinator.
func (m Mode) Valid() bool {
	return m == ModeAny || m == ModeAll
}

// ParseMode converts a wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown combinator %q", s)
	}
	return m, nil
}

// CrewRef identifies a crew either by its UUID, by its Discord snowflake, or by
// both. Every present field must match a membership for the ref to match.
type CrewRef struct {
	ID     *string `json:"id,omitempty" jsonschema:"format=uuid"`
	CrewSF *string `json:"crewSf,omitempty" jsonschema:"pattern=^[0-9]+$"`
}

// CrewByID returns a ref matching a crew UUID.
func CrewByID(id string) CrewRef {
	return CrewRef{ID: &id}
}

// CrewBySnowflake returns a ref matching a crew snowflake.
func CrewBySnowflake(sf string) CrewRef {
	return CrewRef{CrewSF: &sf}
}

// IsZero reports whether neither identifier is set.
func (c CrewRef) IsZero() bool {
	return c.ID == nil && c.CrewSF == nil
}

// Matches reports whether a crew with the given identifiers satisfies the ref.
func (c CrewRef) Matches(id, sf string) bool {
	if c.ID != nil && *c.ID != id {
		return false
	}
	if c.CrewSF != nil && *c.CrewSF != sf {
		return false
	}
	return true
}

func (c CrewRef) clone() CrewRef {
	return CrewRef{ID: cloneString(c.ID), CrewSF: cloneString(c.CrewSF)}
}

func (c CrewRef) equal(o CrewRef) bool {
	return equalString(c.ID, o.ID) && equalString(c.CrewSF, o.CrewSF)
}

// Atom is one evaluable condition. Nil fields are absent and ignored; an atom
// matches iff every present field matches. Rule holds a nested rule tree.
type Atom struct {
	Member     *string      `json:"member,omitempty" jsonschema:"pattern=^[0-9]+$"`
	Role       *string      `json:"role,omitempty" jsonschema:"pattern=^[0-9]+$"`
	Crew       *CrewRef     `json:"crew,omitempty"`
	CrewRole   *AccessLevel `json:"crewRole,omitempty"`
	GuildAdmin *bool        `json:"guildAdmin,omitempty"`
	Rule       *Rule        `json:"rule,omitempty"`
}

// IsEmpty reports whether the atom carries no constraint at all.
func (a Atom) IsEmpty() bool {
	return a.Member == nil && a.Role == nil && a.Crew == nil &&
		a.CrewRole == nil && a.GuildAdmin == nil && a.Rule == nil
}

// Clone returns a deep copy of the atom.
func (a Atom) Clone() Atom {
	return a.cloneAt(1)
}

// cloneAt copies up to MaxDepth+1 levels. Anything deeper is shared rather
// than copied so a cyclic tree built in code cannot loop forever; evaluation
// rejects such trees before reaching the shared part.
func (a Atom) cloneAt(level int) Atom {
	out := Atom{
		Member:     cloneString(a.Member),
		Role:       cloneString(a.Role),
		GuildAdmin: cloneBool(a.GuildAdmin),
	}
	if a.Crew != nil {
		c := a.Crew.clone()
		out.Crew = &c
	}
	if a.CrewRole != nil {
		l := *a.CrewRole
		out.CrewRole = &l
	}
	if a.Rule != nil {
		if level > MaxDepth {
			out.Rule = a.Rule
		} else {
			r := Rule{Mode: a.Rule.Mode, Spec: cloneAtoms(a.Rule.Spec, level+1)}
			out.Rule = &r
		}
	}
	return out
}

// Equal reports structural equality.
func (a Atom) Equal(o Atom) bool {
	if !equalString(a.Member, o.Member) || !equalString(a.Role, o.Role) || !equalBool(a.GuildAdmin, o.GuildAdmin) {
		return false
	}
	if (a.Crew == nil) != (o.Crew == nil) || (a.Crew != nil && !a.Crew.equal(*o.Crew)) {
		return false
	}
	if (a.CrewRole == nil) != (o.CrewRole == nil) || (a.CrewRole != nil && *a.CrewRole != *o.CrewRole) {
		return false
	}
	if (a.Rule == nil) != (o.Rule == nil) {
		return false
	}
	return a.Rule == nil || a.Rule.Equal(*o.Rule)
}

// Rule is a combinator over an ordered list of atoms. Order does not affect
// evaluation but is preserved through persistence.
type Rule struct {
	Mode Mode   `json:"mode" jsonschema:"enum=anyOf,enum=allOf"`
	Spec []Atom `json:"spec"`
}

// AnyOf returns a rule matching when at least one atom matches.
func AnyOf(atoms ...Atom) Rule {
	return Rule{Mode: ModeAny, Spec: cloneAtoms(atoms, 1)}
}

// AllOf returns a rule matching when every atom matches.
func AllOf(atoms ...Atom) Rule {
	return Rule{Mode: ModeAll, Spec: cloneAtoms(atoms, 1)}
}

// Clone returns a deep copy of the rule tree.
func (r Rule) Clone() Rule {
	return Rule{Mode: r.Mode, Spec: cloneAtoms(r.Spec, 1)}
}

// Equal reports structural equality, including atom order. A nil and an empty
// spec compare equal.
func (r Rule) Equal(o Rule) bool {
	return r.Mode == o.Mode && slices.EqualFunc(r.Spec, o.Spec, Atom.Equal)
}

// Depth returns the nesting depth of the tree; a rule without nested rules has
// depth 1. Walking stops once limit is exceeded so cyclic trees built in code
// terminate.
func (r *Rule) Depth(limit int) int {
	return r.depth(1, limit)
}

func (r *Rule) depth(level, limit int) int {
	if level > limit {
		return level
	}
	deepest := level
	for i := range r.Spec {
		if n := r.Spec[i].Rule; n != nil {
			d := n.depth(level+1, limit)
			if d > limit {
				return d
			}
			if d > deepest {
				deepest = d
			}
		}
	}
	return deepest
}

func cloneAtoms(atoms []Atom, level int) []Atom {
	if atoms == nil {
		return nil
	}
	out := make([]Atom, len(atoms))
	for i, a := range atoms {
		out[i] = a.cloneAt(level)
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
