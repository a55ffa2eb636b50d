// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package decision

import (
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// Builder assembles ad hoc rule trees for call sites that do not load a
// persisted entry. It defaults to a permit decision over an anyOf rule.
// A Builder is not safe for concurrent use; the Decisions it builds are.
type Builder struct {
	typ   rule.Type
	mode  rule.Mode
	atoms []rule.Atom
}

// NewBuilder returns a Builder with the default permit/anyOf settings.
func NewBuilder() *Builder {
	return &Builder{typ: rule.TypePermit, mode: rule.ModeAny}
}

// SetType overrides the decision type.
func (b *Builder) SetType(t rule.Type) *Builder {
	b.typ = t
	return b
}

// SetMode overrides the combinator.
func (b *Builder) SetMode(m rule.Mode) *Builder {
	b.mode = m
	return b
}

// AddAtom appends an atom.
func (b *Builder) AddAtom(a rule.Atom) *Builder {
	b.atoms = append(b.atoms, a.Clone())
	return b
}

// SpliceAtoms removes deleteCount atoms starting at start and inserts atoms in
// their place. A negative start counts back from the end; out-of-range values
// are clamped.
func (b *Builder) SpliceAtoms(start, deleteCount int, atoms ...rule.Atom) *Builder {
	n := len(b.atoms)
	switch {
	case start < 0:
		start = max(n+start, 0)
	case start > n:
		start = n
	}
	deleteCount = min(max(deleteCount, 0), n-start)

	inserted := make([]rule.Atom, len(atoms))
	for i, a := range atoms {
		inserted[i] = a.Clone()
	}

	next := make([]rule.Atom, 0, n-deleteCount+len(inserted))
	next = append(next, b.atoms[:start]...)
	next = append(next, inserted...)
	next = append(next, b.atoms[start+deleteCount:]...)
	b.atoms = next
	return b
}

// Len returns the number of atoms added so far.
func (b *Builder) Len() int {
	return len(b.atoms)
}

// Build snapshots the builder into an immutable Decision. Later changes to the
// builder do not affect decisions already built.
func (b *Builder) Build() Decision {
	return New(b.typ, rule.Rule{Mode: b.mode, Spec: b.atoms})
}

// GuildAdmin returns an atom requiring the guild-admin flag.
func GuildAdmin() rule.Atom {
	admin := true
	return rule.Atom{GuildAdmin: &admin}
}

// Member returns an atom matching one principal.
func Member(id string) rule.Atom {
	return rule.Atom{Member: &id}
}

// Role returns an atom requiring a role.
func Role(id string) rule.Atom {
	return rule.Atom{Role: &id}
}

// Crew returns an atom requiring membership in a crew at any level.
func Crew(ref rule.CrewRef) rule.Atom {
	return rule.Atom{Crew: &ref}
}

// CrewRole returns an atom requiring membership in a crew at level or above.
func CrewRole(ref rule.CrewRef, level rule.AccessLevel) rule.Atom {
	return rule.Atom{Crew: &ref, CrewRole: &level}
}

// Nested returns an atom embedding a whole rule.
func Nested(r rule.Rule) rule.Atom {
	return rule.Atom{Rule: &r}
}
