// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package decision

import (
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// CrewMembership is one crew the principal belongs to.
type CrewMembership struct {
	CrewID      string // crew UUID
	CrewSF      string // crew snowflake; empty when the crew has none
	AccessLevel rule.AccessLevel
}

// Context is the set of facts a rule tree is evaluated against. It is assembled
// once per request by a resolver and never mutated during evaluation.
type Context struct {
	PrincipalID     string
	RoleIDs         map[string]struct{}
	CrewMemberships []CrewMembership
	IsGuildAdmin    bool
}

// NewContext builds a Context from a plain list of role ids.
func NewContext(principalID string, roleIDs []string, crews []CrewMembership, guildAdmin bool) Context {
	roles := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		roles[id] = struct{}{}
	}
	return Context{
		PrincipalID:     principalID,
		RoleIDs:         roles,
		CrewMemberships: crews,
		IsGuildAdmin:    guildAdmin,
	}
}

// HasRole reports whether the principal holds the role.
func (c Context) HasRole(id string) bool {
	_, ok := c.RoleIDs[id]
	return ok
}

// Membership returns the first membership matching ref.
func (c Context) Membership(ref rule.CrewRef) (CrewMembership, bool) {
	for _, m := range c.CrewMemberships {
		if ref.Matches(m.CrewID, m.CrewSF) {
			return m, true
		}
	}
	return CrewMembership{}, false
}

// hasCrewLevel reports whether some membership matching ref (any crew when ref
// is nil) is at least as privileged as required.
func (c Context) hasCrewLevel(ref *rule.CrewRef, required rule.AccessLevel) bool {
	for _, m := range c.CrewMemberships {
		if ref != nil && !ref.Matches(m.CrewID, m.CrewSF) {
			continue
		}
		if m.AccessLevel.AtLeast(required) {
			return true
		}
	}
	return false
}
