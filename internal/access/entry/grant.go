// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// GrantKind names the feature a grant belongs to.
type GrantKind string

// GrantKind constants.
const (
	GrantCrew      GrantKind = "crew"
	GrantGuild     GrantKind = "guild"
	GrantCounter   GrantKind = "counter"
	GrantStockpile GrantKind = "stockpile"
)

// grantActions lists the actions each kind of grant may gate.
var grantActions = map[GrantKind][]string{
	GrantCrew:      {"manage", "invite", "kick", "edit"},
	GrantGuild:     {"configure", "manage_rules", "manage_crews"},
	GrantCounter:   {"view", "increment", "reset"},
	GrantStockpile: {"view", "edit", "delete"},
}

// ValidAction reports whether action is defined for kind.
func (k GrantKind) ValidAction(action string) bool {
	return slices.Contains(grantActions[k], action)
}

// ParseGrantKind converts a string into a GrantKind.
func ParseGrantKind(s string) (GrantKind, error) {
	k := GrantKind(s)
	if _, ok := grantActions[k]; !ok {
		return "", fmt.Errorf("unknown grant kind %q", s)
	}
	return k, nil
}

// Grant confers an access level for one action on one resource to every
// principal the referenced entry permits.
type Grant struct {
	ID         string           `json:"id"`
	Kind       GrantKind        `json:"kind"`
	ResourceID string           `json:"resourceId"`
	Action     string           `json:"action"`
	Level      rule.AccessLevel `json:"level"`
	EntryID    string           `json:"entryId"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// GrantStore persists grants.
type GrantStore interface {
	CreateGrant(ctx context.Context, g *Grant) error
	ListGrants(ctx context.Context, kind GrantKind, resourceID string) ([]*Grant, error)
	CountGrantsByEntry(ctx context.Context, entryID string) (int, error)
}
