// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package member resolves who a caller is within a guild: their roles, crew
// memberships and admin flag, as an evaluation context.
package member

import (
	"context"
	"slices"
	"sync"

	"github.com/crewkeeper/crewkeeper/internal/access/decision"
)

// CodeResolveFailed is the oops code of resolution failures.
const CodeResolveFailed = "MEMBER_RESOLVE_FAILED"

// Resolver builds the evaluation context of a guild member. A member the
// resolver knows nothing about resolves to a context holding only their id.
type Resolver interface {
	Resolve(ctx context.Context, guildID, memberID string) (decision.Context, error)
}

// Profile is what a StaticResolver knows about one member.
type Profile struct {
	RoleIDs    []string
	Crews      []decision.CrewMembership
	GuildAdmin bool
}

type memberKey struct {
	guildID, memberID string
}

// StaticResolver serves contexts from memory. It backs tests and the
// server's --memory mode, where seed files populate it.
type StaticResolver struct {
	mu       sync.RWMutex
	profiles map[memberKey]Profile
}

var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver creates an empty StaticResolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{profiles: make(map[memberKey]Profile)}
}

// Put records the profile of a member, replacing any previous one.
func (r *StaticResolver) Put(guildID, memberID string, p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[memberKey{guildID, memberID}] = Profile{
		RoleIDs:    append([]string(nil), p.RoleIDs...),
		Crews:      append([]decision.CrewMembership(nil), p.Crews...),
		GuildAdmin: p.GuildAdmin,
	}
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, guildID, memberID string) (decision.Context, error) {
	r.mu.RLock()
	p := r.profiles[memberKey{guildID, memberID}]
	r.mu.RUnlock()
	return decision.NewContext(memberID, p.RoleIDs, slices.Clone(p.Crews), p.GuildAdmin), nil
}
