// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/internal/access/ruledsl"
	"github.com/crewkeeper/crewkeeper/internal/member"
	"github.com/crewkeeper/crewkeeper/internal/seed"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

const (
	guildID = "700000000000000001"
	adminID = "800000000000000001"
	crewID  = "0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09"
)

const validSeed = `
version: 1.2.0
entries:
  - key: crew-admins
    guild: "700000000000000001"
    description: Crew admins
    type: permit
    rule: anyOf(guildAdmin, crew(id=0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09) & crewRole(ADMIN))
    updated_by: "800000000000000009"
  - key: muted
    guild: "700000000000000001"
    description: Muted members
    type: deny
    rule: anyOf(role(300000000000000001))
grants:
  - kind: crew
    resource: 0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09
    action: manage
    level: ADMIN
    entry: crew-admins
members:
  - guild: "700000000000000001"
    member: "800000000000000001"
    roles: ["300000000000000002"]
    crews:
      - id: 0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09
        sf: "990000000000000001"
        level: ADMIN
`

func TestParse(t *testing.T) {
	plan, err := seed.Parse([]byte(validSeed))
	require.NoError(t, err)
	assert.Equal(t, seed.Counts{Entries: 2, Grants: 1, Members: 1}, plan.Counts())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantCode string
	}{
		{name: "empty", doc: "", wantCode: seed.CodeInvalid},
		{name: "bad yaml", doc: "version: [", wantCode: seed.CodeInvalid},
		{name: "no version", doc: "entries: []", wantCode: seed.CodeInvalid},
		{name: "not semver", doc: "version: latest", wantCode: seed.CodeInvalid},
		{name: "unsupported major", doc: "version: 2.0.0", wantCode: seed.CodeInvalid},
		{name: "pre-1.0", doc: "version: 0.9.0", wantCode: seed.CodeInvalid},
		{
			name:     "missing key",
			doc:      "version: 1.0.0\nentries:\n  - guild: \"1\"\n    type: permit\n    rule: anyOf()\n",
			wantCode: seed.CodeInvalid,
		},
		{
			name:     "duplicate key",
			doc:      "version: 1.0.0\nentries:\n  - {key: a, guild: \"1\", type: permit, rule: anyOf()}\n  - {key: a, guild: \"1\", type: permit, rule: anyOf()}\n",
			wantCode: seed.CodeInvalid,
		},
		{
			name:     "bad type",
			doc:      "version: 1.0.0\nentries:\n  - {key: a, guild: \"1\", type: maybe, rule: anyOf()}\n",
			wantCode: seed.CodeInvalid,
		},
		{
			name:     "rule syntax",
			doc:      "version: 1.0.0\nentries:\n  - {key: a, guild: \"1\", type: permit, rule: \"anyOf(\"}\n",
			wantCode: ruledsl.CodeSyntax,
		},
		{
			name:     "rule invalid",
			doc:      "version: 1.0.0\nentries:\n  - {key: a, guild: \"1\", type: permit, rule: \"anyOf(crewRole(ADMIN))\"}\n",
			wantCode: rule.CodeInvalid,
		},
		{
			name:     "grant to unknown key",
			doc:      "version: 1.0.0\ngrants:\n  - {kind: crew, resource: x, action: manage, level: ADMIN, entry: nope}\n",
			wantCode: seed.CodeInvalid,
		},
		{
			name:     "member crew not uuid",
			doc:      "version: 1.0.0\nmembers:\n  - {guild: \"1\", member: \"2\", crews: [{id: nope, level: ADMIN}]}\n",
			wantCode: seed.CodeInvalid,
		},
		{
			name:     "member bad level",
			doc:      "version: 1.0.0\nmembers:\n  - {guild: \"1\", member: \"2\", crews: [{id: " + crewID + ", level: CAPTAIN}]}\n",
			wantCode: seed.CodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := seed.Parse([]byte(tt.doc))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSeed), 0o600))

	plan, err := seed.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Counts().Entries)

	_, err = seed.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, seed.CodeInvalid)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := entry.NewMemoryStore()
	svc := entry.NewService(store, store)
	resolver := member.NewStaticResolver()

	plan, err := seed.Parse([]byte(validSeed))
	require.NoError(t, err)

	ids, err := plan.Apply(ctx, svc, resolver)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	admins, err := svc.Get(ctx, ids["crew-admins"])
	require.NoError(t, err)
	assert.Equal(t, "800000000000000009", admins.UpdatedBy)
	muted, err := svc.Get(ctx, ids["muted"])
	require.NoError(t, err)
	assert.Equal(t, seed.SystemActor, muted.UpdatedBy)
	assert.Equal(t, rule.TypeDeny, muted.Type)

	evalCtx, err := resolver.Resolve(ctx, guildID, adminID)
	require.NoError(t, err)

	permitted, err := svc.Test(ctx, ids["crew-admins"], evalCtx)
	require.NoError(t, err)
	assert.True(t, permitted)

	allowed, err := svc.Authorize(ctx, entry.GrantCrew, crewID, "manage", evalCtx)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestApply_CanonicalizesMemberCrewIDs(t *testing.T) {
	ctx := context.Background()
	store := entry.NewMemoryStore()
	svc := entry.NewService(store, store)
	resolver := member.NewStaticResolver()

	doc := strings.Replace(validSeed,
		"      - id: 0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09",
		"      - id: 0B7F4A9E-3C2D-4E1F-8A6B-5C4D3E2F1A09", 1)
	plan, err := seed.Parse([]byte(doc))
	require.NoError(t, err)

	ids, err := plan.Apply(ctx, svc, resolver)
	require.NoError(t, err)

	evalCtx, err := resolver.Resolve(ctx, guildID, adminID)
	require.NoError(t, err)
	require.Len(t, evalCtx.CrewMemberships, 1)
	assert.Equal(t, crewID, evalCtx.CrewMemberships[0].CrewID)

	permitted, err := svc.Test(ctx, ids["crew-admins"], evalCtx)
	require.NoError(t, err)
	assert.True(t, permitted)
}

func TestApply_MembersNeedWriter(t *testing.T) {
	store := entry.NewMemoryStore()
	svc := entry.NewService(store, store)

	plan, err := seed.Parse([]byte(validSeed))
	require.NoError(t, err)

	_, err = plan.Apply(context.Background(), svc, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, seed.CodeInvalid)
}
