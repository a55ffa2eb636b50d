// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/internal/access/ruledsl"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

const seedDoc = `
version: 1.0.0
entries:
  - key: crew-admins
    guild: "700000000000000001"
    description: Crew admins
    type: permit
    rule: anyOf(guildAdmin, crew(id=0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09) & crewRole(ADMIN))
  - key: quartermasters
    guild: "700000000000000001"
    description: Quartermasters
    type: permit
    rule: allOf(role(300000000000000001))
  - key: elsewhere
    guild: "700000000000000002"
    description: Crew admins elsewhere
    type: permit
    rule: anyOf(guildAdmin)
members:
  - guild: "700000000000000001"
    member: "800000000000000001"
    guild_admin: true
`

func memoryArgs(t *testing.T, args ...string) []string {
	t.Helper()
	return append(args, "--memory", "--seed-file", writeFile(t, "seed.yaml", seedDoc), "--log-level", "error")
}

func TestRuleCreate(t *testing.T) {
	stdout, _, err := execute(t, nil, memoryArgs(t, "rule", "create",
		"--guild", "700000000000000001", "--by", "800000000000000001",
		"--description", "Officers", "anyOf(crew(sf=990000000000000001) & crewRole(OWNER))")...)
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(stdout), 26, "prints the new ULID")
}

func TestRuleCreate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{name: "syntax", args: []string{"--by", "1", "anyOf("}, wantCode: ruledsl.CodeSyntax},
		{name: "invalid rule", args: []string{"--by", "1", "anyOf(crewRole(ADMIN))"}, wantCode: rule.CodeInvalid},
		{name: "bad type", args: []string{"--by", "1", "--type", "maybe", "anyOf()"}, wantCode: entry.CodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"rule", "create", "--guild", "7"}, tt.args...)
			_, _, err := execute(t, nil, memoryArgs(t, args...)...)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}

	t.Run("missing required flag", func(t *testing.T) {
		_, _, err := execute(t, nil, memoryArgs(t, "rule", "create", "--guild", "7", "anyOf()")...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "by")
	})
}

func TestRuleList(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name:    "whole guild",
			args:    []string{"--guild", "700000000000000001"},
			want:    []string{"Crew admins", "Quartermasters", "crewRole(ADMIN)", "allOf(role(300000000000000001))"},
			notWant: []string{"elsewhere"},
		},
		{
			name:    "query",
			args:    []string{"--guild", "700000000000000001", "-q", "quarter"},
			want:    []string{"Quartermasters"},
			notWant: []string{"Crew admins"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, nil, memoryArgs(t, append([]string{"rule", "list"}, tt.args...)...)...)
			require.NoError(t, err)
			assert.Contains(t, stdout, "DESCRIPTION")
			for _, w := range tt.want {
				assert.Contains(t, stdout, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, stdout, w)
			}
		})
	}
}

func TestRuleTest_UnknownEntry(t *testing.T) {
	_, _, err := execute(t, nil, memoryArgs(t, "rule", "test", "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		"--guild", "700000000000000001", "--member", "800000000000000001")...)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, entry.CodeNotFound)
}

func TestRuleShowAndDelete_UnknownEntry(t *testing.T) {
	_, _, err := execute(t, nil, memoryArgs(t, "rule", "show", "01HZZZZZZZZZZZZZZZZZZZZZZZ")...)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, entry.CodeNotFound)

	_, _, err = execute(t, nil, memoryArgs(t, "rule", "delete", "01HZZZZZZZZZZZZZZZZZZZZZZZ", "--by", "1")...)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, entry.CodeNotFound)
}

func TestFormatRule(t *testing.T) {
	r := rule.AnyOf(rule.Atom{GuildAdmin: ptr(true)})
	assert.Equal(t, "anyOf(guildAdmin)", formatRule(r))

	// crewRole without crew cannot be ingested, so it has no text form.
	invalid := rule.AnyOf(rule.Atom{CrewRole: rule.Level(rule.AccessLevelAdmin)})
	text := formatRule(invalid)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	assert.Equal(t, "anyOf", decoded["mode"])
}

func ptr[T any](v T) *T { return &v }
