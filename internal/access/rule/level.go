// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package rule

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// AccessLevel is a crew member's standing within a crew. Lower values are more
// privileged: an Owner is at least as privileged as an Admin.
type AccessLevel int

// AccessLevel constants, ordered from most to least privileged.
const (
	AccessLevelOwner AccessLevel = iota // OWNER
	AccessLevelAdmin                    // ADMIN
	AccessLevelMember                   // MEMBER
)

var accessLevelStrings = [...]string{
	"OWNER",
	"ADMIN",
	"MEMBER",
}

func (l AccessLevel) String() string {
	if l >= 0 && int(l) < len(accessLevelStrings) {
		return accessLevelStrings[l]
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

// Valid reports whether l is a known level.
func (l AccessLevel) Valid() bool {
	return l >= 0 && int(l) < len(accessLevelStrings)
}

// AtLeast reports whether l is as privileged as required or more.
func (l AccessLevel) AtLeast(required AccessLevel) bool {
	return l <= required
}

// ParseAccessLevel converts a wire string ("OWNER", "ADMIN", "MEMBER").
func ParseAccessLevel(s string) (AccessLevel, error) {
	for i, name := range accessLevelStrings {
		if name == s {
			return AccessLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown access level %q", s)
}

// Level returns a pointer to l, for building atoms inline.
func Level(l AccessLevel) *AccessLevel {
	return &l
}

// MarshalJSON encodes the level as its wire string.
func (l AccessLevel) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("cannot encode access level %d", int(l))
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes the wire string.
func (l *AccessLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("access level must be a string: %w", err)
	}
	parsed, err := ParseAccessLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// JSONSchema describes the wire form for schema generation.
func (AccessLevel) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []any{"OWNER", "ADMIN", "MEMBER"},
	}
}
