// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package rule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Error codes returned at ingestion.
const (
	CodeInvalid = "RULE_INVALID"
)

// Parse decodes a rule document in wire format and validates it. Unknown
// fields, null values, unknown enum values and structurally invalid trees are
// all rejected.
func Parse(data []byte) (Rule, error) {
	if err := ValidateDocument(data); err != nil {
		return Rule{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var r Rule
	if err := dec.Decode(&r); err != nil {
		return Rule{}, oops.Code(CodeInvalid).Wrapf(err, "decoding rule")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Rule{}, oops.Code(CodeInvalid).Errorf("trailing data after rule document")
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Marshal encodes the rule in wire format. A nil spec is written as an empty
// list so the document always carries both keys.
func Marshal(r Rule) ([]byte, error) {
	data, err := json.Marshal(r.normalized())
	if err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "encoding rule")
	}
	return data, nil
}

// MarshalJSON keeps "spec" a list even when empty.
func (r Rule) MarshalJSON() ([]byte, error) {
	type plain Rule
	return json.Marshal(plain(r.normalized()))
}

func (r Rule) normalized() Rule {
	if r.Spec == nil {
		r.Spec = []Atom{}
	}
	return r
}

// Validate checks the semantic invariants the JSON schema cannot express.
func (r Rule) Validate() error {
	if d := r.Depth(MaxDepth); d > MaxDepth {
		return oops.Code(CodeInvalid).
			With("max_depth", MaxDepth).
			Errorf("rule nests deeper than %d levels", MaxDepth)
	}
	return r.validate("")
}

func (r Rule) validate(path string) error {
	if !r.Mode.Valid() {
		return invalid(path+"mode", "unknown combinator %q", string(r.Mode))
	}
	for i, a := range r.Spec {
		if err := a.validate(fmt.Sprintf("%sspec[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (a Atom) validate(path string) error {
	if a.IsEmpty() {
		return invalid(path, "atom has no constraints")
	}
	if a.Member != nil && !isSnowflake(*a.Member) {
		return invalid(path+".member", "%q is not a snowflake", *a.Member)
	}
	if a.Role != nil && !isSnowflake(*a.Role) {
		return invalid(path+".role", "%q is not a snowflake", *a.Role)
	}
	if a.Crew != nil {
		if a.Crew.IsZero() {
			return invalid(path+".crew", "crew reference needs an id or a crewSf")
		}
		if a.Crew.ID != nil {
			parsed, err := uuid.Parse(*a.Crew.ID)
			if err != nil {
				return invalid(path+".crew.id", "%q is not a uuid", *a.Crew.ID)
			}
			// Crew ids are compared as strings, so only one spelling may exist.
			if parsed.String() != *a.Crew.ID {
				return invalid(path+".crew.id", "%q is not in canonical form, use %q", *a.Crew.ID, parsed.String())
			}
		}
		if a.Crew.CrewSF != nil && !isSnowflake(*a.Crew.CrewSF) {
			return invalid(path+".crew.crewSf", "%q is not a snowflake", *a.Crew.CrewSF)
		}
	}
	if a.CrewRole != nil {
		if !a.CrewRole.Valid() {
			return invalid(path+".crewRole", "unknown access level %d", int(*a.CrewRole))
		}
		if a.Crew == nil {
			return invalid(path+".crewRole", "crewRole requires a crew reference")
		}
	}
	if a.GuildAdmin != nil && !*a.GuildAdmin {
		return invalid(path+".guildAdmin", "guildAdmin must be true or omitted")
	}
	if a.Rule != nil {
		return a.Rule.validate(path + ".rule.")
	}
	return nil
}

func invalid(path, format string, args ...any) error {
	return oops.Code(CodeInvalid).
		With("path", strings.TrimSuffix(path, ".")).
		Errorf(format, args...)
}

// isSnowflake reports whether s is a non-empty decimal string that fits in 64 bits.
func isSnowflake(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
