// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package ruledsl

import (
	"strings"

	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// Format prints r in canonical text form. Parse(Format(r)) yields a rule equal
// to r. Only valid rules have a text form, so r is validated first.
func Format(r rule.Rule) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	writeRule(&sb, &r)
	return sb.String(), nil
}

func writeRule(sb *strings.Builder, r *rule.Rule) {
	sb.WriteString(string(r.Mode))
	sb.WriteByte('(')
	for i := range r.Spec {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeAtom(sb, &r.Spec[i])
	}
	sb.WriteByte(')')
}

// writeAtom prints terms in a fixed order so the output is canonical.
func writeAtom(sb *strings.Builder, a *rule.Atom) {
	var terms []string
	if a.Member != nil {
		terms = append(terms, "member("+*a.Member+")")
	}
	if a.Role != nil {
		terms = append(terms, "role("+*a.Role+")")
	}
	if a.Crew != nil {
		var args []string
		if a.Crew.ID != nil {
			args = append(args, "id="+*a.Crew.ID)
		}
		if a.Crew.CrewSF != nil {
			args = append(args, "sf="+*a.Crew.CrewSF)
		}
		terms = append(terms, "crew("+strings.Join(args, ", ")+")")
	}
	if a.CrewRole != nil {
		terms = append(terms, "crewRole("+a.CrewRole.String()+")")
	}
	if a.GuildAdmin != nil && *a.GuildAdmin {
		terms = append(terms, "guildAdmin")
	}
	sb.WriteString(strings.Join(terms, " & "))
	if a.Rule != nil {
		if len(terms) > 0 {
			sb.WriteString(" & ")
		}
		writeRule(sb, a.Rule)
	}
}
