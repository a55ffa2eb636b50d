// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package seed loads YAML seed files describing access entries, grants and
// member profiles, and applies them to a running store.
//
// A seed file looks like:
//
//	version: 1.0.0
//	entries:
//	  - key: crew-admins
//	    guild: "700000000000000001"
//	    description: Crew admins
//	    type: permit
//	    rule: anyOf(guildAdmin, crew(id=0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09) & crewRole(ADMIN))
//	grants:
//	  - kind: crew
//	    resource: 0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09
//	    action: manage
//	    level: ADMIN
//	    entry: crew-admins
//	members:
//	  - guild: "700000000000000001"
//	    member: "800000000000000001"
//	    crews:
//	      - id: 0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09
//	        level: ADMIN
package seed

import (
	"context"
	"log/slog"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/crewkeeper/crewkeeper/internal/access/decision"
	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/internal/access/ruledsl"
	"github.com/crewkeeper/crewkeeper/internal/member"
)

// CodeInvalid is the oops code of malformed seed files.
const CodeInvalid = "SEED_INVALID"

// SupportedVersions is the constraint a seed file's version must satisfy.
const SupportedVersions = "^1"

// SystemActor is recorded as the author of seeded entries that name none.
const SystemActor = "0"

// File is a parsed seed file.
type File struct {
	Version string   `yaml:"version"`
	Entries []Entry  `yaml:"entries"`
	Grants  []Grant  `yaml:"grants"`
	Members []Member `yaml:"members"`
}

// Entry seeds one access entry. Key names it within the file so grants can
// refer to it; the stored entry gets a fresh id.
type Entry struct {
	Key         string `yaml:"key"`
	Guild       string `yaml:"guild"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Rule        string `yaml:"rule"`
	UpdatedBy   string `yaml:"updated_by"`
}

// Grant seeds one grant referencing an entry by key.
type Grant struct {
	Kind     string `yaml:"kind"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
	Level    string `yaml:"level"`
	Entry    string `yaml:"entry"`
}

// Member seeds one member profile.
type Member struct {
	Guild      string   `yaml:"guild"`
	Member     string   `yaml:"member"`
	Roles      []string `yaml:"roles"`
	GuildAdmin bool     `yaml:"guild_admin"`
	Crews      []Crew   `yaml:"crews"`
}

// Crew is one crew membership of a seeded member.
type Crew struct {
	ID    string `yaml:"id"`
	SF    string `yaml:"sf"`
	Level string `yaml:"level"`
}

// parsedEntry is an Entry whose rule and type have been checked.
type parsedEntry struct {
	Entry
	typ  rule.Type
	rule rule.Rule
}

// Plan is a validated seed file ready to apply.
type Plan struct {
	entries []parsedEntry
	grants  []entry.GrantParams
	// grantKeys holds the entry key of each grant, by index.
	grantKeys []string
	members   []Member
	profiles  []member.Profile
}

// Counts reports how much a plan holds.
type Counts struct {
	Entries int
	Grants  int
	Members int
}

// Counts returns the number of entries, grants and members in the plan.
func (p *Plan) Counts() Counts {
	return Counts{Entries: len(p.entries), Grants: len(p.grants), Members: len(p.profiles)}
}

// LoadFile reads and parses the seed file at path.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "reading seed file")
	}
	plan, err := Parse(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return plan, nil
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*Plan, error) {
	if len(data) == 0 {
		return nil, oops.Code(CodeInvalid).Errorf("seed data is empty")
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "invalid YAML")
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	return f.plan()
}

func checkVersion(version string) error {
	if version == "" {
		return oops.Code(CodeInvalid).Errorf("version is required")
	}
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return oops.Code(CodeInvalid).With("version", version).Wrapf(err, "version is not semver")
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return oops.Wrap(err)
	}
	if !constraint.Check(v) {
		return oops.Code(CodeInvalid).With("version", version).With("supported", SupportedVersions).
			Errorf("seed file version %s is not supported", version)
	}
	return nil
}

func (f *File) plan() (*Plan, error) {
	p := &Plan{}
	keys := make(map[string]struct{}, len(f.Entries))

	for i, e := range f.Entries {
		errb := oops.Code(CodeInvalid).With("entry", i).With("key", e.Key)
		if e.Key == "" {
			return nil, errb.Errorf("entry key is required")
		}
		if _, dup := keys[e.Key]; dup {
			return nil, errb.Errorf("duplicate entry key %q", e.Key)
		}
		keys[e.Key] = struct{}{}
		if e.Guild == "" {
			return nil, errb.Errorf("entry guild is required")
		}

		typ, err := rule.ParseType(e.Type)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		r, err := ruledsl.Parse(e.Rule)
		if err != nil {
			return nil, oops.With("entry", i).With("key", e.Key).Wrap(err)
		}
		if e.UpdatedBy == "" {
			e.UpdatedBy = SystemActor
		}
		p.entries = append(p.entries, parsedEntry{Entry: e, typ: typ, rule: r})
	}

	for i, g := range f.Grants {
		errb := oops.Code(CodeInvalid).With("grant", i)
		if _, ok := keys[g.Entry]; !ok {
			return nil, errb.With("entry", g.Entry).Errorf("grant refers to unknown entry key %q", g.Entry)
		}
		kind, err := entry.ParseGrantKind(g.Kind)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		level, err := rule.ParseAccessLevel(g.Level)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		p.grants = append(p.grants, entry.GrantParams{
			Kind:       kind,
			ResourceID: g.Resource,
			Action:     g.Action,
			Level:      level,
		})
		p.grantKeys = append(p.grantKeys, g.Entry)
	}

	for i, m := range f.Members {
		errb := oops.Code(CodeInvalid).With("member", i)
		if m.Guild == "" || m.Member == "" {
			return nil, errb.Errorf("member guild and id are required")
		}
		profile := member.Profile{RoleIDs: m.Roles, GuildAdmin: m.GuildAdmin}
		for _, c := range m.Crews {
			crewID, err := uuid.Parse(c.ID)
			if err != nil {
				return nil, errb.With("crew", c.ID).Wrapf(err, "crew id must be a UUID")
			}
			level, err := rule.ParseAccessLevel(c.Level)
			if err != nil {
				return nil, errb.With("crew", c.ID).Wrap(err)
			}
			profile.Crews = append(profile.Crews, decision.CrewMembership{CrewID: crewID.String(), CrewSF: c.SF, AccessLevel: level})
		}
		p.members = append(p.members, m)
		p.profiles = append(p.profiles, profile)
	}
	return p, nil
}

// Apply creates the plan's entries, then its grants, then writes member
// profiles. profiles may be nil when the plan holds no members. It returns
// the ids assigned to each entry key.
func (p *Plan) Apply(ctx context.Context, svc *entry.Service, profiles member.ProfileWriter) (map[string]string, error) {
	ids := make(map[string]string, len(p.entries))
	for _, e := range p.entries {
		created, err := svc.Create(ctx, entry.CreateParams{
			GuildID:     e.Guild,
			Description: e.Description,
			Type:        e.typ,
			Rule:        e.rule,
			UpdatedBy:   e.UpdatedBy,
		})
		if err != nil {
			return ids, oops.With("key", e.Key).Wrap(err)
		}
		ids[e.Key] = created.ID
	}

	for i, g := range p.grants {
		g.EntryID = ids[p.grantKeys[i]]
		if _, err := svc.CreateGrant(ctx, g); err != nil {
			return ids, oops.With("grant", i).Wrap(err)
		}
	}

	if len(p.profiles) > 0 && profiles == nil {
		return ids, oops.Code(CodeInvalid).Errorf("seed file has members but no profile writer is configured")
	}
	for i, m := range p.members {
		if err := profiles.SaveProfile(ctx, m.Guild, m.Member, p.profiles[i]); err != nil {
			return ids, oops.With("member", m.Member).Wrap(err)
		}
	}

	slog.InfoContext(ctx, "seed applied",
		"entries", len(p.entries), "grants", len(p.grants), "members", len(p.profiles))
	return ids, nil
}
