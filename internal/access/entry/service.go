// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/crewkeeper/crewkeeper/internal/access/decision"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

// Service applies the entry lifecycle rules on top of a Store and GrantStore.
type Service struct {
	store  Store
	grants GrantStore
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service.
func NewService(store Store, grants GrantStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		grants: grants,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams describes a new entry.
type CreateParams struct {
	GuildID     string
	Description string
	Type        rule.Type
	Rule        rule.Rule
	UpdatedBy   string
}

// Create validates and persists a new entry.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Entry, error) {
	if err := validateEntryFields(p.GuildID, p.UpdatedBy, p.Type, p.Rule); err != nil {
		return nil, err
	}

	e := &Entry{
		GuildID:     p.GuildID,
		Description: strings.TrimSpace(p.Description),
		Type:        p.Type,
		Rule:        p.Rule.Clone(),
		UpdatedAt:   s.now(),
		UpdatedBy:   p.UpdatedBy,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, oops.With("operation", "create access entry").Wrap(err)
	}
	entryWrites.WithLabelValues("create").Inc()

	slog.InfoContext(ctx, "access entry created",
		"id", e.ID, "guild_id", e.GuildID, "type", e.Type, "updated_by", e.UpdatedBy)
	return e, nil
}

// UpdateParams describes a change to an entry's rule, type or description.
type UpdateParams struct {
	ID          string
	Description string
	Type        rule.Type
	Rule        rule.Rule
	UpdatedBy   string
}

// Update rewrites an active entry and stamps the audit fields.
func (s *Service) Update(ctx context.Context, p UpdateParams) (*Entry, error) {
	existing, err := s.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := validateEntryFields(existing.GuildID, p.UpdatedBy, p.Type, p.Rule); err != nil {
		return nil, err
	}

	existing.Description = strings.TrimSpace(p.Description)
	existing.Type = p.Type
	existing.Rule = p.Rule.Clone()
	existing.UpdatedAt = s.now()
	existing.UpdatedBy = p.UpdatedBy
	if err := s.store.Update(ctx, existing); err != nil {
		return nil, oops.With("operation", "update access entry").Wrap(err)
	}
	entryWrites.WithLabelValues("update").Inc()
	return existing, nil
}

// Get returns an entry by id, including soft-deleted entries.
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, oops.With("operation", "get access entry").Wrap(err)
	}
	return e, nil
}

// List returns the entries of one guild matching a free-text query.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	if opts.GuildID == "" {
		return nil, oops.Code(CodeInvalid).Errorf("guild id is required to list access entries")
	}
	entries, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, oops.With("operation", "list access entries").Wrap(err)
	}
	return entries, nil
}

// Test reports whether the active entry id permits evalCtx. Evaluation
// failures are returned as errors, never as a false result.
func (s *Service) Test(ctx context.Context, id string, evalCtx decision.Context) (bool, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return false, oops.With("operation", "test access entry").Wrap(err)
	}
	if e.IsDeleted() {
		return false, notFound(id)
	}

	start := time.Now()
	permitted, err := decision.FromEntry(e).Permit(evalCtx)
	recordEvaluation("entry", start, permitted, err)
	if err != nil {
		errutil.LogErrorContext(ctx, slog.Default(), "access entry evaluation failed", err)
		return false, oops.With("entry_id", id).Wrap(err)
	}
	return permitted, nil
}

// SoftDelete marks an entry deleted. It fails with ENTRY_REFERENCED while
// grants still point at the entry unless cascade is set.
func (s *Service) SoftDelete(ctx context.Context, id, by string, cascade bool) error {
	if by == "" {
		return oops.Code(CodeInvalid).Errorf("deleting member is required")
	}
	err := s.store.SoftDelete(ctx, DeleteParams{ID: id, By: by, At: s.now(), Cascade: cascade})
	if err != nil {
		return oops.With("operation", "delete access entry").Wrap(err)
	}
	entryWrites.WithLabelValues("delete").Inc()

	slog.InfoContext(ctx, "access entry deleted", "id", id, "deleted_by", by, "cascade", cascade)
	return nil
}

// GrantParams describes a new grant.
type GrantParams struct {
	Kind       GrantKind
	ResourceID string
	Action     string
	Level      rule.AccessLevel
	EntryID    string
}

// CreateGrant validates and persists a grant referencing an active entry.
func (s *Service) CreateGrant(ctx context.Context, p GrantParams) (*Grant, error) {
	if !p.Kind.ValidAction(p.Action) {
		return nil, oops.Code(CodeGrantInvalid).
			With("kind", p.Kind).With("action", p.Action).
			Errorf("action %q is not defined for %q grants", p.Action, p.Kind)
	}
	if p.ResourceID == "" {
		return nil, oops.Code(CodeGrantInvalid).Errorf("grant resource id is required")
	}
	if p.Kind == GrantCrew {
		// Memberships are matched on the crew id string.
		if id, err := uuid.Parse(p.ResourceID); err != nil || id.String() != p.ResourceID {
			return nil, oops.Code(CodeGrantInvalid).With("resource_id", p.ResourceID).
				Errorf("crew grants need a canonical crew UUID")
		}
	}
	if !p.Level.Valid() {
		return nil, oops.Code(CodeGrantInvalid).With("level", int(p.Level)).Errorf("unknown access level")
	}

	g := &Grant{
		Kind:       p.Kind,
		ResourceID: p.ResourceID,
		Action:     p.Action,
		Level:      p.Level,
		EntryID:    p.EntryID,
		CreatedAt:  s.now(),
	}
	if err := s.grants.CreateGrant(ctx, g); err != nil {
		return nil, oops.With("operation", "create grant").Wrap(err)
	}
	return g, nil
}

// Authorize reports whether evalCtx may perform action on a resource: some
// grant for that action must reference an active entry that permits evalCtx.
// On crew resources a principal who belongs to the crew must also hold at
// least the grant's level there; principals outside the crew are decided by
// the entry alone.
func (s *Service) Authorize(ctx context.Context, kind GrantKind, resourceID, action string, evalCtx decision.Context) (bool, error) {
	grants, err := s.grants.ListGrants(ctx, kind, resourceID)
	if err != nil {
		return false, oops.With("operation", "authorize").Wrap(err)
	}

	var membership *decision.CrewMembership
	if kind == GrantCrew {
		if m, ok := evalCtx.Membership(rule.CrewByID(resourceID)); ok {
			membership = &m
		}
	}

	start := time.Now()
	for _, g := range grants {
		if g.Action != action {
			continue
		}
		if membership != nil && !membership.AccessLevel.AtLeast(g.Level) {
			continue
		}
		e, err := s.store.Get(ctx, g.EntryID)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return false, oops.With("operation", "authorize").With("grant_id", g.ID).Wrap(err)
		}
		if e.IsDeleted() {
			continue
		}
		permitted, err := decision.FromEntry(e).Permit(evalCtx)
		if err != nil {
			recordEvaluation("grant", start, false, err)
			errutil.LogErrorContext(ctx, slog.Default(), "grant evaluation failed", err)
			return false, oops.With("grant_id", g.ID).With("entry_id", e.ID).Wrap(err)
		}
		if permitted {
			recordEvaluation("grant", start, true, nil)
			return true, nil
		}
	}
	recordEvaluation("grant", start, false, nil)
	return false, nil
}

func validateEntryFields(guildID, updatedBy string, typ rule.Type, r rule.Rule) error {
	if guildID == "" {
		return oops.Code(CodeInvalid).Errorf("guild id is required")
	}
	if updatedBy == "" {
		return oops.Code(CodeInvalid).Errorf("updating member is required")
	}
	if !typ.Valid() {
		return oops.Code(CodeInvalid).With("type", string(typ)).Errorf("unknown rule type %q", string(typ))
	}
	return r.Validate()
}
