// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MemoryStore is an in-process Store and GrantStore. It backs tests and the
// server's --memory mode.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	grants  map[string]*Grant
}

// Compile-time checks.
var (
	_ Store      = (*MemoryStore)(nil)
	_ GrantStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		grants:  make(map[string]*Grant),
	}
}

// Create stores a copy of e under a fresh ULID.
func (s *MemoryStore) Create(_ context.Context, e *Entry) error {
	e.ID = ulid.Make().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e.Clone()
	return nil
}

// Get returns a copy of the entry, deleted or not.
func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, notFound(id)
	}
	return e.Clone(), nil
}

// Update replaces the mutable fields of an active entry.
func (s *MemoryStore) Update(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[e.ID]
	if !ok {
		return notFound(e.ID)
	}
	if existing.IsDeleted() {
		return oops.Code(CodeDeleted).With("id", e.ID).Errorf("access entry is deleted")
	}
	existing.Description = e.Description
	existing.Type = e.Type
	existing.Rule = e.Rule.Clone()
	existing.UpdatedAt = e.UpdatedAt
	existing.UpdatedBy = e.UpdatedBy
	return nil
}

// SoftDelete marks the entry deleted, refusing while grants reference it
// unless p.Cascade is set.
func (s *MemoryStore) SoftDelete(_ context.Context, p DeleteParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p.ID]
	if !ok || e.IsDeleted() {
		return notFound(p.ID)
	}

	var refs []string
	for id, g := range s.grants {
		if g.EntryID == p.ID {
			refs = append(refs, id)
		}
	}
	if len(refs) > 0 && !p.Cascade {
		return referenced(p.ID, len(refs))
	}
	for _, id := range refs {
		delete(s.grants, id)
	}

	at, by := p.At, p.By
	e.DeletedAt = &at
	e.DeletedBy = &by
	return nil
}

// List returns entries of one guild ordered by most recently updated.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Entry, error) {
	matcher, err := descriptionMatcher(opts.Query)
	if err != nil {
		return nil, oops.With("operation", "list entries").With("query", opts.Query).Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.GuildID != opts.GuildID {
			continue
		}
		if e.IsDeleted() && !opts.IncludeDeleted {
			continue
		}
		if !matcher.Match(strings.ToLower(e.Description)) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// descriptionMatcher builds a case-insensitive substring matcher; the query is
// matched literally.
func descriptionMatcher(query string) (glob.Glob, error) {
	return glob.Compile("*" + glob.QuoteMeta(strings.ToLower(query)) + "*")
}

// CreateGrant stores a grant for an active entry.
func (s *MemoryStore) CreateGrant(_ context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[g.EntryID]
	if !ok {
		return notFound(g.EntryID)
	}
	if e.IsDeleted() {
		return oops.Code(CodeDeleted).With("id", g.EntryID).Errorf("access entry is deleted")
	}
	g.ID = ulid.Make().String()
	stored := *g
	s.grants[g.ID] = &stored
	return nil
}

// ListGrants returns the grants on one resource ordered by id.
func (s *MemoryStore) ListGrants(_ context.Context, kind GrantKind, resourceID string) ([]*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Grant
	for _, g := range s.grants {
		if g.Kind == kind && g.ResourceID == resourceID {
			copied := *g
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountGrantsByEntry counts grants referencing an entry.
func (s *MemoryStore) CountGrantsByEntry(_ context.Context, entryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, g := range s.grants {
		if g.EntryID == entryID {
			n++
		}
	}
	return n, nil
}
