// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package entry manages access entries: named, guild-scoped rules that feature
// grants reference by id. Entries are soft-deleted and never physically
// removed while anything may still point at them.
package entry

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/crewkeeper/crewkeeper/internal/access/decision"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

// Error codes returned by stores and the service.
const (
	CodeNotFound     = "ENTRY_NOT_FOUND"
	CodeReferenced   = "ENTRY_REFERENCED"
	CodeDeleted      = "ENTRY_DELETED"
	CodeInvalid      = "ENTRY_INVALID"
	CodeGrantInvalid = "GRANT_INVALID"
)

// Entry is the persisted form of a rule.
type Entry struct {
	ID          string     `json:"id"`
	GuildID     string     `json:"guildId"`
	Description string     `json:"description"`
	Type        rule.Type  `json:"type"`
	Rule        rule.Rule  `json:"rule"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	UpdatedBy   string     `json:"updatedBy"`
	DeletedAt   *time.Time `json:"deletedAt"`
	DeletedBy   *string    `json:"deletedBy"`
}

// Compile-time check that Entry can be lifted into a decision.
var _ decision.Source = (*Entry)(nil)

// RuleType implements decision.Source.
func (e *Entry) RuleType() rule.Type {
	return e.Type
}

// RuleTree implements decision.Source.
func (e *Entry) RuleTree() rule.Rule {
	return e.Rule
}

// IsDeleted reports whether the entry has been soft-deleted.
func (e *Entry) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	out := *e
	out.Rule = e.Rule.Clone()
	if e.DeletedAt != nil {
		at := *e.DeletedAt
		out.DeletedAt = &at
	}
	if e.DeletedBy != nil {
		by := *e.DeletedBy
		out.DeletedBy = &by
	}
	return &out
}

// ListOptions filters entry listings.
type ListOptions struct {
	GuildID        string // required
	Query          string // case-insensitive substring of the description; empty matches all
	IncludeDeleted bool
}

// DeleteParams describes a soft delete.
type DeleteParams struct {
	ID      string
	By      string
	At      time.Time
	Cascade bool // remove referencing grants instead of rejecting the delete
}

// Store persists entries.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	SoftDelete(ctx context.Context, p DeleteParams) error
	List(ctx context.Context, opts ListOptions) ([]*Entry, error)
}

// IsNotFound returns true if err is an ENTRY_NOT_FOUND error.
func IsNotFound(err error) bool {
	return errutil.HasCode(err, CodeNotFound)
}

// IsReferenced returns true if err is an ENTRY_REFERENCED error.
func IsReferenced(err error) bool {
	return errutil.HasCode(err, CodeReferenced)
}

func notFound(id string) error {
	return oops.Code(CodeNotFound).With("id", id).Errorf("access entry not found")
}

func referenced(id string, grants int) error {
	return oops.Code(CodeReferenced).
		With("id", id).With("grants", grants).
		Errorf("access entry is still referenced by %d grant(s)", grants)
}
