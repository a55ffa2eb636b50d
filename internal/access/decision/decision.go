// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package decision evaluates rule trees against a per-request Context.
//
// Evaluation is pure: it performs no I/O, touches no shared mutable state and
// is safe to run concurrently over the same Decision. The only failure is a
// depth-guard trip on a pathological tree, reported as an *EvaluationError and
// never as a deny.
package decision

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// CodeDepthExceeded is the oops code of evaluation depth failures.
const CodeDepthExceeded = "EVALUATION_DEPTH_EXCEEDED"

// EvaluationError reports a rule tree that could not be evaluated. It signals a
// data or engine defect, not an authorization outcome.
type EvaluationError struct {
	Depth int
	Limit int
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule tree depth %d exceeds limit %d", e.Depth, e.Limit)
}

// IsEvaluationError reports whether err wraps an *EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}

// Source is anything that carries a persisted rule, such as an access entry.
type Source interface {
	RuleType() rule.Type
	RuleTree() rule.Rule
}

// Decision pairs a rule type with a rule tree. It is immutable once built.
type Decision struct {
	typ   rule.Type
	rule  rule.Rule
	depth int
}

// New creates a Decision from a deep copy of r.
func New(typ rule.Type, r rule.Rule) Decision {
	cloned := r.Clone()
	return Decision{
		typ:   typ,
		rule:  cloned,
		depth: cloned.Depth(rule.MaxDepth),
	}
}

// FromEntry lifts a persisted rule into an evaluable Decision.
func FromEntry(src Source) Decision {
	return New(src.RuleType(), src.RuleTree())
}

// Type returns the decision's polarity.
func (d Decision) Type() rule.Type {
	return d.typ
}

// Rule returns a copy of the decision's rule tree.
func (d Decision) Rule() rule.Rule {
	return d.rule.Clone()
}

// Test evaluates the rule tree against ctx, ignoring the decision's type.
func (d Decision) Test(ctx Context) (bool, error) {
	if d.depth > rule.MaxDepth {
		return false, oops.Code(CodeDepthExceeded).
			With("max_depth", rule.MaxDepth).
			Wrap(&EvaluationError{Depth: d.depth, Limit: rule.MaxDepth})
	}
	return evalRule(&d.rule, ctx), nil
}

// Permit reports whether this is a permit decision whose rule matches ctx.
func (d Decision) Permit(ctx Context) (bool, error) {
	matched, err := d.Test(ctx)
	if err != nil {
		return false, err
	}
	return d.typ == rule.TypePermit && matched, nil
}

// Deny reports whether ctx is denied. A permit decision that does not match
// denies; a deny decision always denies, whether or not it matches.
func (d Decision) Deny(ctx Context) (bool, error) {
	matched, err := d.Test(ctx)
	if err != nil {
		return false, err
	}
	return (d.typ == rule.TypeDeny && matched) || !matched, nil
}

func evalRule(r *rule.Rule, ctx Context) bool {
	switch r.Mode {
	case rule.ModeAll:
		for i := range r.Spec {
			if !evalAtom(&r.Spec[i], ctx) {
				return false
			}
		}
		return true
	case rule.ModeAny:
		for i := range r.Spec {
			if evalAtom(&r.Spec[i], ctx) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// evalAtom is the conjunction of every present field. An atom with no fields
// is vacuously true.
func evalAtom(a *rule.Atom, ctx Context) bool {
	if a.Member != nil && ctx.PrincipalID != *a.Member {
		return false
	}
	if a.Role != nil && !ctx.HasRole(*a.Role) {
		return false
	}
	if a.Crew != nil {
		if _, ok := ctx.Membership(*a.Crew); !ok {
			return false
		}
	}
	if a.GuildAdmin != nil && *a.GuildAdmin && !ctx.IsGuildAdmin {
		return false
	}
	if a.CrewRole != nil && !ctx.hasCrewLevel(a.Crew, *a.CrewRole) {
		return false
	}
	if a.Rule != nil && !evalRule(a.Rule, ctx) {
		return false
	}
	return true
}
