// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package member

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/crewkeeper/crewkeeper/internal/access/decision"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// Querier is the subset of pgxpool.Pool the resolver reads through.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresResolver reads member facts from the member_roles, crew_members and
// guild_admins tables. Transient database failures are retried.
type PostgresResolver struct {
	db      Querier
	backoff func() retry.Backoff
}

var _ Resolver = (*PostgresResolver)(nil)

// ResolverOption configures a PostgresResolver.
type ResolverOption func(*PostgresResolver)

// WithRetry sets the attempt count and base delay for transient failures.
func WithRetry(attempts uint64, base time.Duration) ResolverOption {
	return func(r *PostgresResolver) {
		r.backoff = backoffFunc(attempts, base)
	}
}

func backoffFunc(attempts uint64, base time.Duration) func() retry.Backoff {
	if attempts == 0 {
		attempts = 1
	}
	return func() retry.Backoff {
		return retry.WithMaxRetries(attempts-1, retry.NewExponential(max(base, time.Millisecond)))
	}
}

// NewPostgresResolver creates a resolver. By default a query is tried three
// times, starting at a 50ms delay.
func NewPostgresResolver(db Querier, opts ...ResolverOption) *PostgresResolver {
	r := &PostgresResolver{db: db, backoff: backoffFunc(3, 50*time.Millisecond)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve implements Resolver.
func (r *PostgresResolver) Resolve(ctx context.Context, guildID, memberID string) (decision.Context, error) {
	var (
		admin bool
		roles []string
		crews []decision.CrewMembership
	)
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		var err error
		if admin, err = r.isGuildAdmin(ctx, guildID, memberID); err != nil {
			return classify(err)
		}
		if roles, err = r.roles(ctx, guildID, memberID); err != nil {
			return classify(err)
		}
		if crews, err = r.crews(ctx, guildID, memberID); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return decision.Context{}, oops.Code(CodeResolveFailed).
			With("guild_id", guildID).With("member_id", memberID).
			Wrap(err)
	}
	return decision.NewContext(memberID, roles, crews, admin), nil
}

func (r *PostgresResolver) isGuildAdmin(ctx context.Context, guildID, memberID string) (bool, error) {
	var admin bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guild_admins WHERE guild_id = $1 AND member_id = $2)`,
		guildID, memberID,
	).Scan(&admin)
	return admin, err
}

func (r *PostgresResolver) roles(ctx context.Context, guildID, memberID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT role_id FROM member_roles WHERE guild_id = $1 AND member_id = $2`,
		guildID, memberID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PostgresResolver) crews(ctx context.Context, guildID, memberID string) ([]decision.CrewMembership, error) {
	rows, err := r.db.Query(ctx, `
		SELECT crew_id::text, COALESCE(crew_sf, ''), access_level
		FROM crew_members WHERE guild_id = $1 AND member_id = $2
		ORDER BY crew_id
	`, guildID, memberID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (decision.CrewMembership, error) {
		var m decision.CrewMembership
		var level string
		if err := row.Scan(&m.CrewID, &m.CrewSF, &level); err != nil {
			return m, err
		}
		parsed, err := rule.ParseAccessLevel(level)
		if err != nil {
			return m, err
		}
		m.AccessLevel = parsed
		return m, nil
	})
}

// classify marks errors worth another attempt as retryable.
func classify(err error) error {
	if isTransient(err) {
		return retry.RetryableError(err)
	}
	return err
}

func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	return false
}
