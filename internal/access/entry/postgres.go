// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/crewkeeper/crewkeeper/internal/access/rule"
)

// NotifyChannel is the LISTEN/NOTIFY channel every entry write notifies.
const NotifyChannel = "access_entry_changed"

// Pool is the subset of pgxpool.Pool used by the store. pgxmock satisfies it.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store and GrantStore using PostgreSQL.
type PostgresStore struct {
	pool Pool
}

// Compile-time checks.
var (
	_ Store      = (*PostgresStore)(nil)
	_ GrantStore = (*PostgresStore)(nil)
)

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// entryColumns is the shared column list for SELECT queries.
const entryColumns = `id, guild_id, description, type, rule, updated_at, updated_by, deleted_at, deleted_by`

// scanEntry scans a row into an Entry.
func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var typ string
	var doc []byte
	err := row.Scan(&e.ID, &e.GuildID, &e.Description, &typ, &doc,
		&e.UpdatedAt, &e.UpdatedBy, &e.DeletedAt, &e.DeletedBy)
	if err != nil {
		return nil, fmt.Errorf("scanning access entry row: %w", err)
	}
	e.Type = rule.Type(typ)
	if err := json.Unmarshal(doc, &e.Rule); err != nil {
		return nil, fmt.Errorf("decoding rule of access entry %s: %w", e.ID, err)
	}
	return &e, nil
}

// Create inserts a new entry, generating a ULID for its ID.
func (s *PostgresStore) Create(ctx context.Context, e *Entry) error {
	doc, err := rule.Marshal(e.Rule)
	if err != nil {
		return oops.Code("ENTRY_CREATE_FAILED").With("guild_id", e.GuildID).Wrap(err)
	}
	id := ulid.Make().String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("ENTRY_CREATE_FAILED").With("guild_id", e.GuildID).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO access_entries (id, guild_id, description, type, rule, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, e.GuildID, e.Description, string(e.Type), doc, e.UpdatedAt, e.UpdatedBy)
	if err != nil {
		return oops.Code("ENTRY_CREATE_FAILED").With("guild_id", e.GuildID).Wrap(err)
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id); err != nil {
		return oops.Code("ENTRY_CREATE_FAILED").With("guild_id", e.GuildID).With("operation", "notify").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("ENTRY_CREATE_FAILED").With("guild_id", e.GuildID).With("operation", "commit").Wrap(err)
	}

	e.ID = id
	return nil
}

// Get retrieves an entry by ID, including soft-deleted entries.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM access_entries WHERE id = $1`, entryColumns), id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, oops.With("operation", "get access entry").With("id", id).Wrap(err)
	}
	return e, nil
}

// Update rewrites the description, type and rule of an active entry.
func (s *PostgresStore) Update(ctx context.Context, e *Entry) error {
	doc, err := rule.Marshal(e.Rule)
	if err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").With("id", e.ID).Wrap(err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").With("id", e.ID).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT deleted_at IS NOT NULL FROM access_entries WHERE id = $1 FOR UPDATE`, e.ID,
	).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(e.ID)
	}
	if err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").With("id", e.ID).Wrap(err)
	}
	if deleted {
		return oops.Code(CodeDeleted).With("id", e.ID).Errorf("access entry is deleted")
	}

	_, err = tx.Exec(ctx, `
		UPDATE access_entries
		SET description = $2, type = $3, rule = $4, updated_at = $5, updated_by = $6
		WHERE id = $1
	`, e.ID, e.Description, string(e.Type), doc, e.UpdatedAt, e.UpdatedBy)
	if err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").With("id", e.ID).Wrap(err)
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, e.ID); err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").With("id", e.ID).With("operation", "notify").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("ENTRY_UPDATE_FAILED").With("id", e.ID).With("operation", "commit").Wrap(err)
	}
	return nil
}

// SoftDelete marks an active entry deleted. Referencing grants make the delete
// fail unless p.Cascade is set, in which case they are removed in the same
// transaction.
func (s *PostgresStore) SoftDelete(ctx context.Context, p DeleteParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("ENTRY_DELETE_FAILED").With("id", p.ID).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT deleted_at IS NOT NULL FROM access_entries WHERE id = $1 FOR UPDATE`, p.ID,
	).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && deleted) {
		return notFound(p.ID)
	}
	if err != nil {
		return oops.Code("ENTRY_DELETE_FAILED").With("id", p.ID).Wrap(err)
	}

	var refs int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM access_grants WHERE entry_id = $1`, p.ID).Scan(&refs)
	if err != nil {
		return oops.Code("ENTRY_DELETE_FAILED").With("id", p.ID).With("operation", "count grants").Wrap(err)
	}
	if refs > 0 {
		if !p.Cascade {
			return referenced(p.ID, refs)
		}
		if _, err = tx.Exec(ctx, `DELETE FROM access_grants WHERE entry_id = $1`, p.ID); err != nil {
			return oops.Code("ENTRY_DELETE_FAILED").With("id", p.ID).With("operation", "cascade grants").Wrap(err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE access_entries SET deleted_at = $2, deleted_by = $3 WHERE id = $1`,
		p.ID, p.At, p.By)
	if err != nil {
		return oops.Code("ENTRY_DELETE_FAILED").With("id", p.ID).Wrap(err)
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, p.ID); err != nil {
		return oops.Code("ENTRY_DELETE_FAILED").With("id", p.ID).With("operation", "notify").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("ENTRY_DELETE_FAILED").With("id", p.ID).With("operation", "commit").Wrap(err)
	}
	return nil
}

// likeEscaper escapes LIKE metacharacters so queries match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// List returns entries of one guild ordered by most recently updated.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	where := []string{"guild_id = $1"}
	args := []any{opts.GuildID}

	if opts.Query != "" {
		args = append(args, "%"+likeEscaper.Replace(opts.Query)+"%")
		where = append(where, fmt.Sprintf("description ILIKE $%d", len(args)))
	}
	if !opts.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}

	query := fmt.Sprintf("SELECT %s FROM access_entries WHERE %s ORDER BY updated_at DESC, id DESC",
		entryColumns, strings.Join(where, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.With("operation", "list access entries").Wrap(err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, oops.With("operation", "list access entries").Wrap(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate access entries").Wrap(err)
	}
	return entries, nil
}

// CreateGrant inserts a grant. The entry row is share-locked for the
// transaction, so a concurrent SoftDelete either sees the new grant or has
// already marked the entry deleted.
func (s *PostgresStore) CreateGrant(ctx context.Context, g *Grant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("GRANT_CREATE_FAILED").With("entry_id", g.EntryID).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT deleted_at IS NOT NULL FROM access_entries WHERE id = $1 FOR SHARE`, g.EntryID,
	).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(g.EntryID)
	}
	if err != nil {
		return oops.Code("GRANT_CREATE_FAILED").With("entry_id", g.EntryID).Wrap(err)
	}
	if deleted {
		return oops.Code(CodeDeleted).With("id", g.EntryID).Errorf("access entry is deleted")
	}

	id := ulid.Make().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO access_grants (id, kind, resource_id, action, level, entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, string(g.Kind), g.ResourceID, g.Action, g.Level.String(), g.EntryID, g.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				return notFound(g.EntryID)
			case pgerrcode.UniqueViolation:
				return oops.Code(CodeGrantInvalid).
					With("kind", g.Kind).With("resource_id", g.ResourceID).With("action", g.Action).
					Errorf("grant already exists")
			}
		}
		return oops.Code("GRANT_CREATE_FAILED").With("entry_id", g.EntryID).Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("GRANT_CREATE_FAILED").With("entry_id", g.EntryID).With("operation", "commit").Wrap(err)
	}
	g.ID = id
	return nil
}

// ListGrants returns the grants on one resource ordered by id.
func (s *PostgresStore) ListGrants(ctx context.Context, kind GrantKind, resourceID string) ([]*Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, resource_id, action, level, entry_id, created_at
		FROM access_grants WHERE kind = $1 AND resource_id = $2 ORDER BY id
	`, string(kind), resourceID)
	if err != nil {
		return nil, oops.With("operation", "list grants").Wrap(err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		var g Grant
		var k, level string
		if err := rows.Scan(&g.ID, &k, &g.ResourceID, &g.Action, &level, &g.EntryID, &g.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan grant row").Wrap(err)
		}
		g.Kind = GrantKind(k)
		if g.Level, err = rule.ParseAccessLevel(level); err != nil {
			return nil, oops.With("operation", "scan grant row").With("id", g.ID).Wrap(err)
		}
		grants = append(grants, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate grants").Wrap(err)
	}
	return grants, nil
}

// CountGrantsByEntry counts grants referencing an entry.
func (s *PostgresStore) CountGrantsByEntry(ctx context.Context, entryID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM access_grants WHERE entry_id = $1`, entryID).Scan(&n)
	if err != nil {
		return 0, oops.With("operation", "count grants").With("entry_id", entryID).Wrap(err)
	}
	return n, nil
}
