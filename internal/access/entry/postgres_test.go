// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

const (
	testEntryID = "01J0000000000000000000000A"
	testGuildID = "700000000000000001"
	testAuthor  = "800000000000000001"
)

var (
	testTime    = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	testRuleDoc = []byte(`{"mode":"anyOf","spec":[{"guildAdmin":true}]}`)
	entryCols   = []string{"id", "guild_id", "description", "type", "rule", "updated_at", "updated_by", "deleted_at", "deleted_by"}
)

func guildAdminRule() rule.Rule {
	yes := true
	return rule.Rule{Mode: rule.ModeAny, Spec: []rule.Atom{{GuildAdmin: &yes}}}
}

func TestPostgresStore_Create(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   bool
		errMsg    string
	}{
		{
			name: "inserts and notifies",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO access_entries`).
					WithArgs(pgxmock.AnyArg(), testGuildID, "officers", "permit", pgxmock.AnyArg(), testTime, testAuthor).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(`SELECT pg_notify`).
					WithArgs(NotifyChannel, pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "insert failure rolls back",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO access_entries`).
					WithArgs(pgxmock.AnyArg(), testGuildID, "officers", "permit", pgxmock.AnyArg(), testTime, testAuthor).
					WillReturnError(errors.New("connection refused"))
				mock.ExpectRollback()
			},
			wantErr: true,
			errMsg:  "connection refused",
		},
		{
			name: "begin failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
			},
			wantErr: true,
			errMsg:  "pool exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			e := &Entry{
				GuildID: testGuildID, Description: "officers", Type: rule.TypePermit,
				Rule: guildAdminRule(), UpdatedAt: testTime, UpdatedBy: testAuthor,
			}
			err = NewPostgresStore(mock).Create(context.Background(), e)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				errutil.AssertErrorCode(t, err, "ENTRY_CREATE_FAILED")
				assert.Empty(t, e.ID)
			} else {
				require.NoError(t, err)
				assert.Len(t, e.ID, 26)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_Get(t *testing.T) {
	deletedAt := testTime.Add(time.Hour)
	deletedBy := testAuthor

	tests := []struct {
		name        string
		setupMock   func(mock pgxmock.PgxPoolIface)
		wantDeleted bool
		wantCode    string
	}{
		{
			name: "active entry",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM access_entries WHERE id = \$1`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows(entryCols).AddRow(
						testEntryID, testGuildID, "officers", "permit", testRuleDoc,
						testTime, testAuthor, (*time.Time)(nil), (*string)(nil)))
			},
		},
		{
			name: "deleted entry is still returned",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM access_entries WHERE id = \$1`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows(entryCols).AddRow(
						testEntryID, testGuildID, "officers", "permit", testRuleDoc,
						testTime, testAuthor, &deletedAt, &deletedBy))
			},
			wantDeleted: true,
		},
		{
			name: "missing entry",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM access_entries WHERE id = \$1`).
					WithArgs(testEntryID).
					WillReturnError(pgx.ErrNoRows)
			},
			wantCode: CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			got, err := NewPostgresStore(mock).Get(context.Background(), testEntryID)
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, testEntryID, got.ID)
				assert.Equal(t, rule.TypePermit, got.Type)
				assert.True(t, got.Rule.Equal(guildAdminRule()))
				assert.Equal(t, tt.wantDeleted, got.IsDeleted())
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_Update(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
	}{
		{
			name: "updates active entry",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT deleted_at IS NOT NULL FROM access_entries`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectExec(`UPDATE access_entries`).
					WithArgs(testEntryID, "officers", "deny", pgxmock.AnyArg(), testTime, testAuthor).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec(`SELECT pg_notify`).
					WithArgs(NotifyChannel, testEntryID).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "deleted entry is rejected",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT deleted_at IS NOT NULL FROM access_entries`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(true))
				mock.ExpectRollback()
			},
			wantCode: CodeDeleted,
		},
		{
			name: "missing entry",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT deleted_at IS NOT NULL FROM access_entries`).
					WithArgs(testEntryID).
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectRollback()
			},
			wantCode: CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			err = NewPostgresStore(mock).Update(context.Background(), &Entry{
				ID: testEntryID, Description: "officers", Type: rule.TypeDeny,
				Rule: guildAdminRule(), UpdatedAt: testTime, UpdatedBy: testAuthor,
			})
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_SoftDelete(t *testing.T) {
	tests := []struct {
		name      string
		cascade   bool
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
	}{
		{
			name: "unreferenced entry",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT deleted_at IS NOT NULL FROM access_entries`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectQuery(`SELECT count\(\*\) FROM access_grants`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`UPDATE access_entries SET deleted_at`).
					WithArgs(testEntryID, testTime, testAuthor).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec(`SELECT pg_notify`).
					WithArgs(NotifyChannel, testEntryID).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "referenced entry is restricted",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT deleted_at IS NOT NULL FROM access_entries`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectQuery(`SELECT count\(\*\) FROM access_grants`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
				mock.ExpectRollback()
			},
			wantCode: CodeReferenced,
		},
		{
			name:    "cascade removes grants",
			cascade: true,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT deleted_at IS NOT NULL FROM access_entries`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectQuery(`SELECT count\(\*\) FROM access_grants`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
				mock.ExpectExec(`DELETE FROM access_grants`).
					WithArgs(testEntryID).
					WillReturnResult(pgxmock.NewResult("DELETE", 2))
				mock.ExpectExec(`UPDATE access_entries SET deleted_at`).
					WithArgs(testEntryID, testTime, testAuthor).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec(`SELECT pg_notify`).
					WithArgs(NotifyChannel, testEntryID).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "already deleted",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT deleted_at IS NOT NULL FROM access_entries`).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(true))
				mock.ExpectRollback()
			},
			wantCode: CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			err = NewPostgresStore(mock).SoftDelete(context.Background(), DeleteParams{
				ID: testEntryID, By: testAuthor, At: testTime, Cascade: tt.cascade,
			})
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_List(t *testing.T) {
	tests := []struct {
		name      string
		opts      ListOptions
		setupMock func(mock pgxmock.PgxPoolIface)
		want      int
	}{
		{
			name: "active entries only",
			opts: ListOptions{GuildID: testGuildID},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`WHERE guild_id = \$1 AND deleted_at IS NULL ORDER BY updated_at DESC, id DESC`).
					WithArgs(testGuildID).
					WillReturnRows(pgxmock.NewRows(entryCols).AddRow(
						testEntryID, testGuildID, "officers", "permit", testRuleDoc,
						testTime, testAuthor, (*time.Time)(nil), (*string)(nil)))
			},
			want: 1,
		},
		{
			name: "query escapes LIKE metacharacters",
			opts: ListOptions{GuildID: testGuildID, Query: `50%_off\`},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`description ILIKE \$2 AND deleted_at IS NULL`).
					WithArgs(testGuildID, `%50\%\_off\\%`).
					WillReturnRows(pgxmock.NewRows(entryCols))
			},
			want: 0,
		},
		{
			name: "include deleted",
			opts: ListOptions{GuildID: testGuildID, IncludeDeleted: true},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`WHERE guild_id = \$1 ORDER BY`).
					WithArgs(testGuildID).
					WillReturnRows(pgxmock.NewRows(entryCols))
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			got, err := NewPostgresStore(mock).List(context.Background(), tt.opts)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_CreateGrant(t *testing.T) {
	grant := func() *Grant {
		return &Grant{
			Kind: GrantCrew, ResourceID: "crew-1", Action: "kick",
			Level: rule.AccessLevelAdmin, EntryID: testEntryID, CreatedAt: testTime,
		}
	}

	const lockEntry = `SELECT deleted_at IS NOT NULL FROM access_entries WHERE id = \$1 FOR SHARE`
	grantArgs := []any{pgxmock.AnyArg(), "crew", "crew-1", "kick", "ADMIN", testEntryID, testTime}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
	}{
		{
			name: "inserts grant",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEntry).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectExec(`INSERT INTO access_grants`).
					WithArgs(grantArgs...).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "duplicate grant",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEntry).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectExec(`INSERT INTO access_grants`).
					WithArgs(grantArgs...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
				mock.ExpectRollback()
			},
			wantCode: CodeGrantInvalid,
		},
		{
			name: "entry removed concurrently",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEntry).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectExec(`INSERT INTO access_grants`).
					WithArgs(grantArgs...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
				mock.ExpectRollback()
			},
			wantCode: CodeNotFound,
		},
		{
			name: "unknown entry",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEntry).
					WithArgs(testEntryID).
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectRollback()
			},
			wantCode: CodeNotFound,
		},
		{
			name: "deleted entry",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEntry).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(true))
				mock.ExpectRollback()
			},
			wantCode: CodeDeleted,
		},
		{
			name: "other insert failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEntry).
					WithArgs(testEntryID).
					WillReturnRows(pgxmock.NewRows([]string{"deleted"}).AddRow(false))
				mock.ExpectExec(`INSERT INTO access_grants`).
					WithArgs(grantArgs...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.CheckViolation})
				mock.ExpectRollback()
			},
			wantCode: "GRANT_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			g := grant()
			err = NewPostgresStore(mock).CreateGrant(context.Background(), g)
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, g.ID)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_ListGrants(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	defer mock.Close()

	mock.ExpectQuery(`FROM access_grants WHERE kind = \$1 AND resource_id = \$2`).
		WithArgs("stockpile", "stockpile-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "resource_id", "action", "level", "entry_id", "created_at"}).
			AddRow("g1", "stockpile", "stockpile-1", "edit", "OWNER", testEntryID, testTime).
			AddRow("g2", "stockpile", "stockpile-1", "view", "MEMBER", testEntryID, testTime))

	got, err := NewPostgresStore(mock).ListGrants(context.Background(), GrantStockpile, "stockpile-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rule.AccessLevelOwner, got[0].Level)
	assert.Equal(t, rule.AccessLevelMember, got[1].Level)
	assert.Equal(t, GrantStockpile, got[1].Kind)

	assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
}
