// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package member

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// CodeSaveFailed is the oops code of profile write failures.
const CodeSaveFailed = "MEMBER_SAVE_FAILED"

// ProfileWriter records member profiles. Seeding writes through it.
type ProfileWriter interface {
	SaveProfile(ctx context.Context, guildID, memberID string, p Profile) error
}

var (
	_ ProfileWriter = (*StaticResolver)(nil)
	_ ProfileWriter = (*PostgresProfiles)(nil)
)

// SaveProfile implements ProfileWriter.
func (r *StaticResolver) SaveProfile(_ context.Context, guildID, memberID string, p Profile) error {
	r.Put(guildID, memberID, p)
	return nil
}

// TxBeginner starts transactions. *pgxpool.Pool and pgxmock satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresProfiles writes profiles into the tables PostgresResolver reads.
type PostgresProfiles struct {
	db TxBeginner
}

// NewPostgresProfiles creates a PostgresProfiles.
func NewPostgresProfiles(db TxBeginner) *PostgresProfiles {
	return &PostgresProfiles{db: db}
}

// SaveProfile replaces every stored fact about the member in one transaction.
func (s *PostgresProfiles) SaveProfile(ctx context.Context, guildID, memberID string, p Profile) (err error) {
	errb := oops.Code(CodeSaveFailed).With("guild_id", guildID).With("member_id", memberID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errb.Wrapf(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			//nolint:errcheck // rollback after a failed write
			tx.Rollback(ctx)
		}
	}()

	for _, table := range []string{"member_roles", "crew_members", "guild_admins"} {
		if _, err = tx.Exec(ctx, `DELETE FROM `+table+` WHERE guild_id = $1 AND member_id = $2`, guildID, memberID); err != nil {
			return errb.With("table", table).Wrapf(err, "clear profile")
		}
	}

	for _, role := range p.RoleIDs {
		if _, err = tx.Exec(ctx,
			`INSERT INTO member_roles (guild_id, member_id, role_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			guildID, memberID, role); err != nil {
			return errb.With("role_id", role).Wrapf(err, "insert role")
		}
	}

	for _, c := range p.Crews {
		var sf *string
		if c.CrewSF != "" {
			sf = &c.CrewSF
		}
		if _, err = tx.Exec(ctx,
			`INSERT INTO crew_members (guild_id, member_id, crew_id, crew_sf, access_level) VALUES ($1, $2, $3, $4, $5)`,
			guildID, memberID, c.CrewID, sf, c.AccessLevel.String()); err != nil {
			return errb.With("crew_id", c.CrewID).Wrapf(err, "insert crew membership")
		}
	}

	if p.GuildAdmin {
		if _, err = tx.Exec(ctx,
			`INSERT INTO guild_admins (guild_id, member_id) VALUES ($1, $2)`,
			guildID, memberID); err != nil {
			return errb.Wrapf(err, "insert guild admin")
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return errb.Wrapf(err, "commit")
	}
	return nil
}
