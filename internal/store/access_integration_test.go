// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/crewkeeper/crewkeeper/internal/access/decision"
	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/internal/member"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

const (
	guildID = "700000000000000001"
	adminID = "800000000000000001"
	crewID  = "0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09"
)

func crewAdmins() rule.Rule {
	return rule.AnyOf(
		decision.GuildAdmin(),
		decision.CrewRole(rule.CrewByID(crewID), rule.AccessLevelAdmin),
	)
}

var _ = Describe("Access entries in PostgreSQL", func() {
	var (
		pg  *entry.PostgresStore
		svc *entry.Service
	)

	BeforeEach(func() {
		migrateUp()
		truncateAll()
		pg = entry.NewPostgresStore(env.pool)
		svc = entry.NewService(pg, pg)
	})

	create := func(description string, typ rule.Type) *entry.Entry {
		e, err := svc.Create(env.ctx, entry.CreateParams{
			GuildID:     guildID,
			Description: description,
			Type:        typ,
			Rule:        crewAdmins(),
			UpdatedBy:   adminID,
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	It("round-trips the rule document", func() {
		e := create("Crew admins", rule.TypePermit)

		got, err := svc.Get(env.ctx, e.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Rule.Equal(crewAdmins())).To(BeTrue())
		Expect(got.Type).To(Equal(rule.TypePermit))
		Expect(got.UpdatedAt).To(BeTemporally("~", time.Now(), time.Minute))
		Expect(got.IsDeleted()).To(BeFalse())
	})

	It("lists by case-insensitive description with LIKE metacharacters taken literally", func() {
		create("Crew admins", rule.TypePermit)
		create("50% off crew", rule.TypePermit)
		create("Quartermasters", rule.TypePermit)

		found, err := svc.List(env.ctx, entry.ListOptions{GuildID: guildID, Query: "CREW"})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(2))

		found, err = svc.List(env.ctx, entry.ListOptions{GuildID: guildID, Query: "50%"})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(1))
		Expect(found[0].Description).To(Equal("50% off crew"))

		found, err = svc.List(env.ctx, entry.ListOptions{GuildID: guildID, Query: "_"})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeEmpty())
	})

	It("evaluates stored entries", func() {
		permit := create("Crew admins", rule.TypePermit)
		deny := create("Crew admins denied", rule.TypeDeny)
		admin := decision.NewContext(adminID, nil, []decision.CrewMembership{
			{CrewID: crewID, AccessLevel: rule.AccessLevelOwner},
		}, false)

		ok, err := svc.Test(env.ctx, permit.ID, admin)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = svc.Test(env.ctx, deny.ID, admin)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("restricts deleting referenced entries until cascaded", func() {
		e := create("Crew admins", rule.TypePermit)
		_, err := svc.CreateGrant(env.ctx, entry.GrantParams{
			Kind: entry.GrantCrew, ResourceID: crewID, Action: "manage", Level: rule.AccessLevelAdmin, EntryID: e.ID,
		})
		Expect(err).NotTo(HaveOccurred())

		err = svc.SoftDelete(env.ctx, e.ID, adminID, false)
		Expect(entry.IsReferenced(err)).To(BeTrue())

		_, err = env.pool.Exec(env.ctx, `DELETE FROM access_entries WHERE id = $1`, e.ID)
		Expect(err).To(HaveOccurred(), "the foreign key restricts hard deletes")

		Expect(svc.SoftDelete(env.ctx, e.ID, adminID, true)).To(Succeed())
		grants, err := pg.ListGrants(env.ctx, entry.GrantCrew, crewID)
		Expect(err).NotTo(HaveOccurred())
		Expect(grants).To(BeEmpty())

		got, err := svc.Get(env.ctx, e.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsDeleted()).To(BeTrue())
		Expect(*got.DeletedBy).To(Equal(adminID))
	})

	It("rejects grants for deleted entries", func() {
		e := create("Crew admins", rule.TypePermit)
		Expect(svc.SoftDelete(env.ctx, e.ID, adminID, false)).To(Succeed())

		_, err := svc.CreateGrant(env.ctx, entry.GrantParams{
			Kind: entry.GrantCrew, ResourceID: crewID, Action: "manage", Level: rule.AccessLevelAdmin, EntryID: e.ID,
		})
		Expect(err).To(errutil.HaveCode(entry.CodeDeleted))
	})

	It("waits for an in-flight delete instead of granting on a deleted entry", func() {
		e := create("Crew admins", rule.TypePermit)

		// Hold the row lock a SoftDelete takes, with the delete not yet committed.
		tx, err := env.pool.Begin(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		defer tx.Rollback(env.ctx) //nolint:errcheck // rollback after commit is a no-op
		_, err = tx.Exec(env.ctx, `SELECT 1 FROM access_entries WHERE id = $1 FOR UPDATE`, e.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = tx.Exec(env.ctx,
			`UPDATE access_entries SET deleted_at = now(), deleted_by = $2 WHERE id = $1`, e.ID, adminID)
		Expect(err).NotTo(HaveOccurred())

		result := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			result <- pg.CreateGrant(env.ctx, &entry.Grant{
				Kind: entry.GrantCrew, ResourceID: crewID, Action: "manage",
				Level: rule.AccessLevelAdmin, EntryID: e.ID, CreatedAt: time.Now(),
			})
		}()
		Consistently(result, 300*time.Millisecond).ShouldNot(Receive())

		Expect(tx.Commit(env.ctx)).To(Succeed())
		var grantErr error
		Eventually(result, 5*time.Second).Should(Receive(&grantErr))
		Expect(grantErr).To(errutil.HaveCode(entry.CodeDeleted))

		n, err := pg.CountGrantsByEntry(env.ctx, e.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("rejects grants for unknown entries", func() {
		_, err := svc.CreateGrant(env.ctx, entry.GrantParams{
			Kind: entry.GrantCrew, ResourceID: crewID, Action: "manage", Level: rule.AccessLevelAdmin,
			EntryID: "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		})
		Expect(err).To(errutil.HaveCode(entry.CodeNotFound))
	})
})

var _ = Describe("Entry cache over LISTEN/NOTIFY", func() {
	It("evicts entries changed by another writer", func() {
		migrateUp()
		truncateAll()

		pg := entry.NewPostgresStore(env.pool)
		cached := entry.NewCachedStore(pg)
		svc := entry.NewService(cached, pg)

		ctx, cancel := context.WithCancel(env.ctx)
		DeferCleanup(func() {
			cancel()
			cached.Wait()
		})
		listener := entry.NewPgListener(env.pool, entry.WithHeartbeat(200*time.Millisecond))
		Expect(cached.StartWithListener(ctx, listener)).To(Succeed())

		e, err := svc.Create(env.ctx, entry.CreateParams{
			GuildID:     guildID,
			Description: "Crew admins",
			Type:        rule.TypePermit,
			Rule:        crewAdmins(),
			UpdatedBy:   adminID,
		})
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() bool { return !cached.IsStale() }).Should(BeTrue())

		Eventually(func() int {
			_, err := svc.Get(env.ctx, e.ID)
			Expect(err).NotTo(HaveOccurred())
			return cached.Len()
		}).Should(Equal(1))

		// Another service instance writing through its own uncached store.
		other := entry.NewService(pg, pg)
		_, err = other.Update(env.ctx, entry.UpdateParams{
			ID:          e.ID,
			Description: "Quartermasters",
			Type:        rule.TypeDeny,
			Rule:        crewAdmins(),
			UpdatedBy:   adminID,
		})
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() string {
			got, err := svc.Get(env.ctx, e.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Description
		}).WithTimeout(5 * time.Second).Should(Equal("Quartermasters"))
	})
})

var _ = Describe("Member profiles in PostgreSQL", func() {
	BeforeEach(func() {
		migrateUp()
		truncateAll()
	})

	It("resolves what was saved", func() {
		profiles := member.NewPostgresProfiles(env.pool)
		resolver := member.NewPostgresResolver(env.pool)

		Expect(profiles.SaveProfile(env.ctx, guildID, adminID, member.Profile{
			RoleIDs:    []string{"300000000000000001"},
			Crews:      []decision.CrewMembership{{CrewID: crewID, CrewSF: "990000000000000001", AccessLevel: rule.AccessLevelAdmin}},
			GuildAdmin: true,
		})).To(Succeed())

		got, err := resolver.Resolve(env.ctx, guildID, adminID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsGuildAdmin).To(BeTrue())
		Expect(got.HasRole("300000000000000001")).To(BeTrue())
		Expect(got.CrewMemberships).To(ConsistOf(decision.CrewMembership{
			CrewID: crewID, CrewSF: "990000000000000001", AccessLevel: rule.AccessLevelAdmin,
		}))

		By("replacing the profile")
		Expect(profiles.SaveProfile(env.ctx, guildID, adminID, member.Profile{})).To(Succeed())
		got, err = resolver.Resolve(env.ctx, guildID, adminID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsGuildAdmin).To(BeFalse())
		Expect(got.CrewMemberships).To(BeEmpty())
	})

	It("resolves unknown members to a bare context", func() {
		got, err := member.NewPostgresResolver(env.pool).Resolve(env.ctx, guildID, "999")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PrincipalID).To(Equal("999"))
		Expect(got.RoleIDs).To(BeEmpty())
	})
})
