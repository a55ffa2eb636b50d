// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/config"
	"github.com/crewkeeper/crewkeeper/internal/member"
	"github.com/crewkeeper/crewkeeper/internal/seed"
	"github.com/crewkeeper/crewkeeper/internal/store"
	"github.com/crewkeeper/crewkeeper/pkg/errutil"
)

// backend bundles the entry service with the member collaborators of one
// storage mode.
type backend struct {
	entries  *entry.Service
	resolver member.Resolver
	profiles member.ProfileWriter
	pool     *pgxpool.Pool

	cache     *entry.CachedStore
	stopCache context.CancelFunc
}

// openBackend connects the storage selected by cfg. Memory mode loads the
// configured seed file.
func openBackend(ctx context.Context, cfg *config.Config, deps *Deps) (*backend, error) {
	if cfg.Store.Memory {
		mem := entry.NewMemoryStore()
		static := member.NewStaticResolver()
		b := &backend{entries: entry.NewService(mem, mem), resolver: static, profiles: static}

		if cfg.Store.SeedFile != "" {
			plan, err := seed.LoadFile(cfg.Store.SeedFile)
			if err != nil {
				return nil, err
			}
			if _, err := plan.Apply(ctx, b.entries, static); err != nil {
				return nil, oops.With("operation", "apply seed file").Wrap(err)
			}
		}
		slog.InfoContext(ctx, "using in-memory store", "seed_file", cfg.Store.SeedFile)
		return b, nil
	}

	pool, err := deps.PoolOpener(ctx, cfg.Database.URL, store.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ConnectBackoff:  cfg.Database.ConnectBackoff,
	})
	if err != nil {
		return nil, oops.With("operation", "connect to database").Wrap(err)
	}

	pg := entry.NewPostgresStore(pool)
	b := &backend{
		resolver: member.NewPostgresResolver(pool),
		profiles: member.NewPostgresProfiles(pool),
		pool:     pool,
	}
	if cfg.Store.Cache {
		b.cache = entry.NewCachedStore(pg, entry.WithStalenessThreshold(cfg.Store.CacheStaleness))
		b.entries = entry.NewService(b.cache, pg)
	} else {
		b.entries = entry.NewService(pg, pg)
	}
	return b, nil
}

// startCache subscribes the entry cache to change notifications. Without a
// subscription the cache passes reads through, so a failure only costs
// latency.
func (b *backend) startCache(ctx context.Context, staleness time.Duration) {
	if b.cache == nil {
		return
	}
	ctx, b.stopCache = context.WithCancel(ctx)
	listener := entry.NewPgListener(b.pool, entry.WithHeartbeat(staleness/3))
	if err := b.cache.StartWithListener(ctx, listener); err != nil {
		errutil.LogErrorContext(ctx, slog.Default(), "entry cache disabled", err)
	}
}

// Ready reports whether the storage answers. Memory mode is always ready.
func (b *backend) Ready(ctx context.Context) bool {
	if b.pool == nil {
		return true
	}
	return b.pool.Ping(ctx) == nil
}

// Close stops the cache listener and releases the pool, if any.
func (b *backend) Close() {
	if b.stopCache != nil {
		b.stopCache()
		b.cache.Wait()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
