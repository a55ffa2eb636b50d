// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewkeeper/crewkeeper/internal/seed"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	timeout time.Duration
	dryRun  bool
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd(deps *Deps) *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Load access entries, grants and members from a YAML file",
		Long: `Validates a seed file and applies it. Every run creates new entries,
so seeding the same file twice duplicates them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args[0], cfg, deps)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "validate the file without applying it")
	return cmd
}

func runSeed(cmd *cobra.Command, path string, sc *seedConfig, deps *Deps) error {
	plan, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	counts := plan.Counts()
	if sc.dryRun {
		cmd.Printf("Seed file valid: %d entries, %d grants, %d members\n", counts.Entries, counts.Grants, counts.Members)
		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), sc.timeout)
	defer cancel()

	b, err := openBackend(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer b.Close()

	ids, err := plan.Apply(ctx, b.entries, b.profiles)
	if err != nil {
		return err
	}
	for _, key := range slices.Sorted(maps.Keys(ids)) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, ids[key])
	}
	cmd.Printf("Seeded %d entries, %d grants, %d members\n", counts.Entries, counts.Grants, counts.Members)
	return nil
}
