// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/crewkeeper/crewkeeper/internal/config"
	"github.com/crewkeeper/crewkeeper/internal/logging"
)

// serviceName labels logs and metrics.
const serviceName = "crewkeeper"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the crewkeeper CLI.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(nil)
}

// NewRootCmdWithDeps creates the root command with injectable dependencies.
func NewRootCmdWithDeps(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "crewkeeper",
		Short: "Crewkeeper - guild access rules and decisions",
		Long: `Crewkeeper stores guild access rules, evaluates them against a
member's roles and crew memberships, and serves the results over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/crewkeeper/config.yaml if present)")
	cmd.PersistentFlags().AddFlagSet(config.Flags())

	cmd.AddCommand(NewServeCmd(deps))
	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewRuleCmd(deps))
	cmd.AddCommand(NewSeedCmd(deps))
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewTokenCmd())

	return cmd
}

// loadConfig reads the layered configuration for cmd, validates the common
// settings and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath(), cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := cfg.Logging(serviceName, version)
	opts.Writer = cmd.ErrOrStderr()
	logging.SetDefault(opts)
	return cfg, nil
}

// configPath returns --config, or the default config file when one exists.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.DefaultFile()
}
