// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/crewkeeper/crewkeeper/internal/config"
	"github.com/crewkeeper/crewkeeper/internal/httpapi"
)

// NewTokenCmd creates the token subcommand.
func NewTokenCmd() *cobra.Command {
	var (
		guild, memberID string
		ttl             time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a member",
		Long: `Sign an HS256 bearer token with the configured secret. Intended for
development and operational testing of the API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(), cmd.Flags())
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return oops.Code("CONFIG_INVALID").Errorf("--ttl must be positive")
			}
			verifier, err := httpapi.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
			if err != nil {
				return err
			}

			now := time.Now()
			token, err := verifier.Sign(httpapi.Caller{MemberID: memberID, GuildID: guild}, jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "guild id (required)")
	cmd.Flags().StringVar(&memberID, "member", "", "member id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}
