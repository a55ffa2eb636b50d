// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/crewkeeper/crewkeeper/internal/access/entry"
	"github.com/crewkeeper/crewkeeper/internal/access/rule"
	"github.com/crewkeeper/crewkeeper/internal/access/ruledsl"
)

// NewRuleCmd creates the rule subcommand group.
func NewRuleCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage access entries",
		Long: `Create, list, test and delete access entries. Rules are written in
the text syntax, for example:

  anyOf(guildAdmin, crew(id=0b7f4a9e-3c2d-4e1f-8a6b-5c4d3e2f1a09) & crewRole(ADMIN))`,
	}

	cmd.AddCommand(newRuleCreateCmd(deps))
	cmd.AddCommand(newRuleListCmd(deps))
	cmd.AddCommand(newRuleShowCmd(deps))
	cmd.AddCommand(newRuleTestCmd(deps))
	cmd.AddCommand(newRuleDeleteCmd(deps))
	return cmd
}

func newRuleCreateCmd(deps *Deps) *cobra.Command {
	var guild, by, typ, description string

	cmd := &cobra.Command{
		Use:   "create RULE",
		Short: "Create an access entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := rule.ParseType(typ)
			if err != nil {
				return oops.Code(entry.CodeInvalid).Wrap(err)
			}
			r, err := ruledsl.Parse(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer b.Close()

			e, err := b.entries.Create(cmd.Context(), entry.CreateParams{
				GuildID:     guild,
				Description: description,
				Type:        t,
				Rule:        r,
				UpdatedBy:   by,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "guild id (required)")
	cmd.Flags().StringVar(&by, "by", "", "member id recorded as the author (required)")
	cmd.Flags().StringVar(&typ, "type", string(rule.TypePermit), "rule type (permit or deny)")
	cmd.Flags().StringVar(&description, "description", "", "entry description")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newRuleListCmd(deps *Deps) *cobra.Command {
	var (
		guild, query   string
		includeDeleted bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the access entries of a guild",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer b.Close()

			entries, err := b.entries.List(cmd.Context(), entry.ListOptions{
				GuildID:        guild,
				Query:          query,
				IncludeDeleted: includeDeleted,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tDESCRIPTION\tRULE")
			for _, e := range entries {
				typ := string(e.Type)
				if e.IsDeleted() {
					typ += " (deleted)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, typ, e.Description, formatRule(e.Rule))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "guild id (required)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive description filter")
	cmd.Flags().BoolVar(&includeDeleted, "deleted", false, "include soft-deleted entries")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

// formatRule prints r in the text syntax, falling back to the wire form for
// trees the syntax cannot express.
func formatRule(r rule.Rule) string {
	if text, err := ruledsl.Format(r); err == nil {
		return text
	}
	data, err := rule.Marshal(r)
	if err != nil {
		return "<unprintable>"
	}
	return string(data)
}

func newRuleShowCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print an access entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer b.Close()

			e, err := b.entries.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, e)
		},
	}
}

func newRuleTestCmd(deps *Deps) *cobra.Command {
	var guild, memberID string

	cmd := &cobra.Command{
		Use:   "test ID",
		Short: "Evaluate an access entry for a member",
		Long: `Resolve the member's roles and crews in the guild, evaluate the entry
against them and print "permit" or "deny". Evaluation failures are errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer b.Close()

			evalCtx, err := b.resolver.Resolve(cmd.Context(), guild, memberID)
			if err != nil {
				return err
			}
			permitted, err := b.entries.Test(cmd.Context(), args[0], evalCtx)
			if err != nil {
				return err
			}
			result := "deny"
			if permitted {
				result = "permit"
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&guild, "guild", "", "guild id (required)")
	cmd.Flags().StringVar(&memberID, "member", "", "member id (required)")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func newRuleDeleteCmd(deps *Deps) *cobra.Command {
	var (
		by      string
		cascade bool
	)

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Soft-delete an access entry",
		Long: `Soft-delete an access entry. Entries still referenced by grants are
kept unless --cascade removes those grants too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.entries.SoftDelete(cmd.Context(), args[0], by, cascade); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "member id recorded as the deleter (required)")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also remove grants referencing the entry")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return oops.Wrap(err)
	}
	return nil
}
