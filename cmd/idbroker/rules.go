// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/hashicorp/idbroker/authz"
	"github.com/hashicorp/idbroker/claims"
	"github.com/spf13/cobra"
)

func (c *cli) rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and evaluate group to role rules",
	}
	cmd.AddCommand(c.rulesValidateCmd(), c.rulesEvalCmd())
	return cmd
}

func (c *cli) rulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [rules-file]",
		Short: "Validate a rules file and list its rules in evaluation order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) > 0 {
				file = args[0]
			}
			cfg, err := c.loadRules(file)
			if err != nil {
				return err
			}
			// compile every enabled rule, so bad patterns are reported here
			var rules []authz.Rule
			for _, r := range cfg.Rules {
				if r.Enabled {
					rules = append(rules, r)
				}
			}
			if _, err := authz.ApplyRules(nil, rules); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			state := "disabled"
			if cfg.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(out, "group mapping %s: claim %q, %d rules\n", state, cfg.ClaimName, len(cfg.Rules))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWEIGHT\tACTION\tROLE\tOPERATION\tPATTERN\tENABLED")
			ordered := append([]authz.Rule(nil), cfg.Rules...)
			sort.SliceStable(ordered, func(i, j int) bool {
				if ordered[i].Weight != ordered[j].Weight {
					return ordered[i].Weight < ordered[j].Weight
				}
				return ordered[i].Id < ordered[j].Id
			})
			for _, r := range ordered {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%q\t%t\n", r.Id, r.Weight, r.Action, r.Role, r.Operation.Label(), r.Pattern, r.Enabled)
			}
			return w.Flush()
		},
	}
}

func (c *cli) rulesEvalCmd() *cobra.Command {
	var (
		file    string
		current []string
	)
	cmd := &cobra.Command{
		Use:   "eval [token|-]",
		Short: "Evaluate rules against a token's groups",
		Long: `Evaluate rules against a token's groups and print the resulting
instructions, in order, and the roles they produce from --role.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine(file)
			if err != nil {
				return err
			}
			tk, err := readToken(cmd, args)
			if err != nil {
				return err
			}
			set, err := claims.Decode(tk)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !e.Enabled() {
				fmt.Fprintln(out, "group mapping is disabled")
				return nil
			}
			instructions, err := e.Instructions(set)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			fmt.Fprintf(out, "groups: %s\n", strings.Join(e.Groups(set), ", "))
			for _, in := range instructions {
				fmt.Fprintf(out, "%s %s\n", in.Action, in.Role)
			}
			fmt.Fprintf(out, "roles: %s\n", strings.Join(authz.Reconcile(current, instructions), ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "rules", "", "rules file (default rules_file from the config)")
	cmd.Flags().StringSliceVar(&current, "role", nil, "a current role; repeatable")
	return cmd
}
