// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/hashicorp/idbroker/authz"
	"github.com/hashicorp/idbroker/claims"
	"github.com/spf13/cobra"
)

func (c *cli) groupsCmd() *cobra.Command {
	var (
		claimName  string
		split      bool
		splitLimit int
	)
	cmd := &cobra.Command{
		Use:   "groups [token|-]",
		Short: "Print the groups found in a token, one per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if splitLimit < 0 {
				return fmt.Errorf("--split-limit must be 0 or more")
			}
			tk, err := readToken(cmd, args)
			if err != nil {
				return err
			}
			set, err := claims.Decode(tk)
			if err != nil {
				return err
			}
			groups := authz.ExtractGroups(set, claimName)
			if split && len(groups) > 0 {
				groups = authz.SplitGroupPaths(groups, splitLimit)
			}
			for _, g := range groups {
				fmt.Fprintln(cmd.OutOrStdout(), g)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&claimName, "claim-name", authz.DefaultClaimName, "dotted path of the groups claim")
	cmd.Flags().BoolVar(&split, "split", false, "split group paths into their segments")
	cmd.Flags().IntVar(&splitLimit, "split-limit", 0, "keep only the first n segments of each path; 0 keeps all")
	return cmd
}
