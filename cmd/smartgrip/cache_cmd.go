package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"example.com/smartgrip/internal/auth"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheKeysCmd, cacheGetCmd, cacheClearCmd)

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().StringSlice("scopes", []string{auth.ScopeSyncRead, auth.ScopeSyncWrite}, "scopes to grant")
	tokenIssueCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	cacheClearCmd.Flags().Bool("yes", false, "confirm deleting every cached entry, the offline queue included")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the local cache",
}

var cacheKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List cached keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session) error {
			keys := s.cache.GetAllKeys(ctx)
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		})
	},
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached entry with its age",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session) error {
			entry, ok := s.cache.GetEntry(ctx, args[0])
			if !ok {
				return fmt.Errorf("no entry for %q", args[0])
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, entry.Data, "", "  "); err != nil {
				pretty.Write(entry.Data)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stored %s (%s ago), version %s\n",
				entry.StoredAt().UTC().Format(time.RFC3339), time.Since(entry.StoredAt()).Round(time.Second), entry.Version)
			fmt.Fprintln(out, pretty.String())
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to clear the cache without --yes")
		}
		return withSession(cmd, false, func(ctx context.Context, s *session) error {
			if err := s.cache.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue API tokens for local development",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <subject>",
	Short: "Sign a bearer token for the agent API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		scopes, _ := cmd.Flags().GetStringSlice("scopes")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.Sign(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer}, args[0], scopes, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
