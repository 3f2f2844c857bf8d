package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-study/internal/identity"
	"github.com/p-n-ai/pai-study/internal/platform/cache"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue or revoke bearer tokens for testing and support",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			return withSessions(cmd, func(s *identity.SessionStore) error {
				token, err := s.Issue(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	issue.Flags().String("user", "", "User ID")
	issue.MarkFlagRequired("user")

	revoke := &cobra.Command{
		Use:   "revoke TOKEN",
		Short: "Revoke a session token and notify open sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd, func(s *identity.SessionStore) error {
				return s.Revoke(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(issue, revoke)
	return cmd
}

func withSessions(cmd *cobra.Command, fn func(*identity.SessionStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.HasCache() {
		return fmt.Errorf("LEARN_CACHE_URL is required for sessions")
	}

	c, err := cache.New(cmd.Context(), cfg.Cache.URL)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(identity.NewSessionStore(c.Client, cfg.Auth.SessionTTL))
}
