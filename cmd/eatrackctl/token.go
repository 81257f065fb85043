package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ksred/eatrack/internal/auth"
)

func newTokenCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Dashboard access tokens",
	}

	var userID string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a dashboard JWT for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := auth.NewService(nil, rc.cfg.JWTSecret, rc.cfg.TokenTTL)
			token, err := svc.GenerateToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires: %s\n", token.Token, token.Expiration.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user ID to embed in the token")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}
