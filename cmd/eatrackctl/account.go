package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ksred/eatrack/internal/account"
	"github.com/ksred/eatrack/internal/heartbeat"
	"github.com/ksred/eatrack/internal/types"
)

func newAccountCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Provision and manage trading accounts",
	}

	cmd.AddCommand(
		newAccountCreateCmd(rc),
		newAccountRotateCmd(rc),
		newAccountSetActiveCmd(rc, "disable", false),
		newAccountSetActiveCmd(rc, "enable", true),
	)
	return cmd
}

func withAccountService(rc *rootConfig, fn func(svc *account.Service) error) error {
	db, err := rc.openDB()
	if err != nil {
		return err
	}
	defer closeDB(db)

	return fn(account.NewService(db, heartbeat.NewCoordinator(db, rc.cfg.Heartbeat)))
}

func newAccountCreateCmd(rc *rootConfig) *cobra.Command {
	var (
		userID string
		req    account.CreateRequest
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a trading account and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(rc, func(svc *account.Service) error {
				acc, err := svc.Create(cmd.Context(), userID, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account_id: %s\napi_key:    %s\n", acc.ID, acc.APIKey)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owning user ID")
	cmd.Flags().StringVar(&req.Broker, "broker", "", "broker name")
	cmd.Flags().StringVar(&req.AccountNumber, "number", "", "broker account number")
	cmd.Flags().StringVar(&req.Platform, "platform", types.PlatformMT5, "MT4 or MT5")
	cmd.Flags().StringVar(&req.AccountType, "type", "", "account type, e.g. demo or live")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("broker")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newAccountRotateCmd(rc *rootConfig) *cobra.Command {
	var userID, accountID string

	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Replace an account's API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(rc, func(svc *account.Service) error {
				acc, err := svc.RotateAPIKey(cmd.Context(), userID, accountID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "api_key: %s\n", acc.APIKey)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owning user ID")
	cmd.Flags().StringVar(&accountID, "id", "", "trading account ID")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newAccountSetActiveCmd(rc *rootConfig, use string, active bool) *cobra.Command {
	var userID, accountID string

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s an account's API key", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(rc, func(svc *account.Service) error {
				acc, err := svc.Update(cmd.Context(), userID, accountID, account.UpdateRequest{IsActive: &active})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s active=%t\n", acc.ID, acc.IsActive)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owning user ID")
	cmd.Flags().StringVar(&accountID, "id", "", "trading account ID")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
