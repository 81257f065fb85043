package main

import (
	"fmt"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/statistics"
	"github.com/ksred/eatrack/internal/types"
)

func newEACmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ea",
		Short: "Expert advisor maintenance",
	}
	cmd.AddCommand(newEARecalcCmd(rc))
	return cmd
}

func newEARecalcCmd(rc *rootConfig) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "recalc [expert-advisor-id...]",
		Short: "Recompute the cached statistics of expert advisors",
		Long: "Recompute cached statistics for the given expert advisors, for every EA of\n" +
			"--account, or for every EA when neither is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rc.openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			q := db.WithContext(cmd.Context())
			switch {
			case len(args) > 0:
				q = q.Where("id IN ?", args)
			case accountID != "":
				q = q.Where("trading_account_id = ?", accountID)
			}

			var eas []types.ExpertAdvisor
			if err := q.Find(&eas).Error; err != nil {
				return err
			}

			uow := database.NewUnitOfWork(db)
			for i := range eas {
				ea := &eas[i]
				if err := uow.Do(cmd.Context(), func(tx *database.Tx) error {
					return statistics.RecalculateTx(tx, ea)
				}); err != nil {
					return fmt.Errorf("recalculate %s: %w", ea.ID, err)
				}
				zlog.Info().
					Str("expert_advisor_id", ea.ID).
					Int("total_trades", ea.TotalTrades).
					Float64("max_drawdown", ea.MaxDrawdown).
					Msg("statistics recalculated")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recalculated %d expert advisors\n", len(eas))
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "limit to one trading account")
	return cmd
}
