package migrations

import "gorm.io/gorm"

// AddQueryIndexes adds the composite indexes the dashboard queries rely on
func AddQueryIndexes(db *gorm.DB) error {
	indexes := []string{
		// Closed trades of an account in close-time order (drawdown walk, recent trades)
		`CREATE INDEX IF NOT EXISTS idx_trade_histories_account_close
		 ON trade_histories(trading_account_id, close_time)`,

		// Closed trades of one EA in close-time order
		`CREATE INDEX IF NOT EXISTS idx_trade_histories_ea_close
		 ON trade_histories(expert_advisor_id, close_time)`,

		// Unassigned trades and positions looked up by magic number on EA creation
		`CREATE INDEX IF NOT EXISTS idx_trade_histories_account_magic
		 ON trade_histories(trading_account_id, magic_number)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_account_magic
		 ON positions(trading_account_id, magic_number)`,

		// Open positions of an account ordered by open time
		`CREATE INDEX IF NOT EXISTS idx_positions_account_open
		 ON positions(trading_account_id, open_time)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
