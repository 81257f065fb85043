package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ksred/eatrack/internal/database/migrations"
	"github.com/ksred/eatrack/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection. WAL mode lets
// readers keep seeing the last committed state while a transaction is open. Transactions
// take the write lock at BEGIN (_txlock=immediate).
func NewDatabase(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	gormLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every table and index
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&types.TradingAccount{},
		&types.Position{},
		&types.TradeHistory{},
		&types.AccountSnapshot{},
		&types.ExpertAdvisor{},
		&types.CopyTradingRelation{},
	)
	if err != nil {
		return err
	}

	if err := migrations.AddQueryIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
