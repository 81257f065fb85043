package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/database/dbtest"
	"github.com/ksred/eatrack/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(accountID string) *types.AccountSnapshot {
	return &types.AccountSnapshot{TradingAccountID: accountID, Balance: 1000, Equity: 1000, Timestamp: time.Now()}
}

func TestUnitOfWorkCommits(t *testing.T) {
	db := dbtest.New(t)
	uow := database.NewUnitOfWork(db)

	err := uow.Do(context.Background(), func(tx *database.Tx) error {
		return tx.DB().Create(snapshot("acc-1")).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&types.AccountSnapshot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	db := dbtest.New(t)
	uow := database.NewUnitOfWork(db)
	boom := errors.New("boom")

	err := uow.Do(context.Background(), func(tx *database.Tx) error {
		if err := tx.DB().Create(snapshot("acc-1")).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&types.AccountSnapshot{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUnitOfWorkRollsBackOnPanic(t *testing.T) {
	db := dbtest.New(t)
	uow := database.NewUnitOfWork(db)

	assert.Panics(t, func() {
		_ = uow.Do(context.Background(), func(tx *database.Tx) error {
			tx.DB().Create(snapshot("acc-1"))
			panic("fault")
		})
	})

	var count int64
	require.NoError(t, db.Model(&types.AccountSnapshot{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMigrateCreatesUniqueTicketIndex(t *testing.T) {
	db := dbtest.New(t)

	first := &types.Position{TradingAccountID: "acc-1", Ticket: "T1", Symbol: "EURUSD", Type: types.SideBuy, OpenTime: time.Now()}
	require.NoError(t, db.Create(first).Error)

	dup := &types.Position{TradingAccountID: "acc-1", Ticket: "T1", Symbol: "EURUSD", Type: types.SideBuy, OpenTime: time.Now()}
	assert.Error(t, db.Create(dup).Error)

	other := &types.Position{TradingAccountID: "acc-2", Ticket: "T1", Symbol: "EURUSD", Type: types.SideBuy, OpenTime: time.Now()}
	assert.NoError(t, db.Create(other).Error)
}
