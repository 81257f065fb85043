package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Tx is a handle scoped to one open transaction. Store functions that must run
// atomically take a *Tx instead of a *gorm.DB, so they cannot be called outside
// a unit of work.
type Tx struct {
	db *gorm.DB
}

// DB returns the transaction-bound gorm handle
func (t *Tx) DB() *gorm.DB {
	return t.db
}

// UnitOfWork opens transactions against the store
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do runs fn inside a transaction. It commits when fn returns nil and rolls
// back when fn returns an error or panics.
func (u *UnitOfWork) Do(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx := u.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&Tx{db: tx}); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit().Error
}
