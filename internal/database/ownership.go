package database

import (
	"errors"

	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/types"
	"gorm.io/gorm"
)

// OwnedAccount loads the trading account only when it belongs to userID. An
// account owned by someone else is reported as NotFound so its existence is not leaked.
func OwnedAccount(db *gorm.DB, userID, accountID string) (*types.TradingAccount, error) {
	const op = "database.owned_account"

	var account types.TradingAccount
	err := db.Where("id = ? AND user_id = ?", accountID, userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(op, "Trading account not found")
	}
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return &account, nil
}

// OwnedExpertAdvisor loads the EA only when its trading account belongs to userID
func OwnedExpertAdvisor(db *gorm.DB, userID, expertAdvisorID string) (*types.ExpertAdvisor, error) {
	const op = "database.owned_expert_advisor"

	var ea types.ExpertAdvisor
	err := db.
		Joins("JOIN trading_accounts ON trading_accounts.id = expert_advisors.trading_account_id").
		Where("expert_advisors.id = ? AND trading_accounts.user_id = ?", expertAdvisorID, userID).
		Take(&ea).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(op, "Expert Advisor not found")
	}
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return &ea, nil
}
