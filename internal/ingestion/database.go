package ingestion

import (
	"errors"

	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns a later message for the same ticket overwrites. open_price and
// open_time are only written when the row is created.
var (
	positionUpdateColumns = []string{
		"symbol", "type", "volume", "current_price", "stop_loss", "take_profit",
		"profit", "swap", "commission", "comment", "magic_number", "expert_advisor_id", "updated_at",
	}
	tradeUpdateColumns = []string{
		"symbol", "type", "volume", "close_price", "stop_loss", "take_profit",
		"profit", "swap", "commission", "close_time", "comment", "magic_number", "expert_advisor_id", "updated_at",
	}
	ticketConflict = []clause.Column{{Name: "trading_account_id"}, {Name: "ticket"}}
)

const ticketBatchSize = 500

func createSnapshot(tx *database.Tx, snap *types.AccountSnapshot) error {
	return tx.DB().Create(snap).Error
}

// deletePositions removes every open position of the account
func deletePositions(tx *database.Tx, accountID string) error {
	return tx.DB().Where("trading_account_id = ?", accountID).Delete(&types.Position{}).Error
}

func insertPositions(tx *database.Tx, positions []types.Position) error {
	if len(positions) == 0 {
		return nil
	}
	return tx.DB().CreateInBatches(positions, 100).Error
}

// upsertPosition inserts pos or overwrites the row with the same (account, ticket).
// pos is reloaded so its ID is the stored one.
func upsertPosition(tx *database.Tx, pos *types.Position) error {
	err := tx.DB().Clauses(clause.OnConflict{
		Columns:   ticketConflict,
		DoUpdates: clause.AssignmentColumns(positionUpdateColumns),
	}).Create(pos).Error
	if err != nil {
		return err
	}

	var stored types.Position
	if err := tx.DB().
		Where("trading_account_id = ? AND ticket = ?", pos.TradingAccountID, pos.Ticket).
		Take(&stored).Error; err != nil {
		return err
	}
	*pos = stored
	return nil
}

// takePosition returns the open position for ticket, or nil when there is none
func takePosition(tx *database.Tx, accountID, ticket string) (*types.Position, error) {
	var pos types.Position
	err := tx.DB().Where("trading_account_id = ? AND ticket = ?", accountID, ticket).Take(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func deletePosition(tx *database.Tx, accountID, ticket string) error {
	return tx.DB().
		Where("trading_account_id = ? AND ticket = ?", accountID, ticket).
		Delete(&types.Position{}).Error
}

// deletePositionsByTicket removes open positions whose tickets are already closed
func deletePositionsByTicket(tx *database.Tx, accountID string, tickets []string) error {
	for start := 0; start < len(tickets); start += ticketBatchSize {
		end := min(start+ticketBatchSize, len(tickets))
		err := tx.DB().
			Where("trading_account_id = ? AND ticket IN ?", accountID, tickets[start:end]).
			Delete(&types.Position{}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func upsertTrade(tx *database.Tx, trade *types.TradeHistory) error {
	return tx.DB().Clauses(clause.OnConflict{
		Columns:   ticketConflict,
		DoUpdates: clause.AssignmentColumns(tradeUpdateColumns),
	}).Create(trade).Error
}

func deleteHistory(tx *database.Tx, accountID string) error {
	return tx.DB().Where("trading_account_id = ?", accountID).Delete(&types.TradeHistory{}).Error
}

// closedTickets returns which of tickets already have a history row
func closedTickets(tx *database.Tx, accountID string, tickets []string) (map[string]struct{}, error) {
	closed := make(map[string]struct{})
	for start := 0; start < len(tickets); start += ticketBatchSize {
		end := min(start+ticketBatchSize, len(tickets))
		var found []string
		err := tx.DB().Model(&types.TradeHistory{}).
			Where("trading_account_id = ? AND ticket IN ?", accountID, tickets[start:end]).
			Pluck("ticket", &found).Error
		if err != nil {
			return nil, err
		}
		for _, t := range found {
			closed[t] = struct{}{}
		}
	}
	return closed, nil
}

// eaResolver maps magic numbers to expert advisor IDs for one account,
// caching lookups for the lifetime of a transaction
type eaResolver struct {
	tx        *database.Tx
	accountID string
	cache     map[int64]*string
}

func newEAResolver(tx *database.Tx, accountID string) *eaResolver {
	return &eaResolver{tx: tx, accountID: accountID, cache: make(map[int64]*string)}
}

func (r *eaResolver) resolve(magic *int64) (*string, error) {
	if magic == nil {
		return nil, nil
	}
	if id, ok := r.cache[*magic]; ok {
		return id, nil
	}

	var ea types.ExpertAdvisor
	err := r.tx.DB().Select("id").
		Where("trading_account_id = ? AND magic_number = ?", r.accountID, *magic).
		Take(&ea).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		r.cache[*magic] = nil
		return nil, nil
	case err != nil:
		return nil, err
	}

	id := ea.ID
	r.cache[*magic] = &id
	return &id, nil
}
