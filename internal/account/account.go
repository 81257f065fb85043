// Package account manages the trading accounts a dashboard user registers,
// including their EA API keys and the viewer heartbeat.
package account

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/auth"
	"github.com/ksred/eatrack/internal/copytrading"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/heartbeat"
	"github.com/ksred/eatrack/internal/types"
	"github.com/ksred/eatrack/pkg/middleware"
	"github.com/ksred/eatrack/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type CreateRequest struct {
	AccountNumber string `json:"account_number" binding:"required"`
	Broker        string `json:"broker" binding:"required"`
	Platform      string `json:"platform" binding:"required"`
	AccountType   string `json:"account_type"`
}

type UpdateRequest struct {
	AccountType *string `json:"account_type"`
	IsActive    *bool   `json:"is_active"`
}

// Summary is one row of the account list
type Summary struct {
	types.TradingAccount
	LatestSnapshot  *types.AccountSnapshot `json:"latest_snapshot"`
	OpenPositions   int64                  `json:"open_positions"`
	TradesCount     int64                  `json:"trades_count"`
	ClientConnected bool                   `json:"client_connected"`
	ViewerActive    bool                   `json:"viewer_active"`
}

// Detail is an account with its recent activity and copy relations
type Detail struct {
	*types.TradingAccount
	Snapshots []types.AccountSnapshot     `json:"snapshots"`
	Positions []types.Position            `json:"positions"`
	Trades    []types.TradeHistory        `json:"trades"`
	MasterOf  []types.CopyTradingRelation `json:"master_of"`
	SlaveOf   []types.CopyTradingRelation `json:"slave_of"`
}

// HeartbeatAck confirms a viewer heartbeat
type HeartbeatAck struct {
	Success bool `json:"success"`
}

const (
	detailSnapshots = 10
	detailTrades    = 50
)

type Service struct {
	db        *gorm.DB
	uow       *database.UnitOfWork
	heartbeat *heartbeat.Coordinator
}

func NewService(db *gorm.DB, hb *heartbeat.Coordinator) *Service {
	return &Service{
		db:        db,
		uow:       database.NewUnitOfWork(db),
		heartbeat: hb,
	}
}

func (s *Service) logger(accountID string) *zerolog.Logger {
	l := log.With().Str("service", "account").Str("account_id", accountID).Logger()
	return &l
}

// Create registers a trading account for userID and issues its API key
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*types.TradingAccount, error) {
	const op = "account.create"

	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	req.Broker = strings.TrimSpace(req.Broker)
	switch {
	case userID == "":
		return nil, apperr.Unauthorized(op, "User is required")
	case req.AccountNumber == "" || req.Broker == "":
		return nil, apperr.Validation(op, "account_number and broker are required")
	case req.Platform != types.PlatformMT4 && req.Platform != types.PlatformMT5:
		return nil, apperr.Validation(op, "platform must be MT4 or MT5")
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInternal, Op: op, Message: "failed to generate API key", Err: err}
	}

	account := &types.TradingAccount{
		UserID:        userID,
		Broker:        req.Broker,
		Platform:      req.Platform,
		AccountNumber: req.AccountNumber,
		AccountType:   req.AccountType,
		APIKey:        apiKey,
		IsActive:      true,
	}

	err = s.uow.Do(ctx, func(tx *database.Tx) error {
		var existing int64
		err := tx.DB().Model(&types.TradingAccount{}).
			Where("user_id = ? AND account_number = ? AND broker = ?", userID, req.AccountNumber, req.Broker).
			Count(&existing).Error
		if err != nil {
			return err
		}
		if existing > 0 {
			return apperr.Conflict(op, "This trading account is already registered")
		}
		return tx.DB().Create(account).Error
	})
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	s.logger(account.ID).Info().Str("broker", account.Broker).Str("platform", account.Platform).Msg("trading account created")
	return account, nil
}

// List returns the accounts of userID, newest first
func (s *Service) List(ctx context.Context, userID string) ([]Summary, error) {
	const op = "account.list"
	db := s.db.WithContext(ctx)

	var accounts []types.TradingAccount
	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&accounts).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}

	out := make([]Summary, 0, len(accounts))
	for i := range accounts {
		acc := &accounts[i]
		sum := Summary{
			TradingAccount:  *acc,
			ClientConnected: s.heartbeat.ClientConnected(acc),
			ViewerActive:    s.heartbeat.ViewerMode(acc) == heartbeat.ModeActive,
		}

		var snaps []types.AccountSnapshot
		if err := db.Where("trading_account_id = ?", acc.ID).Order("timestamp DESC").Limit(1).Find(&snaps).Error; err != nil {
			return nil, apperr.FromStore(op, err)
		}
		if len(snaps) > 0 {
			sum.LatestSnapshot = &snaps[0]
		}
		if err := db.Model(&types.Position{}).Where("trading_account_id = ?", acc.ID).Count(&sum.OpenPositions).Error; err != nil {
			return nil, apperr.FromStore(op, err)
		}
		if err := db.Model(&types.TradeHistory{}).Where("trading_account_id = ?", acc.ID).Count(&sum.TradesCount).Error; err != nil {
			return nil, apperr.FromStore(op, err)
		}
		out = append(out, sum)
	}
	return out, nil
}

// Get returns an account with its latest snapshots, open positions, recent
// trades and copy relations
func (s *Service) Get(ctx context.Context, userID, accountID string) (*Detail, error) {
	const op = "account.get"
	db := s.db.WithContext(ctx)

	account, err := database.OwnedAccount(db, userID, accountID)
	if err != nil {
		return nil, err
	}

	d := &Detail{TradingAccount: account}
	queries := []struct {
		q    *gorm.DB
		dest interface{}
	}{
		{db.Where("trading_account_id = ?", accountID).Order("timestamp DESC").Limit(detailSnapshots), &d.Snapshots},
		{db.Where("trading_account_id = ?", accountID).Order("open_time DESC"), &d.Positions},
		{db.Where("trading_account_id = ?", accountID).Order("close_time DESC").Limit(detailTrades), &d.Trades},
		{db.Where("master_account_id = ?", accountID), &d.MasterOf},
		{db.Where("slave_account_id = ?", accountID), &d.SlaveOf},
	}
	for _, item := range queries {
		if err := item.q.Find(item.dest).Error; err != nil {
			return nil, apperr.FromStore(op, err)
		}
	}
	return d, nil
}

// Update changes the account type or the active flag. A disabled account's
// API key is rejected until it is enabled again.
func (s *Service) Update(ctx context.Context, userID, accountID string, req UpdateRequest) (*types.TradingAccount, error) {
	const op = "account.update"

	var account *types.TradingAccount
	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		var err error
		if account, err = database.OwnedAccount(tx.DB(), userID, accountID); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if req.AccountType != nil {
			account.AccountType = *req.AccountType
			updates["account_type"] = account.AccountType
		}
		if req.IsActive != nil {
			account.IsActive = *req.IsActive
			updates["is_active"] = account.IsActive
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.DB().Model(account).Updates(updates).Error
	})
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return account, nil
}

// Delete removes the account and everything recorded for it
func (s *Service) Delete(ctx context.Context, userID, accountID string) error {
	const op = "account.delete"

	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		if _, err := database.OwnedAccount(tx.DB(), userID, accountID); err != nil {
			return err
		}
		return DeleteTx(tx, accountID)
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		if apperr.Retryable(err) {
			s.logger(accountID).Error().Err(err).Msg("failed to delete trading account")
		}
		return err
	}

	s.logger(accountID).Info().Msg("trading account deleted")
	return nil
}

// DeleteTx cascades an account delete through every table that references it
func DeleteTx(tx *database.Tx, accountID string) error {
	if err := copytrading.DeleteAccountRelationsTx(tx, accountID); err != nil {
		return err
	}
	for _, model := range []interface{}{
		&types.Position{},
		&types.TradeHistory{},
		&types.AccountSnapshot{},
		&types.ExpertAdvisor{},
	} {
		if err := tx.DB().Where("trading_account_id = ?", accountID).Delete(model).Error; err != nil {
			return err
		}
	}
	return tx.DB().Where("id = ?", accountID).Delete(&types.TradingAccount{}).Error
}

// RotateAPIKey replaces the account's key. The old key stops working immediately.
func (s *Service) RotateAPIKey(ctx context.Context, userID, accountID string) (*types.TradingAccount, error) {
	const op = "account.rotate_api_key"

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInternal, Op: op, Message: "failed to generate API key", Err: err}
	}

	var account *types.TradingAccount
	err = s.uow.Do(ctx, func(tx *database.Tx) error {
		var err error
		if account, err = database.OwnedAccount(tx.DB(), userID, accountID); err != nil {
			return err
		}
		account.APIKey = apiKey
		return tx.DB().Model(account).Update("api_key", apiKey).Error
	})
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	s.logger(accountID).Info().Msg("api key rotated")
	return account, nil
}

// SendHeartbeat marks the account as being watched by its owner right now
func (s *Service) SendHeartbeat(ctx context.Context, userID, accountID string) (*HeartbeatAck, error) {
	if _, err := database.OwnedAccount(s.db.WithContext(ctx), userID, accountID); err != nil {
		return nil, err
	}
	if err := s.heartbeat.StampViewer(ctx, accountID); err != nil {
		return nil, err
	}
	return &HeartbeatAck{Success: true}, nil
}

// GinHandlers contains HTTP handlers for trading accounts
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateHandler handles POST /accounts
func (h *GinHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		account, err := h.service.Create(c.Request.Context(), middleware.CurrentUserID(c), req)
		response.Handle(c, account, err)
	}
}

// ListHandler handles GET /accounts
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.service.List(c.Request.Context(), middleware.CurrentUserID(c))
		response.Handle(c, accounts, err)
	}
}

// GetHandler handles GET /accounts/:id
func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := h.service.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		response.Handle(c, detail, err)
	}
}

// UpdateHandler handles PATCH /accounts/:id
func (h *GinHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		account, err := h.service.Update(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
		response.Handle(c, account, err)
	}
}

// DeleteHandler handles DELETE /accounts/:id
func (h *GinHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.NoContent(c)
	}
}

// HeartbeatHandler handles POST /accounts/:id/heartbeat
func (h *GinHandlers) HeartbeatHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ack, err := h.service.SendHeartbeat(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, ack)
	}
}

// RotateKeyHandler handles POST /accounts/:id/api-key
func (h *GinHandlers) RotateKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.RotateAPIKey(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, account)
	}
}
