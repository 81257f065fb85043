package expertadvisor

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/statistics"
	"github.com/ksred/eatrack/internal/types"
	"github.com/ksred/eatrack/pkg/middleware"
	"github.com/ksred/eatrack/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	MagicNumber *int64  `json:"magic_number" binding:"required"`
	Color       *string `json:"color"`
}

type UpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MagicNumber *int64  `json:"magic_number"`
	Color       *string `json:"color"`
	IsActive    *bool   `json:"is_active"`
}

// Created is returned from Create with the number of existing rows that were
// linked to the new EA by magic number
type Created struct {
	*types.ExpertAdvisor
	AssociatedTrades    int64 `json:"associated_trades"`
	AssociatedPositions int64 `json:"associated_positions"`
}

// Summary is one row of the EA list of an account
type Summary struct {
	types.ExpertAdvisor
	PositionsCount int64 `json:"positions_count"`
	TradesCount    int64 `json:"trades_count"`
}

// Detail is an EA with its open positions and closed trades
type Detail struct {
	*types.ExpertAdvisor
	Positions []types.Position     `json:"positions"`
	Trades    []types.TradeHistory `json:"trades"`
}

type Service struct {
	db  *gorm.DB
	uow *database.UnitOfWork
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:  db,
		uow: database.NewUnitOfWork(db),
	}
}

const magicConflict = "Magic number already exists for this account"

func magicTaken(tx *database.Tx, accountID string, magic int64, exceptID string) (bool, error) {
	q := tx.DB().Model(&types.ExpertAdvisor{}).
		Where("trading_account_id = ? AND magic_number = ?", accountID, magic)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create registers an EA on an account. Trades and positions already carrying
// its magic number and no EA link are claimed, and the cached statistics are
// computed when any trades were claimed.
func (s *Service) Create(ctx context.Context, userID, accountID string, req CreateRequest) (*Created, error) {
	const op = "expertadvisor.create"

	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation(op, "Name is required")
	}
	if req.MagicNumber == nil {
		return nil, apperr.Validation(op, "magic_number is required")
	}
	if *req.MagicNumber < 0 {
		return nil, apperr.Validation(op, "Magic number must be positive")
	}

	logger := log.With().Str("service", "expertadvisor").Str("account_id", accountID).
		Int64("magic_number", *req.MagicNumber).Logger()

	out := &Created{}
	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		if _, err := database.OwnedAccount(tx.DB(), userID, accountID); err != nil {
			return err
		}

		taken, err := magicTaken(tx, accountID, *req.MagicNumber, "")
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict(op, magicConflict)
		}

		ea := &types.ExpertAdvisor{
			TradingAccountID: accountID,
			MagicNumber:      *req.MagicNumber,
			Name:             req.Name,
			Description:      req.Description,
			Color:            req.Color,
			IsActive:         true,
		}
		if err := tx.DB().Create(ea).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict(op, magicConflict)
			}
			return err
		}
		out.ExpertAdvisor = ea

		trades := tx.DB().Model(&types.TradeHistory{}).
			Where("trading_account_id = ? AND magic_number = ? AND expert_advisor_id IS NULL", accountID, ea.MagicNumber).
			Update("expert_advisor_id", ea.ID)
		if trades.Error != nil {
			return trades.Error
		}
		out.AssociatedTrades = trades.RowsAffected

		positions := tx.DB().Model(&types.Position{}).
			Where("trading_account_id = ? AND magic_number = ? AND expert_advisor_id IS NULL", accountID, ea.MagicNumber).
			Update("expert_advisor_id", ea.ID)
		if positions.Error != nil {
			return positions.Error
		}
		out.AssociatedPositions = positions.RowsAffected

		if out.AssociatedTrades > 0 {
			return statistics.RecalculateTx(tx, ea)
		}
		return nil
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		if apperr.Retryable(err) {
			logger.Error().Err(err).Msg("failed to create expert advisor")
		}
		return nil, err
	}

	logger.Info().
		Str("expert_advisor_id", out.ID).
		Int64("associated_trades", out.AssociatedTrades).
		Int64("associated_positions", out.AssociatedPositions).
		Msg("expert advisor created")
	return out, nil
}

// List returns the EAs of an account, newest first, with row counts
func (s *Service) List(ctx context.Context, userID, accountID string) ([]Summary, error) {
	const op = "expertadvisor.list"
	db := s.db.WithContext(ctx)

	if _, err := database.OwnedAccount(db, userID, accountID); err != nil {
		return nil, err
	}

	var eas []types.ExpertAdvisor
	if err := db.Where("trading_account_id = ?", accountID).Order("created_at DESC").Find(&eas).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}

	positions, err := countByExpert(db, &types.Position{}, accountID)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	trades, err := countByExpert(db, &types.TradeHistory{}, accountID)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	out := make([]Summary, len(eas))
	for i, ea := range eas {
		out[i] = Summary{
			ExpertAdvisor:  ea,
			PositionsCount: positions[ea.ID],
			TradesCount:    trades[ea.ID],
		}
	}
	return out, nil
}

func countByExpert(db *gorm.DB, model interface{}, accountID string) (map[string]int64, error) {
	var rows []struct {
		ExpertAdvisorID string
		N               int64
	}
	err := db.Model(model).
		Select("expert_advisor_id, COUNT(*) AS n").
		Where("trading_account_id = ? AND expert_advisor_id IS NOT NULL", accountID).
		Group("expert_advisor_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ExpertAdvisorID] = r.N
	}
	return out, nil
}

// Get returns an EA with its linked positions and trades
func (s *Service) Get(ctx context.Context, userID, expertAdvisorID string) (*Detail, error) {
	const op = "expertadvisor.get"
	db := s.db.WithContext(ctx)

	ea, err := database.OwnedExpertAdvisor(db, userID, expertAdvisorID)
	if err != nil {
		return nil, err
	}

	detail := &Detail{ExpertAdvisor: ea}
	if err := db.Where("expert_advisor_id = ?", ea.ID).Order("open_time DESC").Find(&detail.Positions).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}
	if err := db.Where("expert_advisor_id = ?", ea.ID).Order("close_time DESC").Find(&detail.Trades).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return detail, nil
}

// Update edits an EA. Changing the magic number does not move existing links.
func (s *Service) Update(ctx context.Context, userID, expertAdvisorID string, req UpdateRequest) (*types.ExpertAdvisor, error) {
	const op = "expertadvisor.update"

	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, apperr.Validation(op, "Name is required")
	}
	if req.MagicNumber != nil && *req.MagicNumber < 0 {
		return nil, apperr.Validation(op, "Magic number must be positive")
	}

	var ea *types.ExpertAdvisor
	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		var err error
		if ea, err = database.OwnedExpertAdvisor(tx.DB(), userID, expertAdvisorID); err != nil {
			return err
		}

		if req.MagicNumber != nil && *req.MagicNumber != ea.MagicNumber {
			taken, err := magicTaken(tx, ea.TradingAccountID, *req.MagicNumber, ea.ID)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Conflict(op, magicConflict)
			}
			ea.MagicNumber = *req.MagicNumber
		}
		if req.Name != nil {
			ea.Name = *req.Name
		}
		if req.Description != nil {
			ea.Description = req.Description
		}
		if req.Color != nil {
			ea.Color = req.Color
		}
		if req.IsActive != nil {
			ea.IsActive = *req.IsActive
		}

		if err := tx.DB().Save(ea).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict(op, magicConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return ea, nil
}

// Delete removes an EA. Its trades and positions stay and lose the link.
func (s *Service) Delete(ctx context.Context, userID, expertAdvisorID string) error {
	const op = "expertadvisor.delete"

	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		ea, err := database.OwnedExpertAdvisor(tx.DB(), userID, expertAdvisorID)
		if err != nil {
			return err
		}
		return DeleteTx(tx, ea.ID)
	})
	if err != nil {
		return apperr.FromStore(op, err)
	}

	log.Info().Str("service", "expertadvisor").Str("expert_advisor_id", expertAdvisorID).Msg("expert advisor deleted")
	return nil
}

// DeleteTx unlinks the EA's rows and deletes it
func DeleteTx(tx *database.Tx, expertAdvisorID string) error {
	for _, model := range []interface{}{&types.TradeHistory{}, &types.Position{}} {
		err := tx.DB().Model(model).
			Where("expert_advisor_id = ?", expertAdvisorID).
			Update("expert_advisor_id", nil).Error
		if err != nil {
			return err
		}
	}
	return tx.DB().Where("id = ?", expertAdvisorID).Delete(&types.ExpertAdvisor{}).Error
}

// GinHandlers contains HTTP handlers for expert advisors
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateHandler handles POST /accounts/:id/experts
func (h *GinHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		created, err := h.service.Create(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
		response.Handle(c, created, err)
	}
}

// ListHandler handles GET /accounts/:id/experts
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.List(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		response.Handle(c, list, err)
	}
}

// GetHandler handles GET /experts/:id
func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := h.service.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		response.Handle(c, detail, err)
	}
}

// UpdateHandler handles PATCH /experts/:id
func (h *GinHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		ea, err := h.service.Update(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
		response.Handle(c, ea, err)
	}
}

// DeleteHandler handles DELETE /experts/:id
func (h *GinHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.NoContent(c)
	}
}
