// Package copytrading manages master/slave copy relations between trading
// accounts. Relations are configuration only; nothing here copies trades.
package copytrading

import (
	"context"
	"errors"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/types"
	"github.com/ksred/eatrack/pkg/middleware"
	"github.com/ksred/eatrack/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	MinRiskMultiplier = 0.01
	MaxRiskMultiplier = 10
)

// CreateRelationRequest configures a new master -> slave relation
type CreateRelationRequest struct {
	MasterAccountID string   `json:"master_account_id" binding:"required"`
	SlaveAccountID  string   `json:"slave_account_id" binding:"required"`
	RiskMultiplier  *float64 `json:"risk_multiplier"`
	AllowedSymbols  []string `json:"allowed_symbols"`
	MaxLotSize      *float64 `json:"max_lot_size"`
	MinLotSize      *float64 `json:"min_lot_size"`
}

// UpdateRelationRequest changes the settings of a relation. Nil fields are left alone.
type UpdateRelationRequest struct {
	IsActive       *bool     `json:"is_active"`
	RiskMultiplier *float64  `json:"risk_multiplier"`
	AllowedSymbols *[]string `json:"allowed_symbols"`
	MaxLotSize     *float64  `json:"max_lot_size"`
	MinLotSize     *float64  `json:"min_lot_size"`
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

func validateSettings(op string, risk, minLot, maxLot *float64) error {
	if risk != nil && (math.IsNaN(*risk) || *risk < MinRiskMultiplier || *risk > MaxRiskMultiplier) {
		return apperr.Validation(op, "risk_multiplier must be between 0.01 and 10")
	}
	if minLot != nil && !(*minLot > 0) {
		return apperr.Validation(op, "min_lot_size must be positive")
	}
	if maxLot != nil && !(*maxLot > 0) {
		return apperr.Validation(op, "max_lot_size must be positive")
	}
	if minLot != nil && maxLot != nil && *minLot > *maxLot {
		return apperr.Validation(op, "min_lot_size must not exceed max_lot_size")
	}
	return nil
}

// Create adds a relation between two accounts of userID and marks their roles
func (s *Service) Create(ctx context.Context, userID string, req CreateRelationRequest) (*types.CopyTradingRelation, error) {
	const op = "copytrading.create"
	logger := log.With().Str("service", "copytrading").Str("master_account_id", req.MasterAccountID).
		Str("slave_account_id", req.SlaveAccountID).Logger()

	if err := validateSettings(op, req.RiskMultiplier, req.MinLotSize, req.MaxLotSize); err != nil {
		return nil, err
	}

	relation := &types.CopyTradingRelation{
		MasterAccountID: req.MasterAccountID,
		SlaveAccountID:  req.SlaveAccountID,
		RiskMultiplier:  1,
		AllowedSymbols:  req.AllowedSymbols,
		MaxLotSize:      req.MaxLotSize,
		MinLotSize:      req.MinLotSize,
		IsActive:        true,
	}
	if req.RiskMultiplier != nil {
		relation.RiskMultiplier = *req.RiskMultiplier
	}
	if relation.AllowedSymbols == nil {
		relation.AllowedSymbols = []string{}
	}

	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		owned, err := accountsOwnedBy(tx, userID, req.MasterAccountID, req.SlaveAccountID)
		if err != nil {
			return err
		}
		if !owned[req.MasterAccountID] || !owned[req.SlaveAccountID] {
			return apperr.NotFound(op, "One or both trading accounts not found")
		}
		if req.MasterAccountID == req.SlaveAccountID {
			return apperr.Validation(op, "Cannot copy trade to the same account")
		}

		var existing int64
		err = tx.DB().Model(&types.CopyTradingRelation{}).
			Where("master_account_id = ? AND slave_account_id = ?", req.MasterAccountID, req.SlaveAccountID).
			Count(&existing).Error
		if err != nil {
			return err
		}
		if existing > 0 {
			return apperr.Conflict(op, "Copy trading relation already exists")
		}

		if err := tx.DB().Create(relation).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict(op, "Copy trading relation already exists")
			}
			return err
		}
		return RefreshRoleFlagsTx(tx, req.MasterAccountID, req.SlaveAccountID)
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		if apperr.Retryable(err) {
			logger.Error().Err(err).Msg("failed to create copy relation")
		}
		return nil, err
	}

	logger.Info().Str("relation_id", relation.ID).Msg("copy relation created")
	return relation, nil
}

// authorize loads the relation and checks userID owns at least one side of it
func (s *Service) authorize(tx *database.Tx, op, userID, relationID string) (*types.CopyTradingRelation, error) {
	var relation types.CopyTradingRelation
	err := tx.DB().Where("id = ?", relationID).Take(&relation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(op, "Copy trading relation not found")
	}
	if err != nil {
		return nil, err
	}

	owned, err := accountsOwnedBy(tx, userID, relation.MasterAccountID, relation.SlaveAccountID)
	if err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return nil, apperr.Forbidden(op, "You don't have permission to modify this relation")
	}
	return &relation, nil
}

// Update changes relation settings
func (s *Service) Update(ctx context.Context, userID, relationID string, req UpdateRelationRequest) (*types.CopyTradingRelation, error) {
	const op = "copytrading.update"

	var relation *types.CopyTradingRelation
	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		var err error
		if relation, err = s.authorize(tx, op, userID, relationID); err != nil {
			return err
		}

		minLot, maxLot := relation.MinLotSize, relation.MaxLotSize
		if req.MinLotSize != nil {
			minLot = req.MinLotSize
		}
		if req.MaxLotSize != nil {
			maxLot = req.MaxLotSize
		}
		if err := validateSettings(op, req.RiskMultiplier, minLot, maxLot); err != nil {
			return err
		}

		if req.IsActive != nil {
			relation.IsActive = *req.IsActive
		}
		if req.RiskMultiplier != nil {
			relation.RiskMultiplier = *req.RiskMultiplier
		}
		if req.AllowedSymbols != nil {
			relation.AllowedSymbols = *req.AllowedSymbols
		}
		relation.MinLotSize, relation.MaxLotSize = minLot, maxLot

		return tx.DB().Save(relation).Error
	})
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return relation, nil
}

// Delete removes a relation. An account keeps its master or slave flag only
// while some other relation still needs it.
func (s *Service) Delete(ctx context.Context, userID, relationID string) error {
	const op = "copytrading.delete"

	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		relation, err := s.authorize(tx, op, userID, relationID)
		if err != nil {
			return err
		}
		if err := tx.DB().Delete(relation).Error; err != nil {
			return err
		}
		return RefreshRoleFlagsTx(tx, relation.MasterAccountID, relation.SlaveAccountID)
	})
	if err != nil {
		return apperr.FromStore(op, err)
	}

	log.Info().Str("service", "copytrading").Str("relation_id", relationID).Msg("copy relation deleted")
	return nil
}

// List returns the relations touching any account of userID, newest first.
// A non-empty accountID restricts the list to that account.
func (s *Service) List(ctx context.Context, userID, accountID string) ([]types.CopyTradingRelation, error) {
	const op = "copytrading.list"
	db := s.db.WithContext(ctx)

	var ids []string
	if accountID != "" {
		if _, err := database.OwnedAccount(db, userID, accountID); err != nil {
			return nil, err
		}
		ids = []string{accountID}
	} else if err := db.Model(&types.TradingAccount{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}

	relations := []types.CopyTradingRelation{}
	if len(ids) == 0 {
		return relations, nil
	}
	err := db.Where("master_account_id IN ? OR slave_account_id IN ?", ids, ids).
		Order("created_at DESC").
		Find(&relations).Error
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return relations, nil
}

// GinHandlers contains HTTP handlers for copy relations
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateHandler handles POST /copy-relations
func (h *GinHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRelationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		relation, err := h.service.Create(c.Request.Context(), middleware.CurrentUserID(c), req)
		response.Handle(c, relation, err)
	}
}

// ListHandler handles GET /copy-relations?account_id=
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		relations, err := h.service.List(c.Request.Context(), middleware.CurrentUserID(c), c.Query("account_id"))
		response.Handle(c, relations, err)
	}
}

// UpdateHandler handles PATCH /copy-relations/:id
func (h *GinHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRelationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		relation, err := h.service.Update(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
		response.Handle(c, relation, err)
	}
}

// DeleteHandler handles DELETE /copy-relations/:id
func (h *GinHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.NoContent(c)
	}
}
