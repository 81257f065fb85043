package statistics

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/heartbeat"
	"github.com/ksred/eatrack/internal/types"
	"github.com/ksred/eatrack/pkg/middleware"
	"github.com/ksred/eatrack/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// RecentTradesLimit is how many of the latest trades GetStatistics returns
const RecentTradesLimit = 10

// Service answers dashboard statistics queries and refreshes the cached EA figures
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

type accountTotals struct {
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	TotalProfit     float64
	TotalSwap       float64
	TotalCommission float64
}

// GetAccountStats summarises an account's history, open positions and latest snapshot
func (s *Service) GetAccountStats(ctx context.Context, userID, accountID string) (*types.AccountStats, error) {
	const op = "statistics.account_stats"
	db := s.db.WithContext(ctx)

	account, err := database.OwnedAccount(db, userID, accountID)
	if err != nil {
		return nil, err
	}

	stats := &types.AccountStats{
		ViewerActive:    s.heartbeat.ViewerMode(account) == heartbeat.ModeActive,
		ClientConnected: s.heartbeat.ClientConnected(account),
	}

	var snaps []types.AccountSnapshot
	if err := db.Where("trading_account_id = ?", accountID).Order("timestamp DESC").Limit(1).Find(&snaps).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}
	if len(snaps) > 0 {
		stats.LatestSnapshot = &snaps[0]
	}

	if err := db.Model(&types.Position{}).Where("trading_account_id = ?", accountID).Count(&stats.OpenPositionsCount).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}

	var totals accountTotals
	err = db.Model(&types.TradeHistory{}).
		Select(`COUNT(*) AS total_trades,
			COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0) AS winning_trades,
			COALESCE(SUM(CASE WHEN profit < 0 THEN 1 ELSE 0 END), 0) AS losing_trades,
			COALESCE(SUM(profit), 0) AS total_profit,
			COALESCE(SUM(swap), 0) AS total_swap,
			COALESCE(SUM(commission), 0) AS total_commission`).
		Where("trading_account_id = ?", accountID).
		Scan(&totals).Error
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	stats.TotalTrades = totals.TotalTrades
	stats.WinningTrades = totals.WinningTrades
	stats.LosingTrades = totals.LosingTrades
	if totals.TotalTrades > 0 {
		stats.WinRate = Round2(float64(totals.WinningTrades) / float64(totals.TotalTrades) * 100)
	}
	stats.TotalProfit = Round2(totals.TotalProfit)
	stats.TotalSwap = Round2(totals.TotalSwap)
	stats.TotalCommission = Round2(totals.TotalCommission)
	stats.NetProfit = Round2(totals.TotalProfit + totals.TotalSwap + totals.TotalCommission)

	return stats, nil
}

// GetStatistics computes the live statistics of an EA along with its latest trades
func (s *Service) GetStatistics(ctx context.Context, userID, expertAdvisorID string) (*types.ExpertAdvisorStatistics, error) {
	const op = "statistics.expert_advisor"
	db := s.db.WithContext(ctx)

	ea, err := database.OwnedExpertAdvisor(db, userID, expertAdvisorID)
	if err != nil {
		return nil, err
	}

	var trades []types.TradeHistory
	if err := db.Where("expert_advisor_id = ?", ea.ID).Order("close_time DESC, ticket DESC").Find(&trades).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}

	var open int64
	if err := db.Model(&types.Position{}).Where("expert_advisor_id = ?", ea.ID).Count(&open).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}

	recent := trades
	if len(recent) > RecentTradesLimit {
		recent = recent[:RecentTradesLimit]
	}

	return &types.ExpertAdvisorStatistics{
		ExpertAdvisor: ea,
		Statistics:    Compute(trades, Live).Statistics(int(open)),
		RecentTrades:  recent,
	}, nil
}

// Recalculate refreshes the cached statistics stored on the EA
func (s *Service) Recalculate(ctx context.Context, userID, expertAdvisorID string) (*types.ExpertAdvisor, error) {
	const op = "statistics.recalculate"

	ea, err := database.OwnedExpertAdvisor(s.db.WithContext(ctx), userID, expertAdvisorID)
	if err != nil {
		return nil, err
	}

	err = s.uow.Do(ctx, func(tx *database.Tx) error {
		return RecalculateTx(tx, ea)
	})
	if err != nil {
		log.Error().Err(err).Str("expert_advisor_id", ea.ID).Msg("failed to recalculate statistics")
		return nil, apperr.FromStore(op, err)
	}
	return ea, nil
}

// RecalculateTx recomputes the cached figures of ea from its linked trades and
// writes them back inside tx. ea is updated in place.
func RecalculateTx(tx *database.Tx, ea *types.ExpertAdvisor) error {
	var trades []types.TradeHistory
	if err := tx.DB().Where("expert_advisor_id = ?", ea.ID).Find(&trades).Error; err != nil {
		return err
	}

	r := Compute(trades, Cached)
	ea.TotalTrades = r.TotalTrades
	ea.WinningTrades = r.WinningTrades
	ea.LosingTrades = r.LosingTrades
	ea.TotalProfit = r.TotalProfit
	ea.TotalLoss = r.TotalLoss
	ea.MaxDrawdown = r.MaxDrawdown
	ea.MaxProfit = r.MaxProfit
	ea.AverageWin = r.AverageWin()
	ea.AverageLoss = r.AverageLoss()
	ea.LastTradeAt = r.LastTradeAt

	return tx.DB().Model(ea).Select(
		"total_trades", "winning_trades", "losing_trades", "total_profit", "total_loss",
		"max_drawdown", "max_profit", "average_win", "average_loss", "last_trade_at",
	).Updates(ea).Error
}

// EquityCurve returns the cumulative-profit curve of the account, optionally
// restricted to one EA
func (s *Service) EquityCurve(ctx context.Context, userID, accountID, expertAdvisorID string) ([]types.EquityPoint, error) {
	const op = "statistics.equity_curve"
	db := s.db.WithContext(ctx)

	if _, err := database.OwnedAccount(db, userID, accountID); err != nil {
		return nil, err
	}

	q := db.Where("trading_account_id = ?", accountID)
	if expertAdvisorID != "" {
		q = q.Where("expert_advisor_id = ?", expertAdvisorID)
	}

	var trades []types.TradeHistory
	if err := q.Order("close_time ASC").Find(&trades).Error; err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return DrawdownCurve(trades), nil
}

// GinHandlers contains HTTP handlers for statistics endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// AccountStatsHandler handles GET /accounts/:id/stats
func (h *GinHandlers) AccountStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.GetAccountStats(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		response.Handle(c, stats, err)
	}
}

// EquityCurveHandler handles GET /accounts/:id/equity-curve?expert_advisor_id=
func (h *GinHandlers) EquityCurveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		curve, err := h.service.EquityCurve(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), c.Query("expert_advisor_id"))
		response.Handle(c, curve, err)
	}
}

// ExpertStatisticsHandler handles GET /experts/:id/statistics
func (h *GinHandlers) ExpertStatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.GetStatistics(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		response.Handle(c, stats, err)
	}
}

// RecalculateHandler handles POST /experts/:id/recalculate
func (h *GinHandlers) RecalculateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ea, err := h.service.Recalculate(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, ea)
	}
}
