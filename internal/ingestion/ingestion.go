package ingestion

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/heartbeat"
	"github.com/ksred/eatrack/internal/types"
	"github.com/ksred/eatrack/pkg/middleware"
	"github.com/ksred/eatrack/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service applies EA telemetry to the store. Every mutation runs in one unit of
// work together with the client-sync stamp, and is keyed by ticket so a caller
// may retry any failed call in full.
type Service struct {
	uow       *database.UnitOfWork
	heartbeat *heartbeat.Coordinator
}

// NewService creates a new ingestion service with the given database connection
func NewService(gormDB *gorm.DB, hb *heartbeat.Coordinator) *Service {
	return &Service{
		uow:       database.NewUnitOfWork(gormDB),
		heartbeat: hb,
	}
}

func (s *Service) logger(op string, account *types.TradingAccount) zerolog.Logger {
	return log.With().
		Str("service", "ingestion").
		Str("op", op).
		Str("account_id", account.ID).
		Logger()
}

// failure logs retryable store errors at Error. Rejections such as a replayed
// upsert for a closed ticket are expected traffic and go to Warn.
func failure(logger *zerolog.Logger, err error) *zerolog.Event {
	if apperr.Retryable(err) {
		return logger.Error().Err(err)
	}
	return logger.Warn().Err(err)
}

// SubmitSnapshot appends one account snapshot and returns the viewer freshness hint.
// It does not touch the viewer heartbeat.
func (s *Service) SubmitSnapshot(ctx context.Context, account *types.TradingAccount, snap types.AccountSnapshot) (*types.SnapshotAck, error) {
	const op = "ingestion.submit_snapshot"
	logger := s.logger(op, account)

	snap.ID = ""
	snap.TradingAccountID = account.ID
	snap.Timestamp = s.heartbeat.Now().UTC()

	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		if err := createSnapshot(tx, &snap); err != nil {
			return err
		}
		return s.heartbeat.StampClientTx(tx, account.ID)
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		failure(&logger, err).Msg("failed to store snapshot")
		return nil, err
	}

	logger.Debug().Str("snapshot_id", snap.ID).Float64("equity", snap.Equity).Msg("snapshot stored")

	return &types.SnapshotAck{
		Success:              true,
		SnapshotID:           snap.ID,
		LastHeartbeatSeconds: s.heartbeat.ViewerElapsed(account),
	}, nil
}

// ReplacePositions swaps the account's open positions for positions in one
// transaction. Tickets already closed in history are not reinstated.
func (s *Service) ReplacePositions(ctx context.Context, account *types.TradingAccount, positions []types.Position) (*types.PositionsSyncAck, error) {
	const op = "ingestion.replace_positions"
	logger := s.logger(op, account)

	var stored int
	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		tickets := make([]string, len(positions))
		for i := range positions {
			tickets[i] = positions[i].Ticket
		}
		closed, err := closedTickets(tx, account.ID, tickets)
		if err != nil {
			return err
		}

		resolver := newEAResolver(tx, account.ID)
		rows := make([]types.Position, 0, len(positions))
		for _, pos := range positions {
			if _, ok := closed[pos.Ticket]; ok {
				logger.Warn().Str("ticket", pos.Ticket).Msg("skipping position already closed in history")
				continue
			}
			pos.ID = ""
			pos.TradingAccountID = account.ID
			if pos.ExpertAdvisorID, err = resolver.resolve(pos.MagicNumber); err != nil {
				return err
			}
			rows = append(rows, pos)
		}

		if err := deletePositions(tx, account.ID); err != nil {
			return err
		}
		if err := insertPositions(tx, rows); err != nil {
			return err
		}
		stored = len(rows)
		return s.heartbeat.StampClientTx(tx, account.ID)
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		failure(&logger, err).Int("positions", len(positions)).Msg("failed to replace positions")
		return nil, err
	}

	logger.Debug().Int("positions", stored).Msg("positions replaced")

	return &types.PositionsSyncAck{Success: true, PositionsCount: stored}, nil
}

// UpsertPosition creates or updates the open position with pos.Ticket.
// open price and open time keep the values from creation.
func (s *Service) UpsertPosition(ctx context.Context, account *types.TradingAccount, pos types.Position) (*types.PositionAck, error) {
	const op = "ingestion.upsert_position"
	logger := s.logger(op, account).With().Str("ticket", pos.Ticket).Logger()

	pos.ID = ""
	pos.TradingAccountID = account.ID

	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		closed, err := closedTickets(tx, account.ID, []string{pos.Ticket})
		if err != nil {
			return err
		}
		if _, ok := closed[pos.Ticket]; ok {
			return apperr.Conflict(op, "ticket is already closed")
		}

		if pos.ExpertAdvisorID, err = newEAResolver(tx, account.ID).resolve(pos.MagicNumber); err != nil {
			return err
		}
		if err := upsertPosition(tx, &pos); err != nil {
			return err
		}
		return s.heartbeat.StampClientTx(tx, account.ID)
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		failure(&logger, err).Msg("failed to upsert position")
		return nil, err
	}

	return &types.PositionAck{
		Success:              true,
		PositionID:           pos.ID,
		LastHeartbeatSeconds: s.heartbeat.ViewerElapsed(account),
	}, nil
}

// ClosePosition moves a ticket from open positions to history. A ticket that was
// never open is written to history directly; a replayed close overwrites the
// earlier history row.
func (s *Service) ClosePosition(ctx context.Context, account *types.TradingAccount, trade types.TradeHistory) (*types.CloseAck, error) {
	const op = "ingestion.close_position"
	logger := s.logger(op, account).With().Str("ticket", trade.Ticket).Logger()

	trade.ID = ""
	trade.TradingAccountID = account.ID

	var wasOpen bool
	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		open, err := takePosition(tx, account.ID, trade.Ticket)
		if err != nil {
			return err
		}
		wasOpen = open != nil

		if open != nil && open.ExpertAdvisorID != nil && sameMagic(open.MagicNumber, trade.MagicNumber) {
			trade.ExpertAdvisorID = open.ExpertAdvisorID
		} else if trade.ExpertAdvisorID, err = newEAResolver(tx, account.ID).resolve(trade.MagicNumber); err != nil {
			return err
		}

		if err := deletePosition(tx, account.ID, trade.Ticket); err != nil {
			return err
		}
		if err := upsertTrade(tx, &trade); err != nil {
			return err
		}
		return s.heartbeat.StampClientTx(tx, account.ID)
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		failure(&logger, err).Msg("failed to close position")
		return nil, err
	}

	logger.Debug().Bool("was_open", wasOpen).Float64("profit", trade.Profit).Msg("position closed")

	return &types.CloseAck{Success: true}, nil
}

// BulkSyncHistory upserts a batch of closed trades, optionally clearing the
// account's history first. The whole batch commits or none of it does.
func (s *Service) BulkSyncHistory(ctx context.Context, account *types.TradingAccount, trades []types.TradeHistory, replaceAll bool) (*types.HistorySyncAck, error) {
	const op = "ingestion.bulk_sync_history"
	logger := s.logger(op, account)

	err := s.uow.Do(ctx, func(tx *database.Tx) error {
		if replaceAll {
			if err := deleteHistory(tx, account.ID); err != nil {
				return err
			}
		}

		resolver := newEAResolver(tx, account.ID)
		tickets := make([]string, 0, len(trades))
		for i := range trades {
			trade := trades[i]
			trade.ID = ""
			trade.TradingAccountID = account.ID

			var err error
			if trade.ExpertAdvisorID, err = resolver.resolve(trade.MagicNumber); err != nil {
				return err
			}
			if err := upsertTrade(tx, &trade); err != nil {
				return err
			}
			tickets = append(tickets, trade.Ticket)
		}

		if err := deletePositionsByTicket(tx, account.ID, tickets); err != nil {
			return err
		}
		return s.heartbeat.StampClientTx(tx, account.ID)
	})
	if err != nil {
		err = apperr.FromStore(op, err)
		failure(&logger, err).Int("trades", len(trades)).Bool("replace_all", replaceAll).Msg("failed to sync history")
		return nil, err
	}

	logger.Info().Int("trades", len(trades)).Bool("replace_all", replaceAll).Msg("history synced")

	return &types.HistorySyncAck{Success: true, TradesCount: len(trades)}, nil
}

// Ping confirms the key is valid and records the client contact
func (s *Service) Ping(ctx context.Context, account *types.TradingAccount) (*types.PingAck, error) {
	if err := s.heartbeat.StampClient(ctx, account.ID); err != nil {
		return nil, err
	}
	return &types.PingAck{
		Success:   true,
		AccountID: account.ID,
		Timestamp: s.heartbeat.Now().UTC(),
	}, nil
}

// CheckActivity reports whether a viewer is watching the account
func (s *Service) CheckActivity(ctx context.Context, account *types.TradingAccount) (*types.ActivityAck, error) {
	if err := s.heartbeat.StampClient(ctx, account.ID); err != nil {
		return nil, err
	}
	mode := s.heartbeat.ViewerMode(account)
	return &types.ActivityAck{
		Success:              true,
		AccountID:            account.ID,
		IsActive:             mode == heartbeat.ModeActive,
		Mode:                 string(mode),
		LastHeartbeatSeconds: s.heartbeat.ViewerElapsed(account),
	}, nil
}

func sameMagic(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// GinHandlers contains HTTP handlers for EA endpoints. Each route expects
// middleware.APIKeyAuth to have resolved the account.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for EA endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) account(c *gin.Context) (*types.TradingAccount, bool) {
	account, ok := middleware.CurrentAccount(c)
	if !ok {
		response.Unauthorized(c, "Missing trading account")
		return nil, false
	}
	return account, true
}

// PingHandler handles POST /ea/ping
func (h *GinHandlers) PingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.account(c)
		if !ok {
			return
		}
		ack, err := h.service.Ping(c.Request.Context(), account)
		response.Ack(c, ack, err)
	}
}

// ActivityHandler handles POST /ea/activity
func (h *GinHandlers) ActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.account(c)
		if !ok {
			return
		}
		ack, err := h.service.CheckActivity(c.Request.Context(), account)
		response.Ack(c, ack, err)
	}
}

// SnapshotHandler handles POST /ea/snapshot
func (h *GinHandlers) SnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.account(c)
		if !ok {
			return
		}

		var rec SnapshotRecord
		if err := c.ShouldBindJSON(&rec); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		snap, err := ParseSnapshot(rec)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		ack, err := h.service.SubmitSnapshot(c.Request.Context(), account, snap)
		response.Ack(c, ack, err)
	}
}

// SyncPositionsHandler handles POST /ea/positions/sync
func (h *GinHandlers) SyncPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.account(c)
		if !ok {
			return
		}

		var req syncPositionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		positions, err := ParsePositions(req.Positions)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		ack, err := h.service.ReplacePositions(c.Request.Context(), account, positions)
		response.Ack(c, ack, err)
	}
}

// UpsertPositionHandler handles POST /ea/positions
func (h *GinHandlers) UpsertPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.account(c)
		if !ok {
			return
		}

		var rec PositionRecord
		if err := c.ShouldBindJSON(&rec); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		pos, err := ParsePosition(rec)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		ack, err := h.service.UpsertPosition(c.Request.Context(), account, pos)
		response.Ack(c, ack, err)
	}
}

// ClosePositionHandler handles POST /ea/positions/close
func (h *GinHandlers) ClosePositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.account(c)
		if !ok {
			return
		}

		var rec TradeRecord
		if err := c.ShouldBindJSON(&rec); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		trade, err := ParseTrade(rec)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		ack, err := h.service.ClosePosition(c.Request.Context(), account, trade)
		response.Ack(c, ack, err)
	}
}

// SyncHistoryHandler handles POST /ea/history/sync
func (h *GinHandlers) SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.account(c)
		if !ok {
			return
		}

		var req syncHistoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		trades, err := ParseTrades(req.Trades)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		ack, err := h.service.BulkSyncHistory(c.Request.Context(), account, trades, req.ReplaceAll)
		response.Ack(c, ack, err)
	}
}
