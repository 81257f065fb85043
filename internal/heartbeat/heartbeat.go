// Package heartbeat tracks when a human last viewed an account and when its EA
// last reported, and turns those timestamps into the fast/slow hint EAs use to
// pace their updates. No state is held in memory; only the stored timestamps.
package heartbeat

import (
	"context"
	"time"

	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/config"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Mode is the polling mode an EA should be in
type Mode string

const (
	ModeIdle   Mode = "IDLE"
	ModeActive Mode = "ACTIVE"
)

// NeverSeen is the elapsed value reported when no heartbeat was ever stamped
const NeverSeen int64 = -1

// Coordinator stamps and reads the two heartbeat channels of an account
type Coordinator struct {
	db              *gorm.DB
	viewerThreshold time.Duration
	clientThreshold time.Duration
	now             func() time.Time
}

func NewCoordinator(db *gorm.DB, cfg config.HeartbeatConfig) *Coordinator {
	return &Coordinator{
		db:              db,
		viewerThreshold: cfg.ViewerActive,
		clientThreshold: cfg.ClientConnected,
		now:             time.Now,
	}
}

// WithClock replaces the time source
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Now returns the coordinator's current time
func (c *Coordinator) Now() time.Time {
	return c.now()
}

// StampViewer marks the account as being watched right now. Repeated stamps are harmless.
func (c *Coordinator) StampViewer(ctx context.Context, accountID string) error {
	return c.stamp(c.db.WithContext(ctx), accountID, "last_viewer_heartbeat")
}

// StampClient records that the account's EA just reported
func (c *Coordinator) StampClient(ctx context.Context, accountID string) error {
	return c.stamp(c.db.WithContext(ctx), accountID, "last_client_sync")
}

// StampClientTx is StampClient inside an open unit of work, so the stamp
// commits or rolls back together with the ingested data
func (c *Coordinator) StampClientTx(tx *database.Tx, accountID string) error {
	return c.stamp(tx.DB(), accountID, "last_client_sync")
}

func (c *Coordinator) stamp(db *gorm.DB, accountID, column string) error {
	const op = "heartbeat.stamp"

	result := db.
		Model(&types.TradingAccount{}).
		Where("id = ?", accountID).
		UpdateColumn(column, c.now().UTC())
	if result.Error != nil {
		log.Error().Err(result.Error).Str("account_id", accountID).Str("column", column).Msg("failed to stamp heartbeat")
		return apperr.FromStore(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(op, "Trading account not found")
	}
	return nil
}

// ViewerElapsed returns whole seconds since the last viewer heartbeat, or NeverSeen
func (c *Coordinator) ViewerElapsed(account *types.TradingAccount) int64 {
	return Elapsed(account.LastViewerHeartbeat, c.now())
}

// ViewerMode classifies the account against the viewer-active threshold
func (c *Coordinator) ViewerMode(account *types.TradingAccount) Mode {
	return Classify(account.LastViewerHeartbeat, c.now(), c.viewerThreshold)
}

// ClientConnected reports whether the EA reported within the connected threshold
func (c *Coordinator) ClientConnected(account *types.TradingAccount) bool {
	return Classify(account.LastClientSync, c.now(), c.clientThreshold) == ModeActive
}

// Elapsed returns whole seconds between stamp and now. A stamp ahead of now
// counts as zero.
func Elapsed(stamp *time.Time, now time.Time) int64 {
	if stamp == nil {
		return NeverSeen
	}
	d := now.Sub(*stamp)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Classify returns ModeActive when stamp is strictly younger than threshold
func Classify(stamp *time.Time, now time.Time, threshold time.Duration) Mode {
	if stamp == nil {
		return ModeIdle
	}
	if now.Sub(*stamp) < threshold {
		return ModeActive
	}
	return ModeIdle
}
