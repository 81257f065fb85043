package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/config"
	"github.com/ksred/eatrack/internal/database/dbtest"
	"github.com/ksred/eatrack/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		after     time.Duration
		threshold time.Duration
		want      Mode
	}{
		{"list indicator still connected", 29 * time.Second, 30 * time.Second, ModeActive},
		{"list indicator at threshold", 30 * time.Second, 30 * time.Second, ModeIdle},
		{"viewer check inside window", 59 * time.Second, 60 * time.Second, ModeActive},
		{"viewer check timed out", 61 * time.Second, 60 * time.Second, ModeIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(&stamp, stamp.Add(tt.after), tt.threshold))
		})
	}

	assert.Equal(t, ModeIdle, Classify(nil, stamp, time.Minute))
}

func TestElapsed(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, NeverSeen, Elapsed(nil, stamp))
	assert.Equal(t, int64(29), Elapsed(&stamp, stamp.Add(29500*time.Millisecond)))
	assert.Equal(t, int64(0), Elapsed(&stamp, stamp.Add(-5*time.Second)))
}

func TestStampChannelsAreIndependent(t *testing.T) {
	db := dbtest.New(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	coord := NewCoordinator(db, config.Default().Heartbeat).WithClock(func() time.Time { return now })

	acc := &types.TradingAccount{UserID: "u1", Broker: "IC", Platform: types.PlatformMT5, AccountNumber: "1", APIKey: "ta_1", IsActive: true}
	require.NoError(t, db.Create(acc).Error)

	require.NoError(t, coord.StampViewer(context.Background(), acc.ID))

	var stored types.TradingAccount
	require.NoError(t, db.First(&stored, "id = ?", acc.ID).Error)
	require.NotNil(t, stored.LastViewerHeartbeat)
	assert.Nil(t, stored.LastClientSync)
	assert.True(t, stored.LastViewerHeartbeat.Equal(now))

	now = now.Add(29 * time.Second)
	assert.Equal(t, ModeActive, coord.ViewerMode(&stored))
	assert.Equal(t, int64(29), coord.ViewerElapsed(&stored))
	assert.False(t, coord.ClientConnected(&stored))

	now = now.Add(32 * time.Second)
	assert.Equal(t, ModeIdle, coord.ViewerMode(&stored))

	require.NoError(t, coord.StampClient(context.Background(), acc.ID))
	require.NoError(t, db.First(&stored, "id = ?", acc.ID).Error)
	assert.True(t, coord.ClientConnected(&stored))
}

func TestStampUnknownAccount(t *testing.T) {
	db := dbtest.New(t)
	coord := NewCoordinator(db, config.Default().Heartbeat)

	err := coord.StampViewer(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
