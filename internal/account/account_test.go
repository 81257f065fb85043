package account

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/auth"
	"github.com/ksred/eatrack/internal/config"
	"github.com/ksred/eatrack/internal/copytrading"
	"github.com/ksred/eatrack/internal/database/dbtest"
	"github.com/ksred/eatrack/internal/heartbeat"
	"github.com/ksred/eatrack/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var now = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()
	db := dbtest.New(t)
	hb := heartbeat.NewCoordinator(db, config.Default().Heartbeat).WithClock(func() time.Time { return now })
	return db, NewService(db, hb)
}

func create(t *testing.T, svc *Service, userID, number string) *types.TradingAccount {
	t.Helper()
	acc, err := svc.Create(context.Background(), userID, CreateRequest{
		AccountNumber: number, Broker: "ICMarkets", Platform: types.PlatformMT5,
	})
	require.NoError(t, err)
	return acc
}

func TestCreateIssuesAPIKey(t *testing.T) {
	_, svc := setup(t)

	acc := create(t, svc, "u1", "1001")
	assert.True(t, strings.HasPrefix(acc.APIKey, auth.APIKeyPrefix))
	assert.Len(t, acc.APIKey, len(auth.APIKeyPrefix)+64)
	assert.True(t, acc.IsActive)
	assert.False(t, acc.IsMaster)
}

func TestCreateConflictsOnSameBrokerAndNumber(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	create(t, svc, "u1", "1001")
	_, err := svc.Create(ctx, "u1", CreateRequest{AccountNumber: "1001", Broker: "ICMarkets", Platform: types.PlatformMT5})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	// another user may register the same broker account
	create(t, svc, "u2", "1001")

	_, err = svc.Create(ctx, "u1", CreateRequest{AccountNumber: "2", Broker: "ICMarkets", Platform: "MT6"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGetAndListAreScopedToOwner(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a := create(t, svc, "u1", "1")
	create(t, svc, "u1", "2")
	create(t, svc, "u2", "3")

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.Get(ctx, "u2", a.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	detail, err := svc.Get(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, detail.ID)
	assert.Empty(t, detail.Positions)
}

func TestUpdateDisablesAPIKey(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()
	authService := auth.NewService(db, "secret", time.Hour)

	acc := create(t, svc, "u1", "1")
	disabled := false
	kind := "demo"
	updated, err := svc.Update(ctx, "u1", acc.ID, UpdateRequest{IsActive: &disabled, AccountType: &kind})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "demo", updated.AccountType)

	_, err = authService.AuthenticateAPIKey(ctx, acc.APIKey)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestRotateAPIKey(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()
	authService := auth.NewService(db, "secret", time.Hour)

	acc := create(t, svc, "u1", "1")
	rotated, err := svc.RotateAPIKey(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, acc.APIKey, rotated.APIKey)

	_, err = authService.AuthenticateAPIKey(ctx, acc.APIKey)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	resolved, err := authService.AuthenticateAPIKey(ctx, rotated.APIKey)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, resolved.ID)
}

func TestSendHeartbeatStampsViewerOnly(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	acc := create(t, svc, "u1", "1")
	ack, err := svc.SendHeartbeat(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.True(t, ack.Success)

	var stored types.TradingAccount
	require.NoError(t, db.First(&stored, "id = ?", acc.ID).Error)
	require.NotNil(t, stored.LastViewerHeartbeat)
	assert.True(t, stored.LastViewerHeartbeat.Equal(now))
	assert.Nil(t, stored.LastClientSync)

	_, err = svc.SendHeartbeat(ctx, "u2", acc.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteCascades(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	a := create(t, svc, "u1", "1")
	b := create(t, svc, "u1", "2")

	require.NoError(t, db.Create(&types.Position{TradingAccountID: a.ID, Ticket: "1", Symbol: "X", Type: types.SideBuy, Volume: 1, OpenTime: now}).Error)
	require.NoError(t, db.Create(&types.TradeHistory{TradingAccountID: a.ID, Ticket: "2", Symbol: "X", Type: types.SideBuy, Volume: 1, OpenTime: now, CloseTime: now}).Error)
	require.NoError(t, db.Create(&types.AccountSnapshot{TradingAccountID: a.ID, Timestamp: now}).Error)
	require.NoError(t, db.Create(&types.ExpertAdvisor{TradingAccountID: a.ID, MagicNumber: 1, Name: "x"}).Error)

	_, err := copytrading.NewService(db).Create(ctx, "u1", copytrading.CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: b.ID})
	require.NoError(t, err)

	assert.True(t, errors.Is(svc.Delete(ctx, "u2", a.ID), apperr.ErrNotFound))
	require.NoError(t, svc.Delete(ctx, "u1", a.ID))

	for _, model := range []interface{}{
		&types.Position{}, &types.TradeHistory{}, &types.AccountSnapshot{}, &types.ExpertAdvisor{},
	} {
		var n int64
		require.NoError(t, db.Model(model).Where("trading_account_id = ?", a.ID).Count(&n).Error)
		assert.Zero(t, n)
	}

	var relations int64
	require.NoError(t, db.Model(&types.CopyTradingRelation{}).Count(&relations).Error)
	assert.Zero(t, relations)

	var slave types.TradingAccount
	require.NoError(t, db.First(&slave, "id = ?", b.ID).Error)
	assert.False(t, slave.IsSlave)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLifecycleIsLoggedPerAccount(t *testing.T) {
	buf := captureLogs(t)
	_, svc := setup(t)
	ctx := context.Background()

	acc := create(t, svc, "u1", "1")
	_, err := svc.RotateAPIKey(ctx, "u1", acc.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "u1", acc.ID))

	out := buf.String()
	for _, msg := range []string{"trading account created", "api key rotated", "trading account deleted"} {
		assert.Contains(t, out, msg)
	}
	assert.GreaterOrEqual(t, strings.Count(out, `"account_id":"`+acc.ID+`"`), 3)
	assert.NotContains(t, out, `"level":"error"`)
}
