package copytrading

import (
	"context"
	"errors"
	"testing"

	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/database/dbtest"
	"github.com/ksred/eatrack/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func f64(v float64) *float64 { return &v }

func createAccount(t *testing.T, db *gorm.DB, userID, number string) *types.TradingAccount {
	t.Helper()
	acc := &types.TradingAccount{
		UserID: userID, Broker: "FTMO", Platform: types.PlatformMT5,
		AccountNumber: number, APIKey: "ta_" + userID + number, IsActive: true,
	}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

func flags(t *testing.T, db *gorm.DB, id string) (master, slave bool) {
	t.Helper()
	var acc types.TradingAccount
	require.NoError(t, db.First(&acc, "id = ?", id).Error)
	return acc.IsMaster, acc.IsSlave
}

func TestCreateSetsRoleFlags(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(db)
	m := createAccount(t, db, "u1", "1")
	s := createAccount(t, db, "u1", "2")

	rel, err := svc.Create(context.Background(), "u1", CreateRelationRequest{
		MasterAccountID: m.ID,
		SlaveAccountID:  s.ID,
		AllowedSymbols:  []string{"EURUSD", "XAUUSD"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rel.RiskMultiplier)
	assert.True(t, rel.IsActive)

	master, slave := flags(t, db, m.ID)
	assert.True(t, master)
	assert.False(t, slave)
	master, slave = flags(t, db, s.ID)
	assert.False(t, master)
	assert.True(t, slave)

	var stored types.CopyTradingRelation
	require.NoError(t, db.First(&stored, "id = ?", rel.ID).Error)
	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, stored.AllowedSymbols)
}

func TestCreateRejections(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(db)
	ctx := context.Background()
	a := createAccount(t, db, "u1", "1")
	b := createAccount(t, db, "u1", "2")
	other := createAccount(t, db, "u2", "3")

	_, err := svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: a.ID})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "self-copy")

	_, err = svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: other.ID})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "foreign slave")

	_, err = svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: b.ID, RiskMultiplier: f64(11)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Create(ctx, "u1", CreateRelationRequest{
		MasterAccountID: a.ID, SlaveAccountID: b.ID, MinLotSize: f64(2), MaxLotSize: f64(1),
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: b.ID})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: b.ID})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	// the reverse direction is a different relation
	_, err = svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: b.ID, SlaveAccountID: a.ID})
	require.NoError(t, err)
}

func TestDeleteReferenceCountsFlags(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(db)
	ctx := context.Background()
	m := createAccount(t, db, "u1", "1")
	s1 := createAccount(t, db, "u1", "2")
	s2 := createAccount(t, db, "u1", "3")

	r1, err := svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: m.ID, SlaveAccountID: s1.ID})
	require.NoError(t, err)
	r2, err := svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: m.ID, SlaveAccountID: s2.ID})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "u1", r1.ID))
	master, _ := flags(t, db, m.ID)
	assert.True(t, master, "master keeps its flag while another relation remains")
	_, slave := flags(t, db, s1.ID)
	assert.False(t, slave)

	require.NoError(t, svc.Delete(ctx, "u1", r2.ID))
	master, _ = flags(t, db, m.ID)
	assert.False(t, master, "deleting the only remaining relation clears the flag")
}

func TestUpdateAndOwnership(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(db)
	ctx := context.Background()
	m := createAccount(t, db, "u1", "1")
	s := createAccount(t, db, "u1", "2")

	rel, err := svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: m.ID, SlaveAccountID: s.ID, MaxLotSize: f64(1)})
	require.NoError(t, err)

	inactive := false
	symbols := []string{"GBPUSD"}
	updated, err := svc.Update(ctx, "u1", rel.ID, UpdateRelationRequest{
		IsActive:       &inactive,
		RiskMultiplier: f64(2.5),
		AllowedSymbols: &symbols,
	})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 2.5, updated.RiskMultiplier)
	assert.Equal(t, []string{"GBPUSD"}, updated.AllowedSymbols)

	_, err = svc.Update(ctx, "u1", rel.ID, UpdateRelationRequest{MinLotSize: f64(5)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "min above stored max")

	_, err = svc.Update(ctx, "u2", rel.ID, UpdateRelationRequest{IsActive: &inactive})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	err = svc.Delete(ctx, "u2", rel.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	err = svc.Delete(ctx, "u1", "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestList(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(db)
	ctx := context.Background()
	a := createAccount(t, db, "u1", "1")
	b := createAccount(t, db, "u1", "2")
	c := createAccount(t, db, "u1", "3")

	_, err := svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: b.ID})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: b.ID, SlaveAccountID: c.ID})
	require.NoError(t, err)

	all, err := svc.List(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	forA, err := svc.List(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Len(t, forA, 1)

	none, err := svc.List(ctx, "nobody", "")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.List(ctx, "u2", a.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteAccountRelationsTx(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(db)
	ctx := context.Background()
	a := createAccount(t, db, "u1", "1")
	b := createAccount(t, db, "u1", "2")

	_, err := svc.Create(ctx, "u1", CreateRelationRequest{MasterAccountID: a.ID, SlaveAccountID: b.ID})
	require.NoError(t, err)

	err = database.NewUnitOfWork(db).Do(ctx, func(tx *database.Tx) error {
		return DeleteAccountRelationsTx(tx, a.ID)
	})
	require.NoError(t, err)

	_, slave := flags(t, db, b.ID)
	assert.False(t, slave)
}
