package statistics

import (
	"testing"
	"time"

	"github.com/ksred/eatrack/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func closed(ticket string, profit float64, at time.Duration) types.TradeHistory {
	return types.TradeHistory{Ticket: ticket, Profit: profit, CloseTime: t0.Add(at)}
}

func TestComputeLiveIncludesCosts(t *testing.T) {
	trades := []types.TradeHistory{
		{Ticket: "1", Profit: 100, Commission: f64(-2), Swap: f64(-1), CloseTime: t0},
		{Ticket: "2", Profit: -50, Commission: f64(-2), Swap: f64(0), CloseTime: t0.Add(time.Hour)},
	}

	r := Compute(trades, Live)
	stats := r.Statistics(0)

	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.Equal(t, 97.0, stats.TotalProfit)
	assert.Equal(t, 52.0, stats.TotalLoss)
	assert.Equal(t, 50.0, stats.WinRate)
	assert.InDelta(t, 1.865, r.ProfitFactor(), 0.001)
	assert.Equal(t, 1.87, stats.ProfitFactor)
	assert.Equal(t, 50.0, stats.NetProfit)
}

func TestComputeCachedUsesRawProfit(t *testing.T) {
	trades := []types.TradeHistory{
		{Ticket: "1", Profit: 100, Commission: f64(-2), Swap: f64(-1), CloseTime: t0},
		{Ticket: "2", Profit: -50, Commission: f64(-2), CloseTime: t0.Add(time.Hour)},
	}

	live := Compute(trades, Live)
	cached := Compute(trades, Cached)

	assert.Equal(t, 100.0, cached.TotalProfit)
	assert.Equal(t, 50.0, cached.TotalLoss)
	assert.Equal(t, 100.0, cached.MaxProfit)
	assert.NotEqual(t, live.TotalProfit, cached.TotalProfit, "the two variants are allowed to disagree")
	assert.Equal(t, live.MaxDrawdown, cached.MaxDrawdown)
}

func TestZeroProfitTradesCountInNeitherBucket(t *testing.T) {
	r := Compute([]types.TradeHistory{closed("1", 0, 0), closed("2", 10, time.Minute)}, Live)

	assert.Equal(t, 2, r.TotalTrades)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Equal(t, 0, r.LosingTrades)
	assert.Equal(t, 50.0, r.WinRate())
}

func TestProfitFactorEdges(t *testing.T) {
	assert.Equal(t, 0.0, Result{}.ProfitFactor())
	assert.Equal(t, float64(ProfitFactorSentinel), Result{TotalProfit: 5}.ProfitFactor())
	assert.Equal(t, 0.0, Result{TotalLoss: 5}.ProfitFactor())
	assert.Equal(t, 2.0, Result{TotalProfit: 10, TotalLoss: 5}.ProfitFactor())
}

func TestEmptyHistory(t *testing.T) {
	r := Compute(nil, Live)
	stats := r.Statistics(3)

	assert.Equal(t, types.Statistics{CurrentPositions: 3}, stats)
	assert.Nil(t, r.LastTradeAt)
}

func TestMaxDrawdownFollowsCloseTime(t *testing.T) {
	// running sums 10, 25, 15, 30, 5
	ordered := []types.TradeHistory{
		closed("a", 10, 1*time.Minute),
		closed("b", 15, 2*time.Minute),
		closed("c", -10, 3*time.Minute),
		closed("d", 15, 4*time.Minute),
		closed("e", -25, 5*time.Minute),
	}
	shuffled := []types.TradeHistory{ordered[3], ordered[0], ordered[4], ordered[2], ordered[1]}

	assert.Equal(t, 25.0, Compute(ordered, Live).MaxDrawdown)
	assert.Equal(t, 25.0, Compute(shuffled, Live).MaxDrawdown)
	assert.Equal(t, 25.0, Compute(shuffled, Cached).MaxDrawdown)

	curve := DrawdownCurve(shuffled)
	require.Len(t, curve, 5)

	var cum, peak, dd []float64
	for _, p := range curve {
		cum = append(cum, p.Cumulative)
		peak = append(peak, p.Peak)
		dd = append(dd, p.Drawdown)
	}
	assert.Equal(t, []float64{10, 25, 15, 30, 5}, cum)
	assert.Equal(t, []float64{10, 25, 25, 30, 30}, peak)
	assert.Equal(t, []float64{0, 0, 10, 0, 25}, dd)
	assert.Equal(t, "e", curve[4].Ticket)
}

func TestDrawdownCountsFromZero(t *testing.T) {
	r := Compute([]types.TradeHistory{closed("1", -20, 0), closed("2", 5, time.Minute)}, Live)
	assert.Equal(t, 20.0, r.MaxDrawdown)
}

func TestAccumulatorMatchesCompute(t *testing.T) {
	trades := []types.TradeHistory{
		closed("1", 12.345, 0),
		closed("2", -3.2, time.Minute),
		closed("3", 7, 2*time.Minute),
	}

	acc := NewAccumulator(Cached)
	for i := range trades {
		acc.Add(&trades[i])
	}

	assert.Equal(t, Compute(trades, Cached), acc.Result())
	require.NotNil(t, acc.Result().LastTradeAt)
	assert.True(t, acc.Result().LastTradeAt.Equal(t0.Add(2*time.Minute)))
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.865, 1.87},
		{1.864999, 1.86},
		{-1.005, -1.01},
		{0.1 + 0.2, 0.3},
		{100, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round2(tt.in), "Round2(%v)", tt.in)
	}
}
