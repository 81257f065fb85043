// Package statistics derives trading performance figures from closed trades.
//
// Two variants of the aggregation exist. Live is computed on every statistics
// query and counts commission and swap into the profit and loss buckets. Cached
// is written onto the ExpertAdvisor row on explicit recalculation and buckets
// raw profit only. The two are not expected to agree.
package statistics

import (
	"sort"
	"time"

	"github.com/ksred/eatrack/internal/types"
	"github.com/shopspring/decimal"
)

// Variant selects the bucket formula
type Variant int

const (
	Live Variant = iota
	Cached
)

// ProfitFactorSentinel is reported when there are profits but no losses
const ProfitFactorSentinel = 999

// Result holds unrounded aggregates. Use Statistics for display values.
type Result struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalProfit   float64
	TotalLoss     float64
	NetProfit     float64
	MaxDrawdown   float64
	MaxProfit     float64
	LastTradeAt   *time.Time
}

// WinRate is winning trades as a percentage of all trades
func (r Result) WinRate() float64 {
	if r.TotalTrades == 0 {
		return 0
	}
	return float64(r.WinningTrades) / float64(r.TotalTrades) * 100
}

func (r Result) AverageWin() float64 {
	if r.WinningTrades == 0 {
		return 0
	}
	return r.TotalProfit / float64(r.WinningTrades)
}

func (r Result) AverageLoss() float64 {
	if r.LosingTrades == 0 {
		return 0
	}
	return r.TotalLoss / float64(r.LosingTrades)
}

func (r Result) ProfitFactor() float64 {
	switch {
	case r.TotalLoss > 0:
		return r.TotalProfit / r.TotalLoss
	case r.TotalProfit > 0:
		return ProfitFactorSentinel
	default:
		return 0
	}
}

// Statistics returns the display block with every monetary value rounded to cents
func (r Result) Statistics(currentPositions int) types.Statistics {
	return types.Statistics{
		TotalTrades:      r.TotalTrades,
		WinningTrades:    r.WinningTrades,
		LosingTrades:     r.LosingTrades,
		WinRate:          Round2(r.WinRate()),
		TotalProfit:      Round2(r.TotalProfit),
		TotalLoss:        Round2(r.TotalLoss),
		NetProfit:        Round2(r.NetProfit),
		AverageWin:       Round2(r.AverageWin()),
		AverageLoss:      Round2(r.AverageLoss()),
		ProfitFactor:     Round2(r.ProfitFactor()),
		MaxDrawdown:      Round2(r.MaxDrawdown),
		CurrentPositions: currentPositions,
	}
}

// Accumulator folds trades one at a time. Trades must be added in ascending
// close-time order for the drawdown to be meaningful.
type Accumulator struct {
	variant Variant
	result  Result
	running float64
	peak    float64
}

func NewAccumulator(variant Variant) *Accumulator {
	return &Accumulator{variant: variant}
}

// Add folds one closed trade into the running totals
func (a *Accumulator) Add(t *types.TradeHistory) {
	r := &a.result

	amount := t.Profit
	if a.variant == Live {
		amount = t.NetProfit()
	}

	switch {
	case t.Profit > 0:
		r.WinningTrades++
		r.TotalProfit += amount
	case t.Profit < 0:
		r.LosingTrades++
		if amount < 0 {
			amount = -amount
		}
		r.TotalLoss += amount
	}

	if r.TotalTrades == 0 || t.Profit > r.MaxProfit {
		r.MaxProfit = t.Profit
	}
	r.TotalTrades++
	r.NetProfit += t.Profit

	// cumulative-profit drawdown; the curve starts at zero
	a.running += t.Profit
	if a.running > a.peak {
		a.peak = a.running
	}
	if dd := a.peak - a.running; dd > r.MaxDrawdown {
		r.MaxDrawdown = dd
	}

	closed := t.CloseTime
	r.LastTradeAt = &closed
}

// Result returns the totals so far
func (a *Accumulator) Result() Result {
	return a.result
}

// Compute aggregates trades in any order
func Compute(trades []types.TradeHistory, variant Variant) Result {
	acc := NewAccumulator(variant)
	for _, i := range byCloseTime(trades) {
		acc.Add(&trades[i])
	}
	return acc.Result()
}

// DrawdownCurve walks trades in close-time order and returns the cumulative
// profit, running peak and drawdown after each trade
func DrawdownCurve(trades []types.TradeHistory) []types.EquityPoint {
	points := make([]types.EquityPoint, 0, len(trades))
	var running, peak float64
	for _, i := range byCloseTime(trades) {
		t := &trades[i]
		running += t.Profit
		if running > peak {
			peak = running
		}
		points = append(points, types.EquityPoint{
			Ticket:     t.Ticket,
			CloseTime:  t.CloseTime,
			Cumulative: Round2(running),
			Peak:       Round2(peak),
			Drawdown:   Round2(peak - running),
		})
	}
	return points
}

// byCloseTime returns indexes of trades sorted by close time, ties by ticket
func byCloseTime(trades []types.TradeHistory) []int {
	idx := make([]int, len(trades))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := &trades[idx[a]], &trades[idx[b]]
		if !ta.CloseTime.Equal(tb.CloseTime) {
			return ta.CloseTime.Before(tb.CloseTime)
		}
		return ta.Ticket < tb.Ticket
	})
	return idx
}

// Round2 rounds half away from zero to two decimal places
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
