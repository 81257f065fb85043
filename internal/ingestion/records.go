package ingestion

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ksred/eatrack/internal/apperr"
	"github.com/ksred/eatrack/internal/types"
)

// Wire records as sent by the EA. Pointers distinguish an absent field from a
// zero value; Parse* turns them into store rows and rejects the whole record on
// the first violation.

type SnapshotRecord struct {
	Balance     *float64 `json:"balance"`
	Equity      *float64 `json:"equity"`
	Margin      *float64 `json:"margin"`
	FreeMargin  *float64 `json:"freeMargin"`
	MarginLevel *float64 `json:"marginLevel"`
	Profit      *float64 `json:"profit"`
	Credit      *float64 `json:"credit"`
	Leverage    *int64   `json:"leverage"`
	ServerName  *string  `json:"serverName"`
}

type PositionRecord struct {
	Ticket       *string  `json:"ticket"`
	Symbol       *string  `json:"symbol"`
	Type         *string  `json:"type"`
	Volume       *float64 `json:"volume"`
	OpenPrice    *float64 `json:"openPrice"`
	CurrentPrice *float64 `json:"currentPrice"`
	StopLoss     *float64 `json:"stopLoss"`
	TakeProfit   *float64 `json:"takeProfit"`
	Profit       *float64 `json:"profit"`
	Swap         *float64 `json:"swap"`
	Commission   *float64 `json:"commission"`
	OpenTime     *string  `json:"openTime"`
	Comment      *string  `json:"comment"`
	MagicNumber  *int64   `json:"magicNumber"`
}

type TradeRecord struct {
	PositionRecord
	ClosePrice *float64 `json:"closePrice"`
	CloseTime  *string  `json:"closeTime"`
}

type syncPositionsRequest struct {
	Positions []PositionRecord `json:"positions" binding:"required"`
}

type syncHistoryRequest struct {
	Trades     []TradeRecord `json:"trades" binding:"required"`
	ReplaceAll bool          `json:"replaceAll"`
}

const parseOp = "ingestion.parse"

type fieldParser struct {
	prefix string
	err    error
}

func (p *fieldParser) fail(field, msg string) {
	if p.err == nil {
		p.err = apperr.Validation(parseOp, fmt.Sprintf("%s%s: %s", p.prefix, field, msg))
	}
}

func (p *fieldParser) number(field string, v *float64) float64 {
	if v == nil {
		p.fail(field, "is required")
		return 0
	}
	return p.finite(field, v)
}

func (p *fieldParser) optNumber(field string, v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := p.finite(field, v)
	return &f
}

func (p *fieldParser) finite(field string, v *float64) float64 {
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		p.fail(field, "must be a finite number")
	}
	return *v
}

func (p *fieldParser) text(field string, v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		p.fail(field, "is required")
		return ""
	}
	return *v
}

func (p *fieldParser) timestamp(field string, v *string) time.Time {
	if v == nil {
		p.fail(field, "is required")
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, *v)
	if err != nil {
		p.fail(field, "must be an ISO-8601 timestamp")
		return time.Time{}
	}
	return t.UTC()
}

func (p *fieldParser) side(field string, v *string) string {
	s := p.text(field, v)
	if s != "" && !types.ValidSide(s) {
		p.fail(field, fmt.Sprintf("unknown order type %q", s))
	}
	return s
}

// ParseSnapshot validates a snapshot record
func ParseSnapshot(rec SnapshotRecord) (types.AccountSnapshot, error) {
	p := &fieldParser{}
	snap := types.AccountSnapshot{
		Balance:     p.number("balance", rec.Balance),
		Equity:      p.number("equity", rec.Equity),
		Margin:      p.number("margin", rec.Margin),
		FreeMargin:  p.number("freeMargin", rec.FreeMargin),
		MarginLevel: p.optNumber("marginLevel", rec.MarginLevel),
		Profit:      p.number("profit", rec.Profit),
		Credit:      p.optNumber("credit", rec.Credit),
		Leverage:    rec.Leverage,
		ServerName:  rec.ServerName,
	}
	if rec.Leverage != nil && *rec.Leverage <= 0 {
		p.fail("leverage", "must be positive")
	}
	return snap, p.err
}

// ParsePosition validates an open-position record
func ParsePosition(rec PositionRecord) (types.Position, error) {
	return parsePosition(&fieldParser{}, rec)
}

func parsePosition(p *fieldParser, rec PositionRecord) (types.Position, error) {
	pos := types.Position{
		Ticket:       p.text("ticket", rec.Ticket),
		Symbol:       p.text("symbol", rec.Symbol),
		Type:         p.side("type", rec.Type),
		Volume:       p.number("volume", rec.Volume),
		OpenPrice:    p.number("openPrice", rec.OpenPrice),
		CurrentPrice: p.optNumber("currentPrice", rec.CurrentPrice),
		StopLoss:     p.optNumber("stopLoss", rec.StopLoss),
		TakeProfit:   p.optNumber("takeProfit", rec.TakeProfit),
		Profit:       p.number("profit", rec.Profit),
		Swap:         p.optNumber("swap", rec.Swap),
		Commission:   p.optNumber("commission", rec.Commission),
		OpenTime:     p.timestamp("openTime", rec.OpenTime),
		Comment:      rec.Comment,
		MagicNumber:  rec.MagicNumber,
	}
	if p.err == nil && pos.Volume <= 0 {
		p.fail("volume", "must be positive")
	}
	if rec.MagicNumber != nil && *rec.MagicNumber < 0 {
		p.fail("magicNumber", "must not be negative")
	}
	return pos, p.err
}

// ParseTrade validates a closed-trade record
func ParseTrade(rec TradeRecord) (types.TradeHistory, error) {
	return parseTrade(&fieldParser{}, rec)
}

func parseTrade(p *fieldParser, rec TradeRecord) (types.TradeHistory, error) {
	pos, _ := parsePosition(p, rec.PositionRecord)
	trade := types.TradeHistory{
		Ticket:      pos.Ticket,
		Symbol:      pos.Symbol,
		Type:        pos.Type,
		Volume:      pos.Volume,
		OpenPrice:   pos.OpenPrice,
		ClosePrice:  p.number("closePrice", rec.ClosePrice),
		StopLoss:    pos.StopLoss,
		TakeProfit:  pos.TakeProfit,
		Profit:      pos.Profit,
		Swap:        pos.Swap,
		Commission:  pos.Commission,
		OpenTime:    pos.OpenTime,
		CloseTime:   p.timestamp("closeTime", rec.CloseTime),
		Comment:     pos.Comment,
		MagicNumber: pos.MagicNumber,
	}
	if p.err == nil && trade.CloseTime.Before(trade.OpenTime) {
		p.fail("closeTime", "must not be before openTime")
	}
	return trade, p.err
}

// ParsePositions validates a full resync batch. A ticket repeated in the batch
// keeps its last occurrence.
func ParsePositions(recs []PositionRecord) ([]types.Position, error) {
	out := make([]types.Position, 0, len(recs))
	index := make(map[string]int, len(recs))
	for i, rec := range recs {
		p := &fieldParser{prefix: fmt.Sprintf("positions[%d].", i)}
		pos, err := parsePosition(p, rec)
		if err != nil {
			return nil, err
		}
		if j, dup := index[pos.Ticket]; dup {
			out[j] = pos
			continue
		}
		index[pos.Ticket] = len(out)
		out = append(out, pos)
	}
	return out, nil
}

// ParseTrades validates a history batch. A ticket repeated in the batch keeps its last occurrence.
func ParseTrades(recs []TradeRecord) ([]types.TradeHistory, error) {
	out := make([]types.TradeHistory, 0, len(recs))
	index := make(map[string]int, len(recs))
	for i, rec := range recs {
		p := &fieldParser{prefix: fmt.Sprintf("trades[%d].", i)}
		trade, err := parseTrade(p, rec)
		if err != nil {
			return nil, err
		}
		if j, dup := index[trade.Ticket]; dup {
			out[j] = trade
			continue
		}
		index[trade.Ticket] = len(out)
		out = append(out, trade)
	}
	return out, nil
}
