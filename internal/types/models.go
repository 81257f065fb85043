package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PlatformMT4 = "MT4"
	PlatformMT5 = "MT5"
)

// Order sides reported by MetaTrader terminals
const (
	SideBuy       = "BUY"
	SideSell      = "SELL"
	SideBuyLimit  = "BUY_LIMIT"
	SideSellLimit = "SELL_LIMIT"
	SideBuyStop   = "BUY_STOP"
	SideSellStop  = "SELL_STOP"
)

// ValidSide reports whether s is one of the six MetaTrader order types
func ValidSide(s string) bool {
	switch s {
	case SideBuy, SideSell, SideBuyLimit, SideSellLimit, SideBuyStop, SideSellStop:
		return true
	}
	return false
}

func newID() string {
	return uuid.New().String()
}

// TradingAccount is one broker account an EA reports for.
// LastViewerHeartbeat is stamped by the dashboard while a human watches the account,
// LastClientSync by every authenticated EA call. They are never written by the other channel.
type TradingAccount struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	UserID              string     `gorm:"index;not null" json:"user_id"`
	Broker              string     `gorm:"not null" json:"broker"`
	Platform            string     `gorm:"size:3;not null" json:"platform"`
	AccountNumber       string     `gorm:"not null" json:"account_number"`
	AccountType         string     `json:"account_type,omitempty"`
	APIKey              string     `gorm:"uniqueIndex;not null" json:"api_key"`
	IsActive            bool       `json:"is_active"`
	IsMaster            bool       `json:"is_master"`
	IsSlave             bool       `json:"is_slave"`
	LastViewerHeartbeat *time.Time `json:"last_viewer_heartbeat,omitempty"`
	LastClientSync      *time.Time `json:"last_client_sync,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (a *TradingAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = newID()
	}
	return nil
}

// Position is an open trade. At most one row exists per (account, ticket).
type Position struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	TradingAccountID string    `gorm:"size:36;not null;uniqueIndex:idx_positions_account_ticket" json:"trading_account_id"`
	Ticket           string    `gorm:"not null;uniqueIndex:idx_positions_account_ticket" json:"ticket"`
	Symbol           string    `gorm:"not null" json:"symbol"`
	Type             string    `gorm:"not null" json:"type"`
	Volume           float64   `json:"volume"`
	OpenPrice        float64   `json:"open_price"`
	CurrentPrice     *float64  `json:"current_price,omitempty"`
	StopLoss         *float64  `json:"stop_loss,omitempty"`
	TakeProfit       *float64  `json:"take_profit,omitempty"`
	Profit           float64   `json:"profit"`
	Swap             *float64  `json:"swap,omitempty"`
	Commission       *float64  `json:"commission,omitempty"`
	OpenTime         time.Time `json:"open_time"`
	Comment          *string   `json:"comment,omitempty"`
	MagicNumber      *int64    `gorm:"index" json:"magic_number,omitempty"`
	ExpertAdvisorID  *string   `gorm:"size:36;index" json:"expert_advisor_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (p *Position) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

// TradeHistory is a closed trade. A ticket moves here from Position on close.
type TradeHistory struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	TradingAccountID string    `gorm:"size:36;not null;uniqueIndex:idx_trade_histories_account_ticket" json:"trading_account_id"`
	Ticket           string    `gorm:"not null;uniqueIndex:idx_trade_histories_account_ticket" json:"ticket"`
	Symbol           string    `gorm:"not null" json:"symbol"`
	Type             string    `gorm:"not null" json:"type"`
	Volume           float64   `json:"volume"`
	OpenPrice        float64   `json:"open_price"`
	ClosePrice       float64   `json:"close_price"`
	StopLoss         *float64  `json:"stop_loss,omitempty"`
	TakeProfit       *float64  `json:"take_profit,omitempty"`
	Profit           float64   `json:"profit"`
	Swap             *float64  `json:"swap,omitempty"`
	Commission       *float64  `json:"commission,omitempty"`
	OpenTime         time.Time `json:"open_time"`
	CloseTime        time.Time `gorm:"index" json:"close_time"`
	Comment          *string   `json:"comment,omitempty"`
	MagicNumber      *int64    `gorm:"index" json:"magic_number,omitempty"`
	ExpertAdvisorID  *string   `gorm:"size:36;index" json:"expert_advisor_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (t *TradeHistory) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// NetProfit is profit plus commission and swap
func (t *TradeHistory) NetProfit() float64 {
	return t.Profit + deref(t.Commission) + deref(t.Swap)
}

// AccountSnapshot is append-only; rows are never updated.
type AccountSnapshot struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	TradingAccountID string    `gorm:"size:36;not null;index:idx_snapshots_account_time" json:"trading_account_id"`
	Balance          float64   `json:"balance"`
	Equity           float64   `json:"equity"`
	Margin           float64   `json:"margin"`
	FreeMargin       float64   `json:"free_margin"`
	MarginLevel      *float64  `json:"margin_level,omitempty"`
	Profit           float64   `json:"profit"`
	Credit           *float64  `json:"credit,omitempty"`
	Leverage         *int64    `json:"leverage,omitempty"`
	ServerName       *string   `json:"server_name,omitempty"`
	Timestamp        time.Time `gorm:"index:idx_snapshots_account_time" json:"timestamp"`
}

func (s *AccountSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = newID()
	}
	return nil
}

// ExpertAdvisor groups an account's trades by magic number. The statistics
// columns are a cache refreshed only by an explicit recalculation.
type ExpertAdvisor struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	TradingAccountID string     `gorm:"size:36;not null;uniqueIndex:idx_expert_advisors_account_magic" json:"trading_account_id"`
	MagicNumber      int64      `gorm:"not null;uniqueIndex:idx_expert_advisors_account_magic" json:"magic_number"`
	Name             string     `gorm:"not null" json:"name"`
	Description      *string    `json:"description,omitempty"`
	Color            *string    `json:"color,omitempty"`
	IsActive         bool       `json:"is_active"`
	TotalTrades      int        `json:"total_trades"`
	WinningTrades    int        `json:"winning_trades"`
	LosingTrades     int        `json:"losing_trades"`
	TotalProfit      float64    `json:"total_profit"`
	TotalLoss        float64    `json:"total_loss"`
	MaxDrawdown      float64    `json:"max_drawdown"`
	MaxProfit        float64    `json:"max_profit"`
	AverageWin       float64    `json:"average_win"`
	AverageLoss      float64    `json:"average_loss"`
	LastTradeAt      *time.Time `json:"last_trade_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (e *ExpertAdvisor) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = newID()
	}
	return nil
}

// CopyTradingRelation is a directed master -> slave edge. It is configuration only.
type CopyTradingRelation struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	MasterAccountID string    `gorm:"size:36;not null;uniqueIndex:idx_copy_relations_pair" json:"master_account_id"`
	SlaveAccountID  string    `gorm:"size:36;not null;uniqueIndex:idx_copy_relations_pair;index" json:"slave_account_id"`
	RiskMultiplier  float64   `json:"risk_multiplier"`
	AllowedSymbols  []string  `gorm:"serializer:json" json:"allowed_symbols"`
	MaxLotSize      *float64  `json:"max_lot_size,omitempty"`
	MinLotSize      *float64  `json:"min_lot_size,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (r *CopyTradingRelation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = newID()
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
