package types

import "time"

// EA acknowledgements use the camelCase field names the MQL clients parse.

// SnapshotAck is returned for an accepted account snapshot
type SnapshotAck struct {
	Success              bool   `json:"success"`
	SnapshotID           string `json:"snapshotId"`
	LastHeartbeatSeconds int64  `json:"lastHeartbeatSeconds"`
}

// PositionsSyncAck is returned after a full position resync
type PositionsSyncAck struct {
	Success        bool `json:"success"`
	PositionsCount int  `json:"positionsCount"`
}

// PositionAck is returned after a single position upsert
type PositionAck struct {
	Success              bool   `json:"success"`
	PositionID           string `json:"positionId"`
	LastHeartbeatSeconds int64  `json:"lastHeartbeatSeconds"`
}

// CloseAck is returned after a position was moved to history
type CloseAck struct {
	Success bool `json:"success"`
}

// HistorySyncAck is returned after a history backfill batch
type HistorySyncAck struct {
	Success     bool `json:"success"`
	TradesCount int  `json:"tradesCount"`
}

// PingAck confirms the API key resolves to an active account
type PingAck struct {
	Success   bool      `json:"success"`
	AccountID string    `json:"accountId"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityAck tells the EA whether a viewer is currently watching the account
type ActivityAck struct {
	Success              bool   `json:"success"`
	AccountID            string `json:"accountId"`
	IsActive             bool   `json:"isActive"`
	Mode                 string `json:"mode"`
	LastHeartbeatSeconds int64  `json:"lastHeartbeatSeconds"`
}

// AccountStats is the dashboard summary of one trading account
type AccountStats struct {
	LatestSnapshot     *AccountSnapshot `json:"latest_snapshot"`
	OpenPositionsCount int64            `json:"open_positions_count"`
	TotalTrades        int              `json:"total_trades"`
	WinningTrades      int              `json:"winning_trades"`
	LosingTrades       int              `json:"losing_trades"`
	WinRate            float64          `json:"win_rate"`
	TotalProfit        float64          `json:"total_profit"`
	TotalSwap          float64          `json:"total_swap"`
	TotalCommission    float64          `json:"total_commission"`
	NetProfit          float64          `json:"net_profit"`
	ViewerActive       bool             `json:"viewer_active"`
	ClientConnected    bool             `json:"client_connected"`
}

// Statistics is the full block computed for an expert advisor
type Statistics struct {
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
	TotalLoss        float64 `json:"total_loss"`
	NetProfit        float64 `json:"net_profit"`
	AverageWin       float64 `json:"average_win"`
	AverageLoss      float64 `json:"average_loss"`
	ProfitFactor     float64 `json:"profit_factor"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	CurrentPositions int     `json:"current_positions"`
}

// ExpertAdvisorStatistics pairs an EA with its live statistics and latest trades
type ExpertAdvisorStatistics struct {
	ExpertAdvisor *ExpertAdvisor `json:"expert_advisor"`
	Statistics    Statistics     `json:"statistics"`
	RecentTrades  []TradeHistory `json:"recent_trades"`
}

// EquityPoint is one step of the cumulative-profit curve
type EquityPoint struct {
	Ticket     string    `json:"ticket"`
	CloseTime  time.Time `json:"close_time"`
	Cumulative float64   `json:"cumulative"`
	Peak       float64   `json:"peak"`
	Drawdown   float64   `json:"drawdown"`
}
