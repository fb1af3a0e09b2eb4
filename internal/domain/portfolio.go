package domain

import "time"

// Portfolio is the singleton cash record of the paper account.
type Portfolio struct {
	Balance        float64   `json:"balance"`
	InitialBalance float64   `json:"initial_balance"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Stats is a read-only summary derived from the portfolio and its ledger.
type Stats struct {
	Balance        float64 `json:"balance"`
	InitialBalance float64 `json:"initial_balance"`
	TotalPnL       float64 `json:"total_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	TotalTrades    int     `json:"total_trades"`
	OpenTrades     int     `json:"open_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	WinningTrades  int     `json:"winning_trades"`
	WinRate        float64 `json:"win_rate"`
}

// EquityPoint is one sample of account equity over time.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}
