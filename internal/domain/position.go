package domain

import "time"

// Side is the outcome a position is staked on.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// StrategyName identifies the job that opened a position.
type StrategyName string

const (
	StrategySniper     StrategyName = "sniper"
	StrategyResearcher StrategyName = "researcher"
)

// Position is a simulated stake on one side of a market. PnL is recomputed on
// every price refresh while open and frozen once closed.
type Position struct {
	ID           int64          `json:"id"`
	OpenedAt     time.Time      `json:"opened_at"`
	MarketID     string         `json:"market_id"`
	Question     string         `json:"question"`
	Side         Side           `json:"side"`
	EntryPrice   float64        `json:"entry_price"`
	CurrentPrice *float64       `json:"current_price"`
	Size         float64        `json:"size"`
	PnL          float64        `json:"pnl"`
	Status       PositionStatus `json:"status"`
	Strategy     StrategyName   `json:"strategy"`
	Confidence   float64        `json:"confidence"`
	Edge         float64        `json:"edge"`
	Mode         RiskMode       `json:"mode"`
	Reasoning    string         `json:"reasoning"`
	TokenID      string         `json:"token_id"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

// CostBasis is the dollar amount committed when the position was opened.
func (p Position) CostBasis() float64 {
	return p.EntryPrice * p.Size
}

// ReturnPct is the unrealized (or final) return on cost basis in percent.
func (p Position) ReturnPct() float64 {
	cost := p.CostBasis()
	if cost <= 0 {
		return 0
	}
	return p.PnL / cost * 100
}

// MarkPrice is the latest known price, falling back to the entry price when
// the position has never been refreshed.
func (p Position) MarkPrice() float64 {
	if p.CurrentPrice != nil {
		return *p.CurrentPrice
	}
	return p.EntryPrice
}

// IsOpen reports whether the position is still open.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// OpenRequest carries everything the ledger needs to open a position. All
// external data must be resolved before the request is built.
type OpenRequest struct {
	MarketID   string
	Question   string
	Side       Side
	Price      float64
	Size       float64
	Strategy   StrategyName
	Confidence float64
	Edge       float64
	Mode       RiskMode
	Reasoning  string
	TokenID    string
}
