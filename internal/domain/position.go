package domain

import "time"

// PositionStatus represents the lifecycle status of a trade attempt.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
	// StatusMissed marks an attempt that never became (or no longer is) a live
	// position: rejected orders, or rows the broker disowned at reconciliation.
	StatusMissed PositionStatus = "missed"
)

// ExitReason indicates which rule closed a position.
type ExitReason string

const (
	ExitHardStop     ExitReason = "hard_stop"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitProfitTarget ExitReason = "profit_target"
	ExitTimeLimit    ExitReason = "time_exit"
	ExitEndOfDay     ExitReason = "eod_close"
	ExitManual       ExitReason = "manual"
	ExitUnknown      ExitReason = "unknown"
)

// Position is one trade attempt, persisted from order placement onward.
// EntryPrice and Shares stay zero until a fill callback writes them.
type Position struct {
	ID          int64
	Symbol      string
	Status      PositionStatus
	Mode        TradeMode // paper or live at the time of entry
	EntryPrice  float64
	ExitPrice   float64
	Shares      float64
	NotionalUSD float64 // Dollar size requested at order placement
	MarketCap   float64 // Issuer market cap at signal time, for strategy bucketing
	Catalyst    CatalystCategory
	Tier        int
	StarRating  int
	OrderID     string // Broker order ID of the entry order
	ExitReason  ExitReason
	EntryTime   time.Time
	ExitTime    time.Time
	PNL         float64
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Return is the realized fractional return, or 0 while entry/exit are unknown.
func (p *Position) Return() float64 {
	if p.EntryPrice <= 0 || p.ExitPrice <= 0 {
		return 0
	}
	return (p.ExitPrice - p.EntryPrice) / p.EntryPrice
}

// PriceSnapshot is one observed price for an open position, recorded by the
// monitor each poll tick. The series feeds the strategy engine's hold-time
// and trailing-stop statistics.
type PriceSnapshot struct {
	ID            int64
	PositionID    int64
	OffsetSeconds int // Seconds since entry, rounded to the poll cadence
	Price         float64
	CreatedAt     time.Time
}
