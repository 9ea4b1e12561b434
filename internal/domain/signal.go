package domain

import "time"

// SignalOutcome is the recorded result of a gauntlet evaluation.
type SignalOutcome string

const (
	OutcomeFired    SignalOutcome = "fired"
	OutcomeRejected SignalOutcome = "rejected"
)

// RejectReason is a stable code identifying which gate rejected a signal.
// Silent skips (bot not running, market closed, duplicates) carry no reason
// because they are never recorded.
type RejectReason string

const (
	RejectReconnectCooldown RejectReason = "reconnect-cooldown"
	RejectStale             RejectReason = "stale"
	RejectDangerPattern     RejectReason = "danger-pattern"
	RejectTierDisabled      RejectReason = "tier-disabled"
	RejectOpeningAuction    RejectReason = "opening-auction"
	RejectBelowWinRate      RejectReason = "below-win-rate"
	RejectFailedPillars     RejectReason = "failed-5-pillars"
	RejectMaxPositions      RejectReason = "max-positions"
	RejectAlreadyHolding    RejectReason = "already-holding"
	RejectAIUnavailable     RejectReason = "ai-unavailable"
	RejectAITimeout         RejectReason = "ai-timeout"
	RejectAIDeclined        RejectReason = "ai-declined"
)

// AdvisorConfidence is the graded conviction returned by the AI advisory.
type AdvisorConfidence string

const (
	ConfidenceHigh   AdvisorConfidence = "high"
	ConfidenceMedium AdvisorConfidence = "medium"
	ConfidenceLow    AdvisorConfidence = "low"
	ConfidenceNone   AdvisorConfidence = ""
)

// TradeSignal is a fully vetted fire decision handed to the executor.
type TradeSignal struct {
	ID         string // uuid, shared with the audit record
	Symbol     string
	Headline   string
	Source     string
	Category   CatalystCategory
	Tier       int
	Confidence AdvisorConfidence
	Price      float64 // Last price from the pillar snapshot
	RelVolume  float64
	MarketCap  float64
	Mode       TradeMode
	CreatedAt  time.Time
}

// SignalLogRecord is one append-only audit row per non-silent gauntlet
// outcome, carrying the inputs that produced the decision.
type SignalLogRecord struct {
	ID         int64
	SignalID   string
	Symbol     string
	Headline   string
	Sources    string // Comma-separated; duplicates append their source here
	Outcome    SignalOutcome
	Reason     RejectReason // Empty when fired
	Detail     string       // e.g. which pillar failed
	Category   CatalystCategory
	Tier       int
	Price      float64
	RelVolume  float64
	WinRate    float64 // Strategy win-rate snapshot at decision time, -1 when no data
	Confidence AdvisorConfidence
	CreatedAt  time.Time
}
