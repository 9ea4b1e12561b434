// Package executor turns a fired signal into a broker order and reconciles
// the asynchronous fill callbacks into the position store and the monitor.
package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"catalystbot/internal/domain"
	"catalystbot/internal/events"
	"catalystbot/internal/metrics"
	"catalystbot/internal/ports"
)

// configSource exposes the current trading configuration.
type configSource interface {
	Config() *domain.BotConfig
}

// tracker is the monitor surface the executor needs.
type tracker interface {
	Track(pos *domain.Position)
	Holding(symbol string) bool
}

// Executor places entry orders and applies order-update callbacks.
type Executor struct {
	logger    ports.Logger
	positions ports.PositionRepository
	broker    ports.Broker
	config    configSource
	tracker   tracker
	hub       *events.Hub
}

// Config holds the executor's dependencies.
type Config struct {
	Logger       ports.Logger
	Positions    ports.PositionRepository
	Broker       ports.Broker
	ConfigSource configSource
	Tracker      tracker
	Hub          *events.Hub
}

// New creates an executor.
func New(cfg Config) *Executor {
	return &Executor{
		logger:    cfg.Logger,
		positions: cfg.Positions,
		broker:    cfg.Broker,
		config:    cfg.ConfigSource,
		tracker:   cfg.Tracker,
		hub:       cfg.Hub,
	}
}

// StarRating maps tier and advisory confidence to the 3-5 sizing scale.
// Returns 0 for the defensive no-trade case: tier 3-4 without a confidence
// should never have passed the gauntlet.
func StarRating(tier int, confidence domain.AdvisorConfidence) int {
	if tier <= 2 {
		return 5
	}
	switch confidence {
	case domain.ConfidenceHigh:
		return 5
	case domain.ConfidenceMedium:
		return 4
	case domain.ConfidenceLow:
		return 3
	default:
		return 0
	}
}

// Execute sizes and places the entry order for a fired signal, then creates
// the position row with entry price and shares unset until a fill callback
// writes them. Broker failures degrade to "no trade"; nothing propagates.
func (e *Executor) Execute(ctx context.Context, signal *domain.TradeSignal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, nil, "Executor panicked", map[string]interface{}{"panic": r, "symbol": signal.Symbol})
		}
	}()

	stars := StarRating(signal.Tier, signal.Confidence)
	if stars == 0 {
		e.logger.Warn(ctx, "Signal reached executor without confidence, skipping", map[string]interface{}{
			"symbol": signal.Symbol, "tier": signal.Tier,
		})
		return
	}

	cfg := e.config.Config()
	sized, ok := cfg.PositionSizing[stars]
	if !ok || sized <= 0 {
		e.logger.Warn(ctx, "No position size configured for star rating, skipping", map[string]interface{}{
			"symbol": signal.Symbol, "stars": stars,
		})
		return
	}
	notional, _ := decimal.NewFromFloat(sized).Round(2).Float64()

	// A second late-arriving signal for the same symbol must not double-buy.
	if e.tracker.Holding(signal.Symbol) {
		e.logger.Debug(ctx, "Already holding symbol, skipping execution", map[string]interface{}{"symbol": signal.Symbol})
		return
	}
	if existing, err := e.positions.FindOpenBySymbol(ctx, signal.Symbol); err != nil {
		e.logger.Error(ctx, err, "Open-position re-check failed, skipping execution", map[string]interface{}{"symbol": signal.Symbol})
		return
	} else if existing != nil {
		e.logger.Debug(ctx, "Open position already recorded, skipping execution", map[string]interface{}{"symbol": signal.Symbol})
		return
	}

	order, err := e.broker.PlaceNotionalMarketBuy(ctx, signal.Symbol, notional)
	if err != nil {
		e.logger.Error(ctx, err, "Entry order placement failed, no trade", map[string]interface{}{
			"symbol": signal.Symbol, "notional": notional,
		})
		return
	}
	metrics.OrdersPlaced.WithLabelValues(string(signal.Mode), "buy").Inc()

	pos := &domain.Position{
		Symbol:      signal.Symbol,
		Status:      domain.StatusOpen,
		Mode:        signal.Mode,
		NotionalUSD: notional,
		MarketCap:   signal.MarketCap,
		Catalyst:    signal.Category,
		Tier:        signal.Tier,
		StarRating:  stars,
		OrderID:     order.ID,
		EntryTime:   time.Now(),
	}
	id, err := e.positions.Create(ctx, pos)
	if err != nil {
		e.logger.Error(ctx, err, "Persisting new position failed", map[string]interface{}{
			"symbol": signal.Symbol, "orderID": order.ID,
		})
		return
	}
	pos.ID = id

	e.logger.Info(ctx, "Entry order placed", map[string]interface{}{
		"symbol": signal.Symbol, "orderID": order.ID, "notional": notional, "stars": stars,
	})
}

// HandleOrderUpdate applies one event from the broker's order-update stream.
// Never propagates errors; a lost update is recovered by reconciliation.
func (e *Executor) HandleOrderUpdate(ctx context.Context, upd *ports.OrderUpdate) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, nil, "Order-update handler panicked", map[string]interface{}{"panic": r})
		}
	}()

	pos, err := e.positions.FindByOrderID(ctx, upd.OrderID)
	if err != nil {
		e.logger.Error(ctx, err, "Looking up position for order update failed", map[string]interface{}{"orderID": upd.OrderID})
		return
	}
	if pos == nil {
		// Sell orders and externally placed orders have no entry row.
		return
	}

	switch upd.Event {
	case ports.OrderEventFill:
		pos.EntryPrice = upd.FilledAvgPrice
		pos.Shares = upd.FilledQty
		if err := e.positions.Update(ctx, pos); err != nil {
			e.logger.Error(ctx, err, "Writing fill to position failed", map[string]interface{}{"positionID": pos.ID})
			return
		}
		e.tracker.Track(pos)
		e.logger.Info(ctx, "Entry order filled", map[string]interface{}{
			"symbol": pos.Symbol, "price": pos.EntryPrice, "shares": pos.Shares,
		})
		e.hub.Publish(events.StatusEvent{
			Type:   events.EventPositionOpened,
			Symbol: pos.Symbol,
			Detail: map[string]interface{}{"price": pos.EntryPrice, "shares": pos.Shares},
		})

	case ports.OrderEventPartialFill:
		// Partial-fill quantities on the stream are not guaranteed final.
		// The broker's position endpoint is authoritative.
		bp, err := e.broker.GetPosition(ctx, pos.Symbol)
		if err != nil {
			e.logger.Error(ctx, err, "Authoritative position re-query failed", map[string]interface{}{"symbol": pos.Symbol})
			return
		}
		if bp == nil || bp.Qty <= 0 {
			return
		}
		pos.EntryPrice = bp.AvgEntryPrice
		pos.Shares = bp.Qty
		if err := e.positions.Update(ctx, pos); err != nil {
			e.logger.Error(ctx, err, "Writing partial fill to position failed", map[string]interface{}{"positionID": pos.ID})
			return
		}
		e.tracker.Track(pos)
		e.logger.Info(ctx, "Partial fill reconciled against broker position", map[string]interface{}{
			"symbol": pos.Symbol, "price": pos.EntryPrice, "shares": pos.Shares,
		})

	case ports.OrderEventRejected:
		pos.Status = domain.StatusMissed
		pos.ExitReason = domain.ExitUnknown
		pos.ExitTime = time.Now()
		if err := e.positions.Update(ctx, pos); err != nil {
			e.logger.Error(ctx, err, "Marking rejected position missed failed", map[string]interface{}{"positionID": pos.ID})
			return
		}
		e.logger.Warn(ctx, "Entry order rejected", map[string]interface{}{"symbol": pos.Symbol, "orderID": upd.OrderID})
		e.hub.Publish(events.StatusEvent{Type: events.EventPositionMissed, Symbol: pos.Symbol})
	}
}
