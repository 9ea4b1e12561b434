// Package monitor supervises open positions: one poll loop, one batched
// price request per tick, ordered exit rules, and a sold guard that makes
// every close at-most-once no matter how many triggers race.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"catalystbot/internal/domain"
	"catalystbot/internal/events"
	"catalystbot/internal/metrics"
	"catalystbot/internal/ports"
)

// configSource exposes the current trading configuration.
type configSource interface {
	Config() *domain.BotConfig
}

// tradeObserver is notified after each completed trade so the strategy
// engine can schedule recomputes.
type tradeObserver interface {
	OnTradeCompleted(ctx context.Context)
}

// tracked is the in-memory supervision record for one open position. Only
// the monitor mutates it.
type tracked struct {
	pos       *domain.Position
	peakPrice float64
	lastPrice float64
	sold      atomic.Bool
}

// Monitor owns the tracked-position map and the poll loop.
type Monitor struct {
	logger     ports.Logger
	positions  ports.PositionRepository
	snapshots  ports.SnapshotRepository
	broker     ports.Broker
	marketData ports.MarketData
	config     configSource
	hub        *events.Hub
	observer   tradeObserver

	pollInterval time.Duration

	mu      sync.Mutex
	tracked map[int64]*tracked
}

// Config holds the monitor's dependencies.
type Config struct {
	Logger       ports.Logger
	Positions    ports.PositionRepository
	Snapshots    ports.SnapshotRepository
	Broker       ports.Broker
	MarketData   ports.MarketData
	ConfigSource configSource
	Hub          *events.Hub
	Observer     tradeObserver
	PollInterval time.Duration
}

// New creates an empty monitor.
func New(cfg Config) *Monitor {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Monitor{
		logger:       cfg.Logger,
		positions:    cfg.Positions,
		snapshots:    cfg.Snapshots,
		broker:       cfg.Broker,
		marketData:   cfg.MarketData,
		config:       cfg.ConfigSource,
		hub:          cfg.Hub,
		observer:     cfg.Observer,
		pollInterval: pollInterval,
		tracked:      map[int64]*tracked{},
	}
}

// Track begins supervising an open position. Called by the executor after a
// fill and by startup reconciliation. Re-tracking an already tracked ID is a
// no-op.
func (m *Monitor) Track(pos *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracked[pos.ID]; ok {
		return
	}
	m.tracked[pos.ID] = &tracked{
		pos:       pos,
		peakPrice: pos.EntryPrice,
		lastPrice: pos.EntryPrice,
	}
	metrics.OpenPositions.Set(float64(len(m.tracked)))
	m.logger.Info(context.Background(), "Tracking position", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "entry": pos.EntryPrice, "shares": pos.Shares,
	})
}

// OpenCount is the number of positions under supervision.
func (m *Monitor) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Holding reports whether a symbol is under supervision.
func (m *Monitor) Holding(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracked {
		if t.pos.Symbol == symbol {
			return true
		}
	}
	return false
}

// OpenPositions is a snapshot of supervised positions with their latest
// observed price, for the read API.
func (m *Monitor) OpenPositions() []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.tracked))
	for _, t := range m.tracked {
		cp := *t.pos
		out = append(out, &cp)
	}
	return out
}

// Run drives the poll loop until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	m.logger.Info(ctx, "Position monitor started", map[string]interface{}{"pollInterval": m.pollInterval.String()})
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Position monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick is one poll cycle: one batched snapshot request covering every
// supervised symbol, then per-position exit evaluation. Exposed for tests
// and never propagates errors.
func (m *Monitor) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(ctx, nil, "Monitor tick panicked", map[string]interface{}{"panic": r})
		}
	}()

	m.mu.Lock()
	if len(m.tracked) == 0 {
		m.mu.Unlock()
		return
	}
	symbolSet := map[string]bool{}
	positions := make([]*tracked, 0, len(m.tracked))
	for _, t := range m.tracked {
		symbolSet[t.pos.Symbol] = true
		positions = append(positions, t)
	}
	m.mu.Unlock()

	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}

	snaps, err := m.marketData.GetSnapshots(ctx, symbols)
	if err != nil {
		m.logger.Error(ctx, err, "Snapshot poll failed, skipping tick", map[string]interface{}{"symbols": len(symbols)})
		return
	}

	cfg := m.config.Config()
	now := time.Now()
	for _, t := range positions {
		if t.sold.Load() {
			continue
		}
		snap, ok := snaps[t.pos.Symbol]
		if !ok || snap.Price <= 0 {
			continue
		}
		m.observe(ctx, t, snap.Price, now)
		m.evaluate(ctx, t, cfg, snap.Price, now)
	}
}

// observe updates the running peak and appends a price-snapshot row. The
// peak moves before any rule runs so the trailing stop always measures
// against the freshest high-water mark.
func (m *Monitor) observe(ctx context.Context, t *tracked, price float64, now time.Time) {
	t.lastPrice = price
	if price > t.peakPrice {
		t.peakPrice = price
	}

	poll := int(m.pollInterval.Seconds())
	elapsed := int(now.Sub(t.pos.EntryTime).Seconds())
	if elapsed < 0 || poll <= 0 {
		return
	}
	offset := (elapsed / poll) * poll
	if err := m.snapshots.CreateSnapshot(ctx, &domain.PriceSnapshot{
		PositionID:    t.pos.ID,
		OffsetSeconds: offset,
		Price:         price,
		CreatedAt:     now,
	}); err != nil {
		m.logger.Error(ctx, err, "Recording price snapshot failed", map[string]interface{}{"positionID": t.pos.ID})
	}
}

// evaluate applies the exit rules in fixed order. The order is semantic:
// the hard stop is the last line of defense against a fast crash and always
// wins over every other rule.
func (m *Monitor) evaluate(ctx context.Context, t *tracked, cfg *domain.BotConfig, price float64, now time.Time) {
	if t.pos.EntryPrice <= 0 {
		return
	}
	ret := (price - t.pos.EntryPrice) / t.pos.EntryPrice

	if ret <= -cfg.HardStopPct {
		m.closePosition(ctx, t, domain.ExitHardStop, price)
		return
	}

	// Trailing stop measures from the running peak. The percentage form
	// takes precedence when both forms are configured.
	if t.peakPrice > 0 {
		drop := t.peakPrice - price
		switch {
		case cfg.TrailingStopPct > 0:
			if drop/t.peakPrice >= cfg.TrailingStopPct {
				m.closePosition(ctx, t, domain.ExitTrailingStop, price)
				return
			}
		case cfg.TrailingStopUSD > 0:
			if drop >= cfg.TrailingStopUSD {
				m.closePosition(ctx, t, domain.ExitTrailingStop, price)
				return
			}
		}
	}

	if ret >= cfg.ProfitTargetPct {
		m.closePosition(ctx, t, domain.ExitProfitTarget, price)
		return
	}

	if now.Sub(t.pos.EntryTime) >= time.Duration(cfg.MaxHoldSeconds)*time.Second {
		m.closePosition(ctx, t, domain.ExitTimeLimit, price)
	}
}

// SweepEOD force-closes every supervised position at the session cutoff,
// regardless of exit-rule state.
func (m *Monitor) SweepEOD(ctx context.Context) {
	m.mu.Lock()
	positions := make([]*tracked, 0, len(m.tracked))
	for _, t := range m.tracked {
		positions = append(positions, t)
	}
	m.mu.Unlock()

	if len(positions) == 0 {
		return
	}
	m.logger.Info(ctx, "End-of-day sweep closing positions", map[string]interface{}{"count": len(positions)})
	for _, t := range positions {
		price := t.lastPrice
		if price <= 0 {
			price = t.pos.EntryPrice
		}
		m.closePosition(ctx, t, domain.ExitEndOfDay, price)
	}
}

// closePosition sells and finalizes one position. The sold guard flips
// before any asynchronous work and the entry leaves the map immediately, so
// a racing poll tick or sweep can never double-sell. A failed sell order
// leaves the position untracked rather than re-arming the guard.
func (m *Monitor) closePosition(ctx context.Context, t *tracked, reason domain.ExitReason, price float64) {
	if !t.sold.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	delete(m.tracked, t.pos.ID)
	metrics.OpenPositions.Set(float64(len(m.tracked)))
	m.mu.Unlock()

	order, err := m.broker.PlaceMarketSell(ctx, t.pos.Symbol, t.pos.Shares)
	if err != nil {
		m.logger.Error(ctx, err, "Sell order failed, position left untracked", map[string]interface{}{
			"positionID": t.pos.ID, "symbol": t.pos.Symbol, "reason": reason,
		})
		return
	}
	metrics.OrdersPlaced.WithLabelValues(string(t.pos.Mode), "sell").Inc()

	exitPrice := order.FilledAvgPrice
	if exitPrice <= 0 {
		exitPrice = price
	}

	t.pos.Status = domain.StatusClosed
	t.pos.ExitPrice = exitPrice
	t.pos.ExitReason = reason
	t.pos.ExitTime = time.Now()
	t.pos.PNL = (exitPrice - t.pos.EntryPrice) * t.pos.Shares
	if err := m.positions.Update(ctx, t.pos); err != nil {
		m.logger.Error(ctx, err, "Persisting closed position failed", map[string]interface{}{"positionID": t.pos.ID})
	}

	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	m.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID": t.pos.ID, "symbol": t.pos.Symbol, "reason": reason,
		"entry": t.pos.EntryPrice, "exit": exitPrice, "pnl": t.pos.PNL,
	})
	m.hub.Publish(events.StatusEvent{
		Type:   events.EventPositionClosed,
		Symbol: t.pos.Symbol,
		Detail: map[string]interface{}{"reason": string(reason), "pnl": t.pos.PNL},
	})

	if m.observer != nil {
		m.observer.OnTradeCompleted(ctx)
	}
}
