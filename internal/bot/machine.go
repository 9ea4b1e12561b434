// Package bot owns the singleton run-mode and configuration. Every other
// component reads state through its accessors; only the machine mutates it.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"catalystbot/internal/domain"
	"catalystbot/internal/events"
	"catalystbot/internal/ports"
)

// tracker is the slice of the position monitor the machine needs: hydration
// at reconciliation and the open-position check guarding mode switches.
type tracker interface {
	Track(pos *domain.Position)
	OpenCount() int
}

// Machine is the bot state machine. Construct once, share by reference.
type Machine struct {
	logger     ports.Logger
	configRepo ports.ConfigRepository
	positions  ports.PositionRepository
	broker     ports.Broker
	tracker    tracker
	hub        *events.Hub
	loc        *time.Location

	// onModeSwitch lets the wiring layer restart the order-update stream
	// against the new endpoint. May be nil.
	onModeSwitch func(mode domain.TradeMode)

	// Readiness thresholds for the paper-to-live gate.
	readinessTrades    int
	readinessCleanDays int

	mu  sync.Mutex
	cfg *domain.BotConfig
}

// Config holds the machine's dependencies.
type Config struct {
	Logger       ports.Logger
	ConfigRepo   ports.ConfigRepository
	Positions    ports.PositionRepository
	Broker       ports.Broker
	Tracker      tracker
	Hub          *events.Hub
	Location     *time.Location
	OnModeSwitch func(mode domain.TradeMode)

	ReadinessTrades    int
	ReadinessCleanDays int
}

// New creates the machine. Call Init before serving traffic.
func New(cfg Config) *Machine {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	readinessTrades := cfg.ReadinessTrades
	if readinessTrades <= 0 {
		readinessTrades = 50
	}
	readinessCleanDays := cfg.ReadinessCleanDays
	if readinessCleanDays <= 0 {
		readinessCleanDays = 5
	}
	m := &Machine{
		logger:             cfg.Logger,
		configRepo:         cfg.ConfigRepo,
		positions:          cfg.Positions,
		broker:             cfg.Broker,
		tracker:            cfg.Tracker,
		hub:                cfg.Hub,
		loc:                loc,
		onModeSwitch:       cfg.OnModeSwitch,
		readinessTrades:    readinessTrades,
		readinessCleanDays: readinessCleanDays,
	}
	return m
}

// Init runs once at process start: loads or creates the singleton config,
// restores the persisted run state, points the broker at the right endpoint
// and reconciles local positions against the broker. Reconciliation failures
// are logged and swallowed so the process comes up even with the broker
// unreachable.
func (m *Machine) Init(ctx context.Context) error {
	cfg, err := m.configRepo.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading bot config: %w", err)
	}
	if cfg == nil {
		cfg = domain.DefaultBotConfig()
		cfg.UpdatedAt = time.Now()
		if err := m.configRepo.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("creating bot config: %w", err)
		}
		m.logger.Info(ctx, "Created default bot configuration")
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.broker.SetMode(cfg.Mode)
	m.logger.Info(ctx, "Bot initialized", map[string]interface{}{"state": cfg.State, "mode": cfg.Mode})

	if err := m.reconcile(ctx); err != nil {
		m.logger.Warn(ctx, "Startup reconciliation failed, continuing", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// reconcile aligns local open positions with the broker's authoritative
// list: locally-open rows the broker disowns become missed, broker-only
// positions are imported, and everything still live is hydrated into the
// monitor.
func (m *Machine) reconcile(ctx context.Context) error {
	brokerPositions, err := m.broker.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing broker positions: %w", err)
	}
	held := map[string]*ports.BrokerPosition{}
	for _, bp := range brokerPositions {
		held[bp.Symbol] = bp
	}

	localOpen, err := m.positions.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}

	seen := map[string]bool{}
	for _, pos := range localOpen {
		bp, ok := held[pos.Symbol]
		if !ok {
			pos.Status = domain.StatusMissed
			pos.ExitReason = domain.ExitUnknown
			pos.ExitTime = time.Now()
			if err := m.positions.Update(ctx, pos); err != nil {
				m.logger.Error(ctx, err, "Marking lost position missed failed", map[string]interface{}{"symbol": pos.Symbol})
				continue
			}
			m.logger.Warn(ctx, "Open position absent at broker, marked missed", map[string]interface{}{"symbol": pos.Symbol, "positionID": pos.ID})
			continue
		}

		seen[pos.Symbol] = true
		// The broker's entry and quantity win over whatever a lost fill
		// callback left behind.
		if pos.EntryPrice <= 0 || pos.Shares <= 0 {
			pos.EntryPrice = bp.AvgEntryPrice
			pos.Shares = bp.Qty
			if err := m.positions.Update(ctx, pos); err != nil {
				m.logger.Error(ctx, err, "Backfilling position from broker failed", map[string]interface{}{"symbol": pos.Symbol})
			}
		}
		m.tracker.Track(pos)
	}

	mode := m.Mode()
	for symbol, bp := range held {
		if seen[symbol] {
			continue
		}
		pos := &domain.Position{
			Symbol:     symbol,
			Status:     domain.StatusOpen,
			Mode:       mode,
			EntryPrice: bp.AvgEntryPrice,
			Shares:     bp.Qty,
			Catalyst:   domain.CatalystOther,
			Tier:       domain.TierDisabled,
			EntryTime:  time.Now(),
		}
		id, err := m.positions.Create(ctx, pos)
		if err != nil {
			m.logger.Error(ctx, err, "Importing orphan broker position failed", map[string]interface{}{"symbol": symbol})
			continue
		}
		pos.ID = id
		m.tracker.Track(pos)
		m.logger.Warn(ctx, "Imported orphan position from broker", map[string]interface{}{"symbol": symbol, "qty": bp.Qty})
	}
	return nil
}

// State is the current run state.
func (m *Machine) State() domain.BotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.State
}

// Mode is the current trade mode.
func (m *Machine) Mode() domain.TradeMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Mode
}

// Config returns a deep copy of the current configuration.
func (m *Machine) Config() *domain.BotConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

// Start transitions stopped -> running.
func (m *Machine) Start(ctx context.Context) error {
	return m.transition(ctx, domain.StateRunning, domain.StateStopped)
}

// Pause transitions running -> paused. Existing positions stay monitored;
// new signals are no longer admitted.
func (m *Machine) Pause(ctx context.Context) error {
	return m.transition(ctx, domain.StatePaused, domain.StateRunning)
}

// Resume transitions paused -> running.
func (m *Machine) Resume(ctx context.Context) error {
	return m.transition(ctx, domain.StateRunning, domain.StatePaused)
}

// Stop transitions running or paused -> stopped.
func (m *Machine) Stop(ctx context.Context) error {
	return m.transition(ctx, domain.StateStopped, domain.StateRunning, domain.StatePaused)
}

func (m *Machine) transition(ctx context.Context, to domain.BotState, from ...domain.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := false
	for _, f := range from {
		if m.cfg.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: cannot go from %s to %s", ports.ErrInvalidTransition, m.cfg.State, to)
	}

	prev := m.cfg.State
	m.cfg.State = to
	m.cfg.UpdatedAt = time.Now()
	if err := m.configRepo.SaveConfig(ctx, m.cfg); err != nil {
		m.cfg.State = prev
		return fmt.Errorf("persisting state transition: %w", err)
	}

	m.logger.Info(ctx, "Bot state changed", map[string]interface{}{"from": prev, "to": to})
	m.hub.Publish(events.StatusEvent{
		Type:   events.EventBotState,
		Detail: map[string]interface{}{"from": string(prev), "to": string(to)},
	})
	return nil
}

// UpdateConfig applies a partial patch, validates the result and persists it.
func (m *Machine) UpdateConfig(ctx context.Context, patch *domain.BotConfigPatch) (*domain.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg.Clone()
	patch.Apply(next)
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}
	next.UpdatedAt = time.Now()
	if err := m.configRepo.SaveConfig(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting config update: %w", err)
	}
	m.cfg = next

	m.logger.Info(ctx, "Bot configuration updated")
	m.hub.Publish(events.StatusEvent{Type: events.EventConfigUpdated})
	return next.Clone(), nil
}

// SwitchMode moves between paper and live. Rejected while any position is
// open so there is never ambiguity about which endpoint owns in-flight risk.
func (m *Machine) SwitchMode(ctx context.Context, mode domain.TradeMode) error {
	if mode != domain.ModePaper && mode != domain.ModeLive {
		return fmt.Errorf("%w: unknown mode %q", ports.ErrInvalidRequest, mode)
	}
	if m.tracker.OpenCount() > 0 {
		return fmt.Errorf("%w: close all positions before switching mode", ports.ErrPositionsOpen)
	}

	m.mu.Lock()
	if m.cfg.Mode == mode {
		m.mu.Unlock()
		return fmt.Errorf("%w: already in %s mode", ports.ErrInvalidRequest, mode)
	}
	prev := m.cfg.Mode
	m.cfg.Mode = mode
	m.cfg.UpdatedAt = time.Now()
	if err := m.configRepo.SaveConfig(ctx, m.cfg); err != nil {
		m.cfg.Mode = prev
		m.mu.Unlock()
		return fmt.Errorf("persisting mode switch: %w", err)
	}
	m.mu.Unlock()

	m.broker.SetMode(mode)
	if m.onModeSwitch != nil {
		m.onModeSwitch(mode)
	}
	m.logger.Info(ctx, "Trade mode switched", map[string]interface{}{"from": prev, "to": mode})
	m.hub.Publish(events.StatusEvent{
		Type:   events.EventBotState,
		Detail: map[string]interface{}{"mode": string(mode)},
	})
	return nil
}

// Status is the read-endpoint summary of the bot right now.
type Status struct {
	State         domain.BotState `json:"state"`
	Mode          domain.TradeMode `json:"mode"`
	OpenPositions int             `json:"open_positions"`
	TodayPnLUSD   float64         `json:"today_pnl_usd"`
	TodayTrades   int             `json:"today_trades"`
}

// Status reports the current state plus today's realized aggregates. Daily
// aggregates are date-keyed queries, nothing resets at midnight.
func (m *Machine) Status(ctx context.Context) (*Status, error) {
	midnight := m.localMidnight()
	pnl, err := m.positions.RealizedPnLSince(ctx, midnight)
	if err != nil {
		return nil, err
	}
	trades, err := m.positions.CountClosedSince(ctx, midnight)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	state, mode := m.cfg.State, m.cfg.Mode
	m.mu.Unlock()

	return &Status{
		State:         state,
		Mode:          mode,
		OpenPositions: m.tracker.OpenCount(),
		TodayPnLUSD:   pnl,
		TodayTrades:   trades,
	}, nil
}

func (m *Machine) localMidnight() time.Time {
	now := time.Now().In(m.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc)
}

// ReadinessCheck is one threshold in the paper-to-live gate.
type ReadinessCheck struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
	Reason    string  `json:"reason,omitempty"`
}

// Readiness is the go-live report: all checks must pass before promotion.
type Readiness struct {
	Ready  bool             `json:"ready"`
	Checks []ReadinessCheck `json:"checks"`
}

// Readiness evaluates the paper-to-live promotion gate: completed trade
// count, historical win rate against the configured minimum, and consecutive
// clean trading days.
func (m *Machine) Readiness(ctx context.Context) (*Readiness, error) {
	closed, err := m.positions.FindClosed(ctx)
	if err != nil {
		return nil, err
	}
	wins := 0
	counted := 0
	for _, pos := range closed {
		if pos.EntryPrice <= 0 || pos.ExitPrice <= 0 {
			continue
		}
		counted++
		if pos.Return() > 0 {
			wins++
		}
	}
	winRate := 0.0
	if counted > 0 {
		winRate = float64(wins) / float64(counted)
	}

	days, err := m.positions.TradingDays(ctx)
	if err != nil {
		return nil, err
	}
	cleanStreak := consecutiveDays(days, time.Now().In(m.loc))

	minWinRate := m.Config().MinWinRate

	checks := []ReadinessCheck{
		{
			Name: "completed_trades", Value: float64(counted), Threshold: float64(m.readinessTrades),
			Passed: counted >= m.readinessTrades,
		},
		{
			Name: "win_rate", Value: winRate, Threshold: minWinRate,
			Passed: counted > 0 && winRate >= minWinRate,
		},
		{
			Name: "clean_trading_days", Value: float64(cleanStreak), Threshold: float64(m.readinessCleanDays),
			Passed: cleanStreak >= m.readinessCleanDays,
		},
	}

	ready := true
	for i := range checks {
		if !checks[i].Passed {
			ready = false
			switch checks[i].Name {
			case "completed_trades":
				checks[i].Reason = fmt.Sprintf("need %d completed trades, have %d", m.readinessTrades, counted)
			case "win_rate":
				checks[i].Reason = fmt.Sprintf("win rate %.1f%% below required %.1f%%", winRate*100, minWinRate*100)
			case "clean_trading_days":
				checks[i].Reason = fmt.Sprintf("need %d consecutive trading days, have %d", m.readinessCleanDays, cleanStreak)
			}
		}
	}
	return &Readiness{Ready: ready, Checks: checks}, nil
}

// consecutiveDays counts the streak of calendar days with trades, walking
// back from the most recent trading day. Weekends do not break the streak.
func consecutiveDays(days []string, now time.Time) int {
	if len(days) == 0 {
		return 0
	}
	streak := 1
	prev, err := time.ParseInLocation("2006-01-02", days[0], now.Location())
	if err != nil {
		return 0
	}
	for _, day := range days[1:] {
		cur, err := time.ParseInLocation("2006-01-02", day, now.Location())
		if err != nil {
			break
		}
		gap := int(prev.Sub(cur).Hours() / 24)
		if gap > 3 { // allows a weekend between Friday and Monday
			break
		}
		streak++
		prev = cur
	}
	return streak
}
