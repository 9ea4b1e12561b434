package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalystbot/internal/domain"
	"catalystbot/internal/events"
	"catalystbot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockPositionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Position
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{rows: map[int64]*domain.Position{}}
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *pos
	cp.ID = m.nextID
	m.rows[m.nextID] = &cp
	return m.nextID, nil
}

func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.rows[pos.ID] = &cp
	return nil
}

func (m *mockPositionRepo) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.rows[id]; ok {
		cp := *pos
		return &cp, nil
	}
	return nil, nil
}

func (m *mockPositionRepo) FindByOrderID(ctx context.Context, orderID string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.rows {
		if pos.OrderID == orderID {
			cp := *pos
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockPositionRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func (m *mockPositionRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.rows {
		if pos.Symbol == symbol && pos.Status == domain.StatusOpen {
			cp := *pos
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockPositionRepo) FindClosed(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}
func (m *mockPositionRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Position, error) {
	return nil, nil
}
func (m *mockPositionRepo) RealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error) {
	return 0, nil
}
func (m *mockPositionRepo) CountClosedSince(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
func (m *mockPositionRepo) TradingDays(ctx context.Context) ([]string, error) { return nil, nil }

type mockBroker struct {
	mu         sync.Mutex
	buyCalls   []float64
	buyErr     error
	position   *ports.BrokerPosition
	posQueries int
}

func (m *mockBroker) SetMode(mode domain.TradeMode) {}
func (m *mockBroker) PlaceNotionalMarketBuy(ctx context.Context, symbol string, notionalUSD float64) (*ports.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buyErr != nil {
		return nil, m.buyErr
	}
	m.buyCalls = append(m.buyCalls, notionalUSD)
	return &ports.Order{ID: "order-1", Symbol: symbol, NotionalUSD: notionalUSD}, nil
}
func (m *mockBroker) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*ports.Order, error) {
	return nil, nil
}
func (m *mockBroker) GetOrder(ctx context.Context, orderID string) (*ports.Order, error) {
	return nil, nil
}
func (m *mockBroker) GetPosition(ctx context.Context, symbol string) (*ports.BrokerPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posQueries++
	return m.position, nil
}
func (m *mockBroker) ListPositions(ctx context.Context) ([]*ports.BrokerPosition, error) {
	return nil, nil
}
func (m *mockBroker) StreamOrderUpdates(ctx context.Context, handler func(*ports.OrderUpdate), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	return nil, nil, nil
}

type mockTracker struct {
	mu      sync.Mutex
	tracked []*domain.Position
	holding map[string]bool
}

func (m *mockTracker) Track(pos *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = append(m.tracked, pos)
}

func (m *mockTracker) Holding(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holding[symbol]
}

type staticConfig struct {
	cfg *domain.BotConfig
}

func (s *staticConfig) Config() *domain.BotConfig { return s.cfg.Clone() }

type fixture struct {
	exec    *Executor
	repo    *mockPositionRepo
	broker  *mockBroker
	tracker *mockTracker
	cfg     *domain.BotConfig
}

func newFixture() *fixture {
	f := &fixture{
		repo:    newMockPositionRepo(),
		broker:  &mockBroker{},
		tracker: &mockTracker{holding: map[string]bool{}},
		cfg:     domain.DefaultBotConfig(),
	}
	f.exec = New(Config{
		Logger:       &mockLogger{},
		Positions:    f.repo,
		Broker:       f.broker,
		ConfigSource: &staticConfig{cfg: f.cfg},
		Tracker:      f.tracker,
		Hub:          events.NewHub(),
	})
	return f
}

func tierOneSignal() *domain.TradeSignal {
	return &domain.TradeSignal{
		ID:        "sig-1",
		Symbol:    "ACME",
		Headline:  "ACME Receives Tender Offer",
		Category:  domain.CatalystTenderOffer,
		Tier:      1,
		Price:     4.0,
		RelVolume: 10,
		Mode:      domain.ModePaper,
		CreatedAt: time.Now(),
	}
}

func TestStarRating(t *testing.T) {
	tests := []struct {
		name       string
		tier       int
		confidence domain.AdvisorConfidence
		want       int
	}{
		{"tier 1 always top", 1, "", 5},
		{"tier 2 always top", 2, domain.ConfidenceLow, 5},
		{"tier 3 high", 3, domain.ConfidenceHigh, 5},
		{"tier 3 medium", 3, domain.ConfidenceMedium, 4},
		{"tier 4 low", 4, domain.ConfidenceLow, 3},
		{"tier 3 missing confidence", 3, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StarRating(tt.tier, tt.confidence))
		})
	}
}

func TestExecutePlacesSizedOrder(t *testing.T) {
	f := newFixture()
	f.exec.Execute(context.Background(), tierOneSignal())

	require.Len(t, f.broker.buyCalls, 1)
	assert.Equal(t, f.cfg.PositionSizing[5], f.broker.buyCalls[0], "tier 1 buys the 5-star size")

	pos, err := f.repo.FindByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, 0.0, pos.EntryPrice, "entry price unknown until fill")
	assert.Equal(t, 0.0, pos.Shares)
	assert.Equal(t, 5, pos.StarRating)
	assert.Equal(t, domain.CatalystTenderOffer, pos.Catalyst)
}

func TestExecuteSkipsWithoutConfidence(t *testing.T) {
	f := newFixture()
	signal := tierOneSignal()
	signal.Tier = 3
	signal.Confidence = ""

	f.exec.Execute(context.Background(), signal)

	assert.Empty(t, f.broker.buyCalls, "defensive no-op: no order")
	assert.Empty(t, f.repo.rows, "no position row either")
}

func TestExecuteSkipsWhenAlreadyHolding(t *testing.T) {
	f := newFixture()
	f.tracker.holding["ACME"] = true

	f.exec.Execute(context.Background(), tierOneSignal())
	assert.Empty(t, f.broker.buyCalls)

	// Same for a not-yet-tracked open row in the store.
	f.tracker.holding["ACME"] = false
	_, err := f.repo.Create(context.Background(), &domain.Position{Symbol: "ACME", Status: domain.StatusOpen})
	require.NoError(t, err)
	f.exec.Execute(context.Background(), tierOneSignal())
	assert.Empty(t, f.broker.buyCalls)
}

func TestExecuteBrokerFailureMeansNoTrade(t *testing.T) {
	f := newFixture()
	f.broker.buyErr = ports.ErrBrokerUnavailable

	f.exec.Execute(context.Background(), tierOneSignal())
	assert.Empty(t, f.repo.rows, "no position row without an order")
}

func TestHandleOrderUpdateFill(t *testing.T) {
	f := newFixture()
	f.exec.Execute(context.Background(), tierOneSignal())

	f.exec.HandleOrderUpdate(context.Background(), &ports.OrderUpdate{
		Event:          ports.OrderEventFill,
		OrderID:        "order-1",
		Symbol:         "ACME",
		FilledQty:      500,
		FilledAvgPrice: 4.02,
	})

	pos, err := f.repo.FindByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 4.02, pos.EntryPrice)
	assert.Equal(t, 500.0, pos.Shares)

	require.Len(t, f.tracker.tracked, 1)
	assert.Equal(t, pos.ID, f.tracker.tracked[0].ID)
}

func TestHandleOrderUpdatePartialFillQueriesBroker(t *testing.T) {
	f := newFixture()
	f.exec.Execute(context.Background(), tierOneSignal())
	// The stream reports a partial quantity; the broker's position
	// endpoint is authoritative and reports more.
	f.broker.position = &ports.BrokerPosition{Symbol: "ACME", Qty: 497, AvgEntryPrice: 4.03}

	f.exec.HandleOrderUpdate(context.Background(), &ports.OrderUpdate{
		Event:          ports.OrderEventPartialFill,
		OrderID:        "order-1",
		Symbol:         "ACME",
		FilledQty:      100,
		FilledAvgPrice: 4.00,
	})

	assert.Equal(t, 1, f.broker.posQueries, "partial fill triggers the re-query")
	pos, err := f.repo.FindByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 497.0, pos.Shares, "stream quantity is not trusted")
	assert.Equal(t, 4.03, pos.EntryPrice)
	require.Len(t, f.tracker.tracked, 1)
}

func TestHandleOrderUpdateRejectedMarksMissed(t *testing.T) {
	f := newFixture()
	f.exec.Execute(context.Background(), tierOneSignal())

	f.exec.HandleOrderUpdate(context.Background(), &ports.OrderUpdate{
		Event:   ports.OrderEventRejected,
		OrderID: "order-1",
		Symbol:  "ACME",
	})

	pos, err := f.repo.FindByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.StatusMissed, pos.Status)
	assert.Empty(t, f.tracker.tracked)
}

func TestHandleOrderUpdateUnknownOrderIgnored(t *testing.T) {
	f := newFixture()
	f.exec.HandleOrderUpdate(context.Background(), &ports.OrderUpdate{
		Event:   ports.OrderEventFill,
		OrderID: "someone-elses-order",
	})
	assert.Empty(t, f.tracker.tracked)
	assert.Empty(t, f.repo.rows)
}
