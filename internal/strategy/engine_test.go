package strategy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalystbot/internal/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockPositionRepo struct {
	closed []*domain.Position
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	return 0, nil
}
func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error { return nil }
func (m *mockPositionRepo) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	return nil, nil
}
func (m *mockPositionRepo) FindByOrderID(ctx context.Context, orderID string) (*domain.Position, error) {
	return nil, nil
}
func (m *mockPositionRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}
func (m *mockPositionRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	return nil, nil
}
func (m *mockPositionRepo) FindClosed(ctx context.Context) ([]*domain.Position, error) {
	return m.closed, nil
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

type mockSnapshotRepo struct {
	byPosition map[int64][]*domain.PriceSnapshot
}

func (m *mockSnapshotRepo) CreateSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error {
	return nil
}
func (m *mockSnapshotRepo) FindByPosition(ctx context.Context, positionID int64) ([]*domain.PriceSnapshot, error) {
	return m.byPosition[positionID], nil
}

type mockStrategyRepo struct {
	upserts []*domain.StrategyRecommendation
}

func (m *mockStrategyRepo) UpsertRecommendation(ctx context.Context, rec *domain.StrategyRecommendation) error {
	m.upserts = append(m.upserts, rec)
	return nil
}
func (m *mockStrategyRepo) LoadRecommendations(ctx context.Context) ([]*domain.StrategyRecommendation, error) {
	return nil, nil
}

func nyLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

// seedTrades builds n identical winning trades: entry 10.00, rising to a
// 10.50 peak at 60s, decaying to 10.20 by 120s. Midday, small cap.
func seedTrades(t *testing.T, loc *time.Location, n int) (*mockPositionRepo, *mockSnapshotRepo) {
	t.Helper()
	entryTime := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	curve := map[int]float64{
		15: 10.1, 30: 10.2, 45: 10.4, 60: 10.5,
		75: 10.45, 90: 10.4, 105: 10.3, 120: 10.2,
	}

	positions := &mockPositionRepo{}
	snapshots := &mockSnapshotRepo{byPosition: map[int64][]*domain.PriceSnapshot{}}
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		positions.closed = append(positions.closed, &domain.Position{
			ID:         id,
			Symbol:     fmt.Sprintf("SYM%d", i),
			Status:     domain.StatusClosed,
			EntryPrice: 10.0,
			ExitPrice:  10.2,
			Shares:     50,
			MarketCap:  1_000_000_000, // small bucket
			Catalyst:   domain.CatalystFDAApproval,
			EntryTime:  entryTime,
		})
		for offset, price := range curve {
			snapshots.byPosition[id] = append(snapshots.byPosition[id], &domain.PriceSnapshot{
				PositionID:    id,
				OffsetSeconds: offset,
				Price:         price,
			})
		}
	}
	return positions, snapshots
}

func newTestEngine(positions *mockPositionRepo, snapshots *mockSnapshotRepo, loc *time.Location) (*Engine, *mockStrategyRepo) {
	store := &mockStrategyRepo{}
	return New(Config{
		Logger:    &mockLogger{},
		Positions: positions,
		Snapshots: snapshots,
		Store:     store,
		Location:  loc,
	}), store
}

func TestRecomputePhase1(t *testing.T) {
	loc := nyLocation(t)
	positions, snapshots := seedTrades(t, loc, 45)
	engine, store := newTestEngine(positions, snapshots, loc)

	require.NoError(t, engine.Recompute(context.Background()))

	midday := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	rec := engine.Lookup(domain.CatalystFDAApproval, 1_000_000_000, midday)
	require.NotNil(t, rec)

	assert.Equal(t, 45, rec.SampleSize)
	assert.Equal(t, 60, rec.HoldSeconds, "best median return sits at the 60s offset")
	// The run-up to the peak is monotonic, so drawdown is zero and the
	// trailing stop stays at the phase-1 floor.
	assert.InDelta(t, 0.03, rec.TrailingStopPct, 1e-9)
	assert.InDelta(t, 1.0, rec.WinRate, 1e-9)
	assert.InDelta(t, 0.05, rec.MedianReturn, 1e-9)
	assert.Greater(t, rec.Confidence, 0.0)
	assert.Less(t, rec.Confidence, 1.0)
	assert.NotEmpty(t, store.upserts)
}

func TestRecomputePhase2Transition(t *testing.T) {
	loc := nyLocation(t)
	midday := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)

	// 45 samples: phase 1, trailing pinned at its 3% floor.
	positions, snapshots := seedTrades(t, loc, 45)
	engine, _ := newTestEngine(positions, snapshots, loc)
	require.NoError(t, engine.Recompute(context.Background()))
	rec := engine.Lookup(domain.CatalystFDAApproval, 1_000_000_000, midday)
	require.NotNil(t, rec)
	assert.InDelta(t, 0.03, rec.TrailingStopPct, 1e-9)

	// 51 samples: phase 2 derives the stop from post-peak declines, which
	// for this curve sit just under the phase-1 floor.
	positions, snapshots = seedTrades(t, loc, 51)
	engine, _ = newTestEngine(positions, snapshots, loc)
	require.NoError(t, engine.Recompute(context.Background()))
	rec = engine.Lookup(domain.CatalystFDAApproval, 1_000_000_000, midday)
	require.NotNil(t, rec)
	assert.Equal(t, 51, rec.SampleSize)
	assert.Equal(t, 60, rec.HoldSeconds)
	// Peak 10.50, trough after peak 10.20: decline of ~2.857%.
	assert.InDelta(t, (10.5-10.2)/10.5, rec.TrailingStopPct, 1e-6)
}

func TestRecomputeIdempotent(t *testing.T) {
	loc := nyLocation(t)
	positions, snapshots := seedTrades(t, loc, 20)
	engine, _ := newTestEngine(positions, snapshots, loc)

	require.NoError(t, engine.Recompute(context.Background()))
	first := engine.Recommendations()
	require.NoError(t, engine.Recompute(context.Background()))
	second := engine.Recommendations()

	require.Equal(t, len(first), len(second))
	for i := range first {
		a, b := first[i], second[i]
		assert.Equal(t, a.Category, b.Category)
		assert.Equal(t, a.CapBucket, b.CapBucket)
		assert.Equal(t, a.TODBucket, b.TODBucket)
		assert.Equal(t, a.HoldSeconds, b.HoldSeconds)
		assert.Equal(t, a.TrailingStopPct, b.TrailingStopPct)
		assert.Equal(t, a.SampleSize, b.SampleSize)
		assert.Equal(t, a.WinRate, b.WinRate)
		assert.Equal(t, a.MedianReturn, b.MedianReturn)
	}
}

func TestLookupFallbackChain(t *testing.T) {
	loc := nyLocation(t)
	positions, snapshots := seedTrades(t, loc, 10)
	engine, _ := newTestEngine(positions, snapshots, loc)
	require.NoError(t, engine.Recompute(context.Background()))

	midday := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)

	// Unknown market cap lands on the category-wide aggregate.
	rec := engine.Lookup(domain.CatalystFDAApproval, 0, midday)
	require.NotNil(t, rec)
	assert.Equal(t, domain.CapAll, rec.CapBucket)

	// Unknown category falls through to the global aggregate.
	rec = engine.Lookup(domain.CatalystBuyback, 1_000_000_000, midday)
	require.NotNil(t, rec)
	assert.Equal(t, domain.CatalystAll, rec.Category)
}

func TestRecommendDefaultWhenNoData(t *testing.T) {
	loc := nyLocation(t)
	engine, _ := newTestEngine(&mockPositionRepo{}, &mockSnapshotRepo{byPosition: map[int64][]*domain.PriceSnapshot{}}, loc)

	rec := engine.Recommend(domain.CatalystMerger, 0, time.Date(2026, 8, 24, 12, 0, 0, 0, loc))
	require.NotNil(t, rec)
	assert.Equal(t, 60, rec.HoldSeconds)
	assert.InDelta(t, 0.03, rec.TrailingStopPct, 1e-9)
	assert.Equal(t, 0, rec.SampleSize)
	assert.Equal(t, 0.0, rec.Confidence)
}

func TestOnTradeCompletedTriggersRecompute(t *testing.T) {
	loc := nyLocation(t)
	positions, snapshots := seedTrades(t, loc, 10)
	engine, store := newTestEngine(positions, snapshots, loc)
	engine.recomputeEvery = 3

	ctx := context.Background()
	engine.OnTradeCompleted(ctx)
	engine.OnTradeCompleted(ctx)
	assert.Empty(t, store.upserts, "no recompute before the threshold")

	engine.OnTradeCompleted(ctx)
	assert.NotEmpty(t, store.upserts, "third completed trade triggers the recompute")
}
