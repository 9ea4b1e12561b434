package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalystbot/internal/domain"
	"catalystbot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	dir, err := os.MkdirTemp("", "catalystbot-sqlite-test-")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(dir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(dir)
	})
	return repo
}

func TestNewRepositoryRequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: "ignored.db"})
	require.Error(t, err)
}

func TestConfigRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	// First start: no row yet.
	cfg, err := repo.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	saved := domain.DefaultBotConfig()
	saved.State = domain.StateRunning
	saved.Mode = domain.ModeLive
	saved.EnabledTiers = []int{1, 2, 3}
	saved.PositionSizing = map[int]float64{3: 250, 4: 750, 5: 1500}
	saved.MaxConcurrentPositions = 5
	saved.HardStopPct = 0.08
	saved.MinWinRate = 0.55
	require.NoError(t, repo.SaveConfig(ctx, saved))

	loaded, err := repo.LoadConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, domain.StateRunning, loaded.State)
	assert.Equal(t, domain.ModeLive, loaded.Mode)
	assert.Equal(t, []int{1, 2, 3}, loaded.EnabledTiers)
	assert.Equal(t, map[int]float64{3: 250, 4: 750, 5: 1500}, loaded.PositionSizing)
	assert.Equal(t, 5, loaded.MaxConcurrentPositions)
	assert.Equal(t, 0.08, loaded.HardStopPct)
	assert.Equal(t, 0.55, loaded.MinWinRate)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestSaveConfigUpserts(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveConfig(ctx, domain.DefaultBotConfig()))

	next := domain.DefaultBotConfig()
	next.State = domain.StatePaused
	next.MaxSharePrice = 15
	require.NoError(t, repo.SaveConfig(ctx, next))

	loaded, err := repo.LoadConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, domain.StatePaused, loaded.State)
	assert.Equal(t, 15.0, loaded.MaxSharePrice)
}

func TestPositionLifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	entryTime := time.Now().UTC().Truncate(time.Second)

	pos := &domain.Position{
		Symbol:      "ACME",
		Status:      domain.StatusOpen,
		Mode:        domain.ModePaper,
		NotionalUSD: 2000,
		MarketCap:   150_000_000,
		Catalyst:    domain.CatalystFDAApproval,
		Tier:        1,
		StarRating:  5,
		OrderID:     "order-abc",
		EntryTime:   entryTime,
	}
	id, err := repo.Create(ctx, pos)
	require.NoError(t, err)
	require.NotZero(t, id)

	// Entry price and shares start as NULL and read back as zero.
	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "ACME", found.Symbol)
	assert.Equal(t, domain.StatusOpen, found.Status)
	assert.Equal(t, 0.0, found.EntryPrice)
	assert.Equal(t, 0.0, found.Shares)
	assert.Equal(t, "order-abc", found.OrderID)
	assert.WithinDuration(t, entryTime, found.EntryTime, time.Second)

	byOrder, err := repo.FindByOrderID(ctx, "order-abc")
	require.NoError(t, err)
	require.NotNil(t, byOrder)
	assert.Equal(t, id, byOrder.ID)

	open, err := repo.FindOpenBySymbol(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, open)

	allOpen, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, allOpen, 1)

	// Fill, then close.
	found.EntryPrice = 4.02
	found.Shares = 497
	require.NoError(t, repo.Update(ctx, found))

	found.Status = domain.StatusClosed
	found.ExitPrice = 4.35
	found.ExitReason = domain.ExitProfitTarget
	found.ExitTime = entryTime.Add(90 * time.Second)
	found.PNL = (4.35 - 4.02) * 497
	require.NoError(t, repo.Update(ctx, found))

	closed, err := repo.FindClosed(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 4.02, closed[0].EntryPrice)
	assert.Equal(t, 4.35, closed[0].ExitPrice)
	assert.Equal(t, domain.ExitProfitTarget, closed[0].ExitReason)
	assert.InDelta(t, (4.35-4.02)*497, closed[0].PNL, 1e-9)

	open, err = repo.FindOpenBySymbol(ctx, "ACME")
	require.NoError(t, err)
	assert.Nil(t, open)

	recent, err := repo.FindRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestFindMissingPositionReturnsNil(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	found, err := repo.FindByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, found)

	byOrder, err := repo.FindByOrderID(ctx, "no-such-order")
	require.NoError(t, err)
	assert.Nil(t, byOrder)
}

func TestUpdateMissingPositionFails(t *testing.T) {
	repo := setupTestDB(t)
	err := repo.Update(context.Background(), &domain.Position{ID: 42, Symbol: "GHOST", Status: domain.StatusClosed})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestDailyAggregates(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-time.Hour)

	create := func(symbol string, exitTime time.Time, pnl float64) {
		pos := &domain.Position{
			Symbol:      symbol,
			Status:      domain.StatusOpen,
			Mode:        domain.ModePaper,
			NotionalUSD: 1000,
			Catalyst:    domain.CatalystMerger,
			Tier:        1,
			StarRating:  5,
			EntryTime:   exitTime.Add(-time.Minute),
		}
		_, err := repo.Create(ctx, pos)
		require.NoError(t, err)
		pos.Status = domain.StatusClosed
		pos.EntryPrice = 10
		pos.ExitPrice = 10 + pnl/100
		pos.Shares = 100
		pos.ExitReason = domain.ExitTimeLimit
		pos.ExitTime = exitTime
		pos.PNL = pnl
		require.NoError(t, repo.Update(ctx, pos))
	}

	create("NEW1", now.Add(-10*time.Minute), 50)
	create("NEW2", now.Add(-5*time.Minute), -20)
	create("OLD1", now.Add(-3*time.Hour), 999)

	pnl, err := repo.RealizedPnLSince(ctx, cutoff)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, pnl, 1e-9)

	count, err := repo.CountClosedSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	days, err := repo.TradingDays(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, days)
	// Newest first, no duplicates.
	for i := 1; i < len(days); i++ {
		assert.Greater(t, days[i-1], days[i])
	}
}

func TestSignalLog(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	fired := &domain.SignalLogRecord{
		SignalID:  "uuid-1",
		Symbol:    "ACME",
		Headline:  "ACME Receives Tender Offer",
		Sources:   "newswire-a",
		Outcome:   domain.OutcomeFired,
		Category:  domain.CatalystTenderOffer,
		Tier:      1,
		Price:     4.0,
		RelVolume: 12.5,
		WinRate:   -1,
		CreatedAt: base,
	}
	firedID, err := repo.CreateRecord(ctx, fired)
	require.NoError(t, err)
	require.NotZero(t, firedID)

	rejected := &domain.SignalLogRecord{
		SignalID:  "uuid-2",
		Symbol:    "BETA",
		Headline:  "BETA Announces Partnership",
		Sources:   "newswire-b",
		Outcome:   domain.OutcomeRejected,
		Reason:    domain.RejectBelowWinRate,
		Detail:    "0.25",
		Category:  domain.CatalystPartnership,
		Tier:      3,
		WinRate:   0.25,
		CreatedAt: base.Add(time.Second),
	}
	_, err = repo.CreateRecord(ctx, rejected)
	require.NoError(t, err)

	// A duplicate article for the fired signal adds its source.
	require.NoError(t, repo.AppendSource(ctx, firedID, "newswire-b"))

	records, err := repo.FindRecentRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "uuid-2", records[0].SignalID)
	assert.Equal(t, domain.OutcomeRejected, records[0].Outcome)
	assert.Equal(t, domain.RejectBelowWinRate, records[0].Reason)
	assert.Equal(t, "0.25", records[0].Detail)

	assert.Equal(t, "uuid-1", records[1].SignalID)
	assert.Equal(t, domain.OutcomeFired, records[1].Outcome)
	assert.Equal(t, "newswire-a,newswire-b", records[1].Sources)

	limited, err := repo.FindRecentRecords(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "uuid-2", limited[0].SignalID)
}

func TestStrategyRecommendations(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	rec := &domain.StrategyRecommendation{
		Category:        domain.CatalystFDAApproval,
		CapBucket:       domain.CapSmall,
		TODBucket:       domain.TODMidday,
		HoldSeconds:     60,
		TrailingStopPct: 0.03,
		Confidence:      0.8,
		SampleSize:      45,
		WinRate:         0.7,
		MedianReturn:    0.05,
		UpdatedAt:       time.Now().UTC(),
	}
	require.NoError(t, repo.UpsertRecommendation(ctx, rec))

	// Same key again replaces the row.
	rec.HoldSeconds = 90
	rec.SampleSize = 51
	require.NoError(t, repo.UpsertRecommendation(ctx, rec))

	recs, err := repo.LoadRecommendations(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.CatalystFDAApproval, recs[0].Category)
	assert.Equal(t, domain.CapSmall, recs[0].CapBucket)
	assert.Equal(t, domain.TODMidday, recs[0].TODBucket)
	assert.Equal(t, 90, recs[0].HoldSeconds)
	assert.Equal(t, 51, recs[0].SampleSize)
}

func TestPriceSnapshots(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Out of order on purpose; reads come back sorted by offset.
	for _, offset := range []int{30, 0, 15} {
		require.NoError(t, repo.CreateSnapshot(ctx, &domain.PriceSnapshot{
			PositionID:    7,
			OffsetSeconds: offset,
			Price:         10.0 + float64(offset)/100,
			CreatedAt:     now,
		}))
	}
	require.NoError(t, repo.CreateSnapshot(ctx, &domain.PriceSnapshot{
		PositionID:    8,
		OffsetSeconds: 0,
		Price:         5.0,
		CreatedAt:     now,
	}))

	snaps, err := repo.FindByPosition(ctx, 7)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []int{0, 15, 30}, []int{snaps[0].OffsetSeconds, snaps[1].OffsetSeconds, snaps[2].OffsetSeconds})
	assert.InDelta(t, 10.15, snaps[1].Price, 1e-9)

	other, err := repo.FindByPosition(ctx, 8)
	require.NoError(t, err)
	require.Len(t, other, 1)
}
