// Package strategy learns per-bucket hold times and trailing-stop widths
// from completed trades and their price-snapshot series. The cache is
// read-heavy with a single writer (the recompute job); lookups fall back
// from the most specific bucket triple to a global default.
package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"catalystbot/internal/domain"
	"catalystbot/internal/ports"
)

const (
	// offsetBucketSeconds is the snapshot grid the return curves are built
	// on. The monitor polls faster than this; multiple observations in one
	// bucket collapse to the latest.
	offsetBucketSeconds = 15
	// maxOffsetSeconds caps the studied horizon.
	maxOffsetSeconds = 600

	// minGroupSamples is the floor below which a group produces no
	// recommendation at all.
	minGroupSamples = 3
	// phase2Samples switches a group from coarse per-offset medians to the
	// full median-curve treatment.
	phase2Samples = 50

	defaultHoldSeconds  = 60
	defaultTrailingPct  = 0.03
	phase1TrailingFloor = 0.03
	phase2TrailingFloor = 0.02
)

type groupKey struct {
	Category  domain.CatalystCategory
	CapBucket domain.MarketCapBucket
	TODBucket domain.TimeOfDayBucket
}

// Engine owns the recommendation cache and the recompute job.
type Engine struct {
	logger    ports.Logger
	positions ports.PositionRepository
	snapshots ports.SnapshotRepository
	store     ports.StrategyRepository

	// recomputeEvery triggers a recompute after this many completed trades.
	recomputeEvery int
	// loc is the market timezone; entry times are converted before
	// time-of-day bucketing because stored timestamps round-trip as UTC.
	loc *time.Location

	mu         sync.RWMutex
	cache      map[groupKey]*domain.StrategyRecommendation
	tradeCount int
}

// Config holds the engine's dependencies.
type Config struct {
	Logger         ports.Logger
	Positions      ports.PositionRepository
	Snapshots      ports.SnapshotRepository
	Store          ports.StrategyRepository
	RecomputeEvery int
	Location       *time.Location
}

// New creates the engine with an empty cache. Call Hydrate then Recompute at
// startup.
func New(cfg Config) *Engine {
	recomputeEvery := cfg.RecomputeEvery
	if recomputeEvery <= 0 {
		recomputeEvery = 10
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		logger:         cfg.Logger,
		positions:      cfg.Positions,
		snapshots:      cfg.Snapshots,
		store:          cfg.Store,
		recomputeEvery: recomputeEvery,
		loc:            loc,
		cache:          map[groupKey]*domain.StrategyRecommendation{},
	}
}

// Hydrate fills the cache from persisted recommendations so lookups work
// before the first recompute finishes.
func (e *Engine) Hydrate(ctx context.Context) error {
	recs, err := e.store.LoadRecommendations(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range recs {
		e.cache[groupKey{rec.Category, rec.CapBucket, rec.TODBucket}] = rec
	}
	e.logger.Info(ctx, "Strategy cache hydrated", map[string]interface{}{"entries": len(recs)})
	return nil
}

// defaultRecommendation is returned when no bucket has enough history.
func defaultRecommendation(category domain.CatalystCategory, capBucket domain.MarketCapBucket, todBucket domain.TimeOfDayBucket) *domain.StrategyRecommendation {
	return &domain.StrategyRecommendation{
		Category:        category,
		CapBucket:       capBucket,
		TODBucket:       todBucket,
		HoldSeconds:     defaultHoldSeconds,
		TrailingStopPct: defaultTrailingPct,
		Confidence:      0,
		SampleSize:      0,
		WinRate:         -1,
	}
}

// Lookup returns the most specific cached recommendation for the bucket
// triple, or nil when no bucket on the fallback chain has enough samples.
// asOf must be market-local time.
func (e *Engine) Lookup(category domain.CatalystCategory, marketCap float64, asOf time.Time) *domain.StrategyRecommendation {
	capBucket := domain.BucketMarketCap(marketCap)
	todBucket := domain.BucketTimeOfDay(asOf)

	chain := []groupKey{
		{category, capBucket, todBucket},
		{category, capBucket, domain.TODAll},
		{category, domain.CapAll, domain.TODAll},
		{domain.CatalystAll, domain.CapAll, domain.TODAll},
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, key := range chain {
		if rec, ok := e.cache[key]; ok && rec.SampleSize >= minGroupSamples {
			return rec
		}
	}
	return nil
}

// Recommend is Lookup with a hardcoded fallback for buckets without history.
func (e *Engine) Recommend(category domain.CatalystCategory, marketCap float64, asOf time.Time) *domain.StrategyRecommendation {
	if rec := e.Lookup(category, marketCap, asOf); rec != nil {
		return rec
	}
	return defaultRecommendation(category, domain.BucketMarketCap(marketCap), domain.BucketTimeOfDay(asOf))
}

// Recommendations returns a snapshot of the full cache for the read API.
func (e *Engine) Recommendations() []*domain.StrategyRecommendation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.StrategyRecommendation, 0, len(e.cache))
	for _, rec := range e.cache {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].CapBucket != out[j].CapBucket {
			return out[i].CapBucket < out[j].CapBucket
		}
		return out[i].TODBucket < out[j].TODBucket
	})
	return out
}

// OnTradeCompleted counts completed trades and triggers a recompute every
// recomputeEvery-th trade. Errors are logged, not returned; this sits on the
// monitor's close path.
func (e *Engine) OnTradeCompleted(ctx context.Context) {
	e.mu.Lock()
	e.tradeCount++
	due := e.tradeCount%e.recomputeEvery == 0
	e.mu.Unlock()

	if !due {
		return
	}
	if err := e.Recompute(ctx); err != nil {
		e.logger.Error(ctx, err, "Strategy recompute after completed trade failed")
	}
}

// tradeSeries is one completed trade's return curve on the offset grid.
type tradeSeries struct {
	category  domain.CatalystCategory
	capBucket domain.MarketCapBucket
	todBucket domain.TimeOfDayBucket

	// returns maps offset bucket to fractional return vs entry.
	returns map[int]float64
	// prices maps offset bucket to observed price, for drawdown math.
	prices map[int]float64
	// offsets is the sorted bucket list present in this trade.
	offsets []int

	finalReturn float64
}

// Recompute rebuilds every group's recommendation from completed trades.
// It is deterministic on unchanged data, so repeated runs are idempotent.
func (e *Engine) Recompute(ctx context.Context) error {
	start := time.Now()

	closed, err := e.positions.FindClosed(ctx)
	if err != nil {
		return err
	}

	var series []*tradeSeries
	for _, pos := range closed {
		if pos.EntryPrice <= 0 || pos.ExitPrice <= 0 {
			continue
		}
		snaps, err := e.snapshots.FindByPosition(ctx, pos.ID)
		if err != nil {
			e.logger.Error(ctx, err, "Loading snapshots for recompute failed", map[string]interface{}{"positionID": pos.ID})
			continue
		}
		ts := buildSeries(pos, snaps, e.loc)
		if ts != nil {
			series = append(series, ts)
		}
	}

	groups := map[groupKey][]*tradeSeries{}
	for _, ts := range series {
		keys := []groupKey{
			{ts.category, ts.capBucket, ts.todBucket},
			{ts.category, ts.capBucket, domain.TODAll},
			{ts.category, domain.CapAll, domain.TODAll},
			{domain.CatalystAll, domain.CapAll, domain.TODAll},
		}
		for _, key := range keys {
			groups[key] = append(groups[key], ts)
		}
	}

	fresh := map[groupKey]*domain.StrategyRecommendation{}
	for key, members := range groups {
		if len(members) < minGroupSamples {
			continue
		}
		rec := computeGroup(key, members)
		if rec == nil {
			continue
		}
		fresh[key] = rec
		if err := e.store.UpsertRecommendation(ctx, rec); err != nil {
			e.logger.Error(ctx, err, "Persisting strategy recommendation failed", map[string]interface{}{
				"category": key.Category, "cap": key.CapBucket, "tod": key.TODBucket,
			})
		}
	}

	e.mu.Lock()
	e.cache = fresh
	e.mu.Unlock()

	e.logger.Info(ctx, "Strategy recompute finished", map[string]interface{}{
		"trades": len(series), "groups": len(fresh), "elapsed": time.Since(start).String(),
	})
	return nil
}

func bucketOffset(offsetSeconds int) int {
	if offsetSeconds <= 0 {
		return 0
	}
	b := ((offsetSeconds + offsetBucketSeconds/2) / offsetBucketSeconds) * offsetBucketSeconds
	if b < offsetBucketSeconds {
		b = offsetBucketSeconds
	}
	if b > maxOffsetSeconds {
		b = maxOffsetSeconds
	}
	return b
}

func buildSeries(pos *domain.Position, snaps []*domain.PriceSnapshot, loc *time.Location) *tradeSeries {
	ts := &tradeSeries{
		category:    pos.Catalyst,
		capBucket:   domain.BucketMarketCap(pos.MarketCap),
		todBucket:   domain.BucketTimeOfDay(pos.EntryTime.In(loc)),
		returns:     map[int]float64{},
		prices:      map[int]float64{},
		finalReturn: pos.Return(),
	}
	for _, snap := range snaps {
		if snap.Price <= 0 {
			continue
		}
		bucket := bucketOffset(snap.OffsetSeconds)
		if bucket == 0 {
			continue
		}
		ts.prices[bucket] = snap.Price
		ts.returns[bucket] = (snap.Price - pos.EntryPrice) / pos.EntryPrice
	}
	if len(ts.returns) == 0 {
		return nil
	}
	for bucket := range ts.returns {
		ts.offsets = append(ts.offsets, bucket)
	}
	sort.Ints(ts.offsets)
	return ts
}

// returnAt reports the trade's return at the given offset bucket, falling
// back to the last observed bucket at or before it.
func (ts *tradeSeries) returnAt(offset int) (float64, bool) {
	if r, ok := ts.returns[offset]; ok {
		return r, true
	}
	best := -1
	for _, o := range ts.offsets {
		if o > offset {
			break
		}
		best = o
	}
	if best < 0 {
		return 0, false
	}
	return ts.returns[best], true
}

// maxDrawdownUpTo is the largest fractional decline from the running peak
// price through the given offset.
func (ts *tradeSeries) maxDrawdownUpTo(offset int) float64 {
	peak, drawdown := 0.0, 0.0
	for _, o := range ts.offsets {
		if o > offset {
			break
		}
		price := ts.prices[o]
		if price > peak {
			peak = price
		}
		if peak > 0 {
			if dd := (peak - price) / peak; dd > drawdown {
				drawdown = dd
			}
		}
	}
	return drawdown
}

// declineAfter is the largest fractional decline after the given offset,
// measured from the running peak through that offset. Returns ok=false when
// the trade has no data past the offset.
func (ts *tradeSeries) declineAfter(offset int) (float64, bool) {
	peak := 0.0
	for _, o := range ts.offsets {
		if o > offset {
			break
		}
		if p := ts.prices[o]; p > peak {
			peak = p
		}
	}
	if peak <= 0 {
		return 0, false
	}
	decline, seen := 0.0, false
	for _, o := range ts.offsets {
		if o <= offset {
			continue
		}
		seen = true
		if d := (peak - ts.prices[o]) / peak; d > decline {
			decline = d
		}
	}
	if !seen {
		return 0, false
	}
	return decline, true
}

func computeGroup(key groupKey, members []*tradeSeries) *domain.StrategyRecommendation {
	curve := medianCurve(members)
	if len(curve.offsets) == 0 {
		return nil
	}

	// Both phases hold until the offset with the best median return; they
	// differ in how the trailing stop is derived.
	bestOffset := curve.peakOffset()

	var trailing float64
	if len(members) < phase2Samples {
		var drawdowns []float64
		for _, ts := range members {
			drawdowns = append(drawdowns, ts.maxDrawdownUpTo(bestOffset))
		}
		trailing = 1.5 * median(drawdowns)
		if trailing < phase1TrailingFloor {
			trailing = phase1TrailingFloor
		}
	} else {
		var declines []float64
		for _, ts := range members {
			if d, ok := ts.declineAfter(bestOffset); ok {
				declines = append(declines, d)
			}
		}
		trailing = quantile(declines, 0.75)
		if trailing < phase2TrailingFloor {
			trailing = phase2TrailingFloor
		}
	}

	wins := 0
	var returnsAtBest []float64
	for _, ts := range members {
		r, ok := ts.returnAt(bestOffset)
		if !ok {
			continue
		}
		returnsAtBest = append(returnsAtBest, r)
		if r > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(returnsAtBest) > 0 {
		winRate = float64(wins) / float64(len(returnsAtBest))
	}

	n := float64(len(members))
	return &domain.StrategyRecommendation{
		Category:        key.Category,
		CapBucket:       key.CapBucket,
		TODBucket:       key.TODBucket,
		HoldSeconds:     bestOffset,
		TrailingStopPct: trailing,
		Confidence:      1 - 1/(1+n/10),
		SampleSize:      len(members),
		WinRate:         winRate,
		MedianReturn:    median(returnsAtBest),
		UpdatedAt:       time.Now(),
	}
}

// returnCurve is the group's median return per offset bucket.
type returnCurve struct {
	offsets []int
	medians map[int]float64
}

func medianCurve(members []*tradeSeries) returnCurve {
	perOffset := map[int][]float64{}
	for _, ts := range members {
		for offset, r := range ts.returns {
			perOffset[offset] = append(perOffset[offset], r)
		}
	}
	curve := returnCurve{medians: map[int]float64{}}
	for offset, returns := range perOffset {
		curve.offsets = append(curve.offsets, offset)
		curve.medians[offset] = median(returns)
	}
	sort.Ints(curve.offsets)
	return curve
}

// peakOffset is the offset with the highest median return. Ties go to the
// earlier offset; a curve still rising at its end naturally recommends the
// last observed offset.
func (c returnCurve) peakOffset() int {
	best, bestMedian := 0, 0.0
	for i, offset := range c.offsets {
		m := c.medians[offset]
		if i == 0 || m > bestMedian {
			best, bestMedian = offset, m
		}
	}
	return best
}

func median(values []float64) float64 {
	return quantile(values, 0.5)
}

func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}
