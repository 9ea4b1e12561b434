// Package signals is the gauntlet: the ordered gate sequence that turns a
// raw news article into a fire or reject decision with a full audit trail.
// Gate order is load-bearing; silent skips write no record by design.
package signals

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"catalystbot/internal/classifier"
	"catalystbot/internal/domain"
	"catalystbot/internal/events"
	"catalystbot/internal/metrics"
	"catalystbot/internal/ports"
)

const (
	reconnectCooldown = 30 * time.Second
	staleAfter        = 90 * time.Second
	dedupeWindow      = 5 * time.Minute
)

// stateSource exposes the bot's run state and configuration.
type stateSource interface {
	State() domain.BotState
	Mode() domain.TradeMode
	Config() *domain.BotConfig
}

// sessionClock answers market-session questions.
type sessionClock interface {
	IsOpen() bool
	InOpeningAuction() bool
	Now() time.Time
}

// strategySource is the win-rate gate's view of the strategy engine.
type strategySource interface {
	Lookup(category domain.CatalystCategory, marketCap float64, asOf time.Time) *domain.StrategyRecommendation
}

// dispatcher receives fired signals. Execution is fire-and-forget.
type dispatcher interface {
	Execute(ctx context.Context, signal *domain.TradeSignal)
}

// capacitySource is the monitor surface the capacity gates read.
type capacitySource interface {
	OpenCount() int
	Holding(symbol string) bool
}

type dedupeEntry struct {
	recordID int64
	seenAt   time.Time
}

// Evaluator runs the gauntlet. Safe for concurrent article handlers.
type Evaluator struct {
	logger     ports.Logger
	bot        stateSource
	clock      sessionClock
	strategy   strategySource
	marketData ports.MarketData
	advisor    ports.Advisor
	capacity   capacitySource
	dispatch   dispatcher
	signalLog  ports.SignalLogRepository
	hub        *events.Hub

	mu         sync.Mutex
	dedupe     map[string]dedupeEntry
	reconnects map[string]time.Time

	// completions reports finished dispatches so tests can await the
	// fire-and-forget path. Sends never block.
	completions chan string
}

// Config holds the evaluator's dependencies.
type Config struct {
	Logger       ports.Logger
	Bot          stateSource
	Clock        sessionClock
	Strategy     strategySource
	MarketData   ports.MarketData
	Advisor      ports.Advisor
	Capacity     capacitySource
	Dispatch     dispatcher
	SignalLog    ports.SignalLogRepository
	Hub          *events.Hub
}

// New creates the evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{
		logger:      cfg.Logger,
		bot:         cfg.Bot,
		clock:       cfg.Clock,
		strategy:    cfg.Strategy,
		marketData:  cfg.MarketData,
		advisor:     cfg.Advisor,
		capacity:    cfg.Capacity,
		dispatch:    cfg.Dispatch,
		signalLog:   cfg.SignalLog,
		hub:         cfg.Hub,
		dedupe:      map[string]dedupeEntry{},
		reconnects:  map[string]time.Time{},
		completions: make(chan string, 64),
	}
}

// Completions reports signal IDs whose dispatch has finished.
func (e *Evaluator) Completions() <-chan string {
	return e.completions
}

// NoteReconnect records a stream reconnect for the source so the gauntlet
// can reject the replay burst that follows.
func (e *Evaluator) NoteReconnect(source string) {
	e.mu.Lock()
	e.reconnects[source] = time.Now()
	e.mu.Unlock()
	metrics.StreamReconnects.WithLabelValues(source).Inc()
}

// Evaluate runs one article through the gauntlet. It never panics out and
// never returns an error: this sits on the hot path of every incoming news
// event and a bad article must not stall ingestion.
func (e *Evaluator) Evaluate(ctx context.Context, article *domain.NewsArticle) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, nil, "Signal evaluation panicked", map[string]interface{}{"panic": r})
		}
	}()

	symbol := article.PrimarySymbol()
	if symbol == "" || article.Headline == "" {
		return
	}

	// Gate 1: bot running and market open. Expected-frequent, silent.
	if e.bot.State() != domain.StateRunning || !e.clock.IsOpen() {
		return
	}

	cfg := e.bot.Config()
	now := time.Now()

	// Gate 2: reconnect cooldown guards against replay storms.
	if e.inReconnectCooldown(article.Source, now) {
		e.reject(ctx, article, symbol, nil, domain.RejectReconnectCooldown, "", nil)
		return
	}

	// Gate 3: staleness. Momentum on a 90-second-old headline is gone.
	if !article.PublishedAt.IsZero() && now.Sub(article.PublishedAt) > staleAfter {
		e.reject(ctx, article, symbol, nil, domain.RejectStale, "", nil)
		return
	}

	// Gate 4: duplicate suppression. Silent, but the duplicate's source is
	// appended to the original audit record.
	if original, dup := e.checkDuplicate(symbol, article.Headline, now); dup {
		if original > 0 {
			if err := e.signalLog.AppendSource(ctx, original, article.Source); err != nil {
				e.logger.Error(ctx, err, "Appending duplicate source failed", map[string]interface{}{"recordID": original})
			}
		}
		return
	}

	// Gate 5: classification.
	verdict := classifier.Classify(article.Headline, article.Body)
	if verdict.Category == domain.CatalystDanger {
		e.reject(ctx, article, symbol, &verdict, domain.RejectDangerPattern, "", nil)
		return
	}
	if verdict.Tier == domain.TierDisabled {
		e.reject(ctx, article, symbol, &verdict, domain.RejectTierDisabled, "uncategorized", nil)
		return
	}

	// Gate 6: tier must be enabled.
	if !cfg.TierEnabled(verdict.Tier) {
		e.reject(ctx, article, symbol, &verdict, domain.RejectTierDisabled, "", nil)
		return
	}

	// Gate 7: opening-auction blackout.
	if e.clock.InOpeningAuction() {
		e.reject(ctx, article, symbol, &verdict, domain.RejectOpeningAuction, "", nil)
		return
	}

	// Gate 8: historical win-rate gate. Market cap is unknown before the
	// snapshot fetch, so the lookup lands on the category-wide bucket. No
	// data at all means benefit of the doubt.
	rec := e.strategy.Lookup(verdict.Category, 0, e.clock.Now())
	winRate := -1.0
	if rec != nil && rec.SampleSize >= 1 {
		winRate = rec.WinRate
		if rec.WinRate < cfg.MinWinRate {
			e.reject(ctx, article, symbol, &verdict, domain.RejectBelowWinRate, "", &winRate)
			return
		}
	}

	// Gate 9: the pillars. Live snapshot with a price ceiling and a
	// relative-volume floor.
	snaps, err := e.marketData.GetSnapshots(ctx, []string{symbol})
	if err != nil {
		e.logger.Error(ctx, err, "Pillar snapshot fetch failed", map[string]interface{}{"symbol": symbol})
		e.reject(ctx, article, symbol, &verdict, domain.RejectFailedPillars, "snapshot", &winRate)
		return
	}
	snap, ok := snaps[symbol]
	if !ok || snap.Price <= 0 {
		e.reject(ctx, article, symbol, &verdict, domain.RejectFailedPillars, "snapshot", &winRate)
		return
	}
	if snap.Price > cfg.MaxSharePrice {
		e.rejectWithSnap(ctx, article, symbol, &verdict, domain.RejectFailedPillars, "price", winRate, snap, "")
		return
	}
	if snap.RelativeVolume < cfg.MinRelativeVolume {
		e.rejectWithSnap(ctx, article, symbol, &verdict, domain.RejectFailedPillars, "relative_volume", winRate, snap, "")
		return
	}

	// Gate 10: capacity.
	if e.capacity.OpenCount() >= cfg.MaxConcurrentPositions {
		e.rejectWithSnap(ctx, article, symbol, &verdict, domain.RejectMaxPositions, "", winRate, snap, "")
		return
	}
	if e.capacity.Holding(symbol) {
		e.rejectWithSnap(ctx, article, symbol, &verdict, domain.RejectAlreadyHolding, "", winRate, snap, "")
		return
	}

	// Gate 11: tiers 1-2 fire at top confidence; tiers 3-4 need the
	// advisory's blessing.
	confidence := domain.ConfidenceHigh
	if verdict.Tier >= 3 {
		resp, err := e.advisor.Review(ctx, &ports.AdvisorRequest{
			Symbol:         symbol,
			Headline:       article.Headline,
			Body:           article.Body,
			Category:       verdict.Category,
			Price:          snap.Price,
			RelativeVolume: snap.RelativeVolume,
		})
		if err != nil {
			reason := domain.RejectAIUnavailable
			if errors.Is(err, ports.ErrTimeout) {
				reason = domain.RejectAITimeout
			}
			e.logger.Warn(ctx, "Advisory unavailable for borderline tier", map[string]interface{}{
				"symbol": symbol, "error": err.Error(),
			})
			e.rejectWithSnap(ctx, article, symbol, &verdict, reason, "", winRate, snap, "")
			return
		}
		if !resp.Proceed {
			e.rejectWithSnap(ctx, article, symbol, &verdict, domain.RejectAIDeclined, resp.Rationale, winRate, snap, resp.Confidence)
			return
		}
		confidence = resp.Confidence
	}

	e.fire(ctx, article, symbol, verdict, winRate, snap, confidence)
}

func (e *Evaluator) fire(ctx context.Context, article *domain.NewsArticle, symbol string, verdict classifier.Result, winRate float64, snap *ports.Snapshot, confidence domain.AdvisorConfidence) {
	signal := &domain.TradeSignal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Headline:   article.Headline,
		Source:     article.Source,
		Category:   verdict.Category,
		Tier:       verdict.Tier,
		Confidence: confidence,
		Price:      snap.Price,
		RelVolume:  snap.RelativeVolume,
		MarketCap:  snap.MarketCap,
		Mode:       e.bot.Mode(),
		CreatedAt:  time.Now(),
	}

	recordID, err := e.signalLog.CreateRecord(ctx, &domain.SignalLogRecord{
		SignalID:   signal.ID,
		Symbol:     symbol,
		Headline:   article.Headline,
		Sources:    article.Source,
		Outcome:    domain.OutcomeFired,
		Category:   verdict.Category,
		Tier:       verdict.Tier,
		Price:      snap.Price,
		RelVolume:  snap.RelativeVolume,
		WinRate:    winRate,
		Confidence: confidence,
		CreatedAt:  signal.CreatedAt,
	})
	if err != nil {
		e.logger.Error(ctx, err, "Writing fired audit record failed", map[string]interface{}{"symbol": symbol})
	} else {
		e.remember(symbol, article.Headline, recordID, signal.CreatedAt)
	}

	metrics.SignalsEvaluated.WithLabelValues(string(domain.OutcomeFired)).Inc()
	e.logger.Info(ctx, "Signal fired", map[string]interface{}{
		"symbol": symbol, "category": verdict.Category, "tier": verdict.Tier,
		"price": snap.Price, "relVolume": snap.RelativeVolume,
	})
	e.hub.Publish(events.StatusEvent{
		Type:   events.EventSignalFired,
		Symbol: symbol,
		Detail: map[string]interface{}{"category": string(verdict.Category), "tier": verdict.Tier},
	})

	// Fire-and-forget: the gauntlet never waits on order placement.
	go func() {
		dispatchCtx := context.WithoutCancel(ctx)
		e.dispatch.Execute(dispatchCtx, signal)
		select {
		case e.completions <- signal.ID:
		default:
		}
	}()
}

func (e *Evaluator) reject(ctx context.Context, article *domain.NewsArticle, symbol string, verdict *classifier.Result, reason domain.RejectReason, detail string, winRate *float64) {
	wr := -1.0
	if winRate != nil {
		wr = *winRate
	}
	e.rejectWithSnap(ctx, article, symbol, verdict, reason, detail, wr, nil, "")
}

func (e *Evaluator) rejectWithSnap(ctx context.Context, article *domain.NewsArticle, symbol string, verdict *classifier.Result, reason domain.RejectReason, detail string, winRate float64, snap *ports.Snapshot, confidence domain.AdvisorConfidence) {
	rec := &domain.SignalLogRecord{
		SignalID:   uuid.NewString(),
		Symbol:     symbol,
		Headline:   article.Headline,
		Sources:    article.Source,
		Outcome:    domain.OutcomeRejected,
		Reason:     reason,
		Detail:     detail,
		WinRate:    winRate,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
	if verdict != nil {
		rec.Category = verdict.Category
		rec.Tier = verdict.Tier
	}
	if snap != nil {
		rec.Price = snap.Price
		rec.RelVolume = snap.RelativeVolume
	}

	recordID, err := e.signalLog.CreateRecord(ctx, rec)
	if err != nil {
		e.logger.Error(ctx, err, "Writing rejection audit record failed", map[string]interface{}{
			"symbol": symbol, "reason": reason,
		})
	} else {
		e.remember(symbol, article.Headline, recordID, rec.CreatedAt)
	}

	metrics.SignalsEvaluated.WithLabelValues(string(domain.OutcomeRejected)).Inc()
	metrics.SignalRejections.WithLabelValues(string(reason)).Inc()
	e.logger.Debug(ctx, "Signal rejected", map[string]interface{}{
		"symbol": symbol, "reason": reason, "detail": detail,
	})
	e.hub.Publish(events.StatusEvent{
		Type:   events.EventSignalRejected,
		Symbol: symbol,
		Detail: map[string]interface{}{"reason": string(reason)},
	})
}

func (e *Evaluator) inReconnectCooldown(source string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.reconnects[source]
	return ok && now.Sub(last) < reconnectCooldown
}

// checkDuplicate reports whether the (symbol, normalized title) pair was
// recorded within the dedupe window, returning the original record's ID.
func (e *Evaluator) checkDuplicate(symbol, headline string, now time.Time) (int64, bool) {
	key := dedupeKey(symbol, headline)
	e.mu.Lock()
	defer e.mu.Unlock()

	for k, entry := range e.dedupe {
		if now.Sub(entry.seenAt) > dedupeWindow {
			delete(e.dedupe, k)
		}
	}

	entry, ok := e.dedupe[key]
	if !ok {
		return 0, false
	}
	return entry.recordID, true
}

func (e *Evaluator) remember(symbol, headline string, recordID int64, at time.Time) {
	e.mu.Lock()
	e.dedupe[dedupeKey(symbol, headline)] = dedupeEntry{recordID: recordID, seenAt: at}
	e.mu.Unlock()
}

func dedupeKey(symbol, headline string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(headline)), " ")
	return symbol + "|" + normalized
}
