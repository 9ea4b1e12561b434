// Package server exposes the read and command HTTP API consumed by the
// dashboard, plus the SSE event feed and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalystbot/internal/bot"
	"catalystbot/internal/domain"
	"catalystbot/internal/events"
	"catalystbot/internal/ports"
)

// strategyEngine is the server's view of the strategy engine.
type strategyEngine interface {
	Recommendations() []*domain.StrategyRecommendation
	Recompute(ctx context.Context) error
}

// positionSource is the monitor surface the read endpoints use.
type positionSource interface {
	OpenPositions() []*domain.Position
}

// Server carries the HTTP handler dependencies.
type Server struct {
	logger    ports.Logger
	machine   *bot.Machine
	monitor   positionSource
	strategy  strategyEngine
	positions ports.PositionRepository
	signalLog ports.SignalLogRepository
	hub       *events.Hub
}

// Config holds the server's dependencies.
type Config struct {
	Logger    ports.Logger
	Machine   *bot.Machine
	Monitor   positionSource
	Strategy  strategyEngine
	Positions ports.PositionRepository
	SignalLog ports.SignalLogRepository
	Hub       *events.Hub
}

// New creates the server.
func New(cfg Config) *Server {
	return &Server{
		logger:    cfg.Logger,
		machine:   cfg.Machine,
		monitor:   cfg.Monitor,
		strategy:  cfg.Strategy,
		positions: cfg.Positions,
		signalLog: cfg.SignalLog,
		hub:       cfg.Hub,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/trades", s.handleTrades)
		r.Get("/signals", s.handleSignals)
		r.Get("/config", s.handleGetConfig)
		r.Patch("/config", s.handlePatchConfig)

		r.Post("/bot/start", s.command(s.machine.Start))
		r.Post("/bot/pause", s.command(s.machine.Pause))
		r.Post("/bot/resume", s.command(s.machine.Resume))
		r.Post("/bot/stop", s.command(s.machine.Stop))
		r.Post("/bot/mode", s.handleSwitchMode)

		r.Get("/strategy", s.handleStrategy)
		r.Post("/strategy/recompute", s.handleRecompute)
		r.Get("/readiness", s.handleReadiness)
		r.Get("/events", s.handleEvents)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrInvalidTransition), errors.Is(err, ports.ErrPositionsOpen):
		status = http.StatusConflict
	case errors.Is(err, ports.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", map[string]interface{}{"path": r.URL.Path})
	}
	s.respond(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) command(fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"state": string(s.machine.State())})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.machine.Status(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, status)
}

// positionJSON is the wire shape of a position row.
type positionJSON struct {
	ID          int64   `json:"id"`
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	Mode        string  `json:"mode"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price,omitempty"`
	Shares      float64 `json:"shares"`
	NotionalUSD float64 `json:"notional_usd"`
	Catalyst    string  `json:"catalyst"`
	Tier        int     `json:"tier"`
	StarRating  int     `json:"star_rating"`
	ExitReason  string  `json:"exit_reason,omitempty"`
	EntryTime   string  `json:"entry_time"`
	ExitTime    string  `json:"exit_time,omitempty"`
	PNL         float64 `json:"pnl"`
}

func toPositionJSON(pos *domain.Position) positionJSON {
	out := positionJSON{
		ID:          pos.ID,
		Symbol:      pos.Symbol,
		Status:      string(pos.Status),
		Mode:        string(pos.Mode),
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   pos.ExitPrice,
		Shares:      pos.Shares,
		NotionalUSD: pos.NotionalUSD,
		Catalyst:    string(pos.Catalyst),
		Tier:        pos.Tier,
		StarRating:  pos.StarRating,
		ExitReason:  string(pos.ExitReason),
		EntryTime:   pos.EntryTime.Format(time.RFC3339),
		PNL:         pos.PNL,
	}
	if !pos.ExitTime.IsZero() {
		out.ExitTime = pos.ExitTime.Format(time.RFC3339)
	}
	return out
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	open := s.monitor.OpenPositions()
	out := make([]positionJSON, 0, len(open))
	for _, pos := range open {
		out = append(out, toPositionJSON(pos))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	trades, err := s.positions.FindRecent(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]positionJSON, 0, len(trades))
	for _, pos := range trades {
		out = append(out, toPositionJSON(pos))
	}
	s.respond(w, http.StatusOK, out)
}

type signalJSON struct {
	ID         int64   `json:"id"`
	SignalID   string  `json:"signal_id"`
	Symbol     string  `json:"symbol"`
	Headline   string  `json:"headline"`
	Sources    string  `json:"sources"`
	Outcome    string  `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
	Detail     string  `json:"detail,omitempty"`
	Category   string  `json:"category,omitempty"`
	Tier       int     `json:"tier,omitempty"`
	Price      float64 `json:"price,omitempty"`
	RelVolume  float64 `json:"rel_volume,omitempty"`
	WinRate    float64 `json:"win_rate"`
	Confidence string  `json:"confidence,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	records, err := s.signalLog.FindRecentRecords(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]signalJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, signalJSON{
			ID:         rec.ID,
			SignalID:   rec.SignalID,
			Symbol:     rec.Symbol,
			Headline:   rec.Headline,
			Sources:    rec.Sources,
			Outcome:    string(rec.Outcome),
			Reason:     string(rec.Reason),
			Detail:     rec.Detail,
			Category:   string(rec.Category),
			Tier:       rec.Tier,
			Price:      rec.Price,
			RelVolume:  rec.RelVolume,
			WinRate:    rec.WinRate,
			Confidence: string(rec.Confidence),
			CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		})
	}
	s.respond(w, http.StatusOK, out)
}

type configJSON struct {
	Mode                   string          `json:"mode"`
	State                  string          `json:"state"`
	EnabledTiers           []int           `json:"enabled_tiers"`
	PositionSizing         map[int]float64 `json:"position_sizing"`
	MaxConcurrentPositions int             `json:"max_concurrent_positions"`
	DailyLossLimitUSD      float64         `json:"daily_loss_limit_usd"`
	MaxFloatShares         float64         `json:"max_float_shares"`
	MaxSharePrice          float64         `json:"max_share_price"`
	MinRelativeVolume      float64         `json:"min_relative_volume"`
	HardStopPct            float64         `json:"hard_stop_pct"`
	ProfitTargetPct        float64         `json:"profit_target_pct"`
	TrailingStopPct        float64         `json:"trailing_stop_pct"`
	TrailingStopUSD        float64         `json:"trailing_stop_usd"`
	MaxHoldSeconds         int             `json:"max_hold_seconds"`
	MinWinRate             float64         `json:"min_win_rate"`
}

func toConfigJSON(cfg *domain.BotConfig) configJSON {
	return configJSON{
		Mode:                   string(cfg.Mode),
		State:                  string(cfg.State),
		EnabledTiers:           cfg.EnabledTiers,
		PositionSizing:         cfg.PositionSizing,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		DailyLossLimitUSD:      cfg.DailyLossLimitUSD,
		MaxFloatShares:         cfg.MaxFloatShares,
		MaxSharePrice:          cfg.MaxSharePrice,
		MinRelativeVolume:      cfg.MinRelativeVolume,
		HardStopPct:            cfg.HardStopPct,
		ProfitTargetPct:        cfg.ProfitTargetPct,
		TrailingStopPct:        cfg.TrailingStopPct,
		TrailingStopUSD:        cfg.TrailingStopUSD,
		MaxHoldSeconds:         cfg.MaxHoldSeconds,
		MinWinRate:             cfg.MinWinRate,
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, toConfigJSON(s.machine.Config()))
}

// configPatchJSON mirrors domain.BotConfigPatch on the wire.
type configPatchJSON struct {
	EnabledTiers           *[]int           `json:"enabled_tiers"`
	PositionSizing         *map[int]float64 `json:"position_sizing"`
	MaxConcurrentPositions *int             `json:"max_concurrent_positions"`
	DailyLossLimitUSD      *float64         `json:"daily_loss_limit_usd"`
	MaxFloatShares         *float64         `json:"max_float_shares"`
	MaxSharePrice          *float64         `json:"max_share_price"`
	MinRelativeVolume      *float64         `json:"min_relative_volume"`
	HardStopPct            *float64         `json:"hard_stop_pct"`
	ProfitTargetPct        *float64         `json:"profit_target_pct"`
	TrailingStopPct        *float64         `json:"trailing_stop_pct"`
	TrailingStopUSD        *float64         `json:"trailing_stop_usd"`
	MaxHoldSeconds         *int             `json:"max_hold_seconds"`
	MinWinRate             *float64         `json:"min_win_rate"`
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var body configPatchJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err))
		return
	}
	patch := &domain.BotConfigPatch{
		EnabledTiers:           body.EnabledTiers,
		PositionSizing:         body.PositionSizing,
		MaxConcurrentPositions: body.MaxConcurrentPositions,
		DailyLossLimitUSD:      body.DailyLossLimitUSD,
		MaxFloatShares:         body.MaxFloatShares,
		MaxSharePrice:          body.MaxSharePrice,
		MinRelativeVolume:      body.MinRelativeVolume,
		HardStopPct:            body.HardStopPct,
		ProfitTargetPct:        body.ProfitTargetPct,
		TrailingStopPct:        body.TrailingStopPct,
		TrailingStopUSD:        body.TrailingStopUSD,
		MaxHoldSeconds:         body.MaxHoldSeconds,
		MinWinRate:             body.MinWinRate,
	}
	updated, err := s.machine.UpdateConfig(r.Context(), patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, toConfigJSON(updated))
}

func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err))
		return
	}
	if err := s.machine.SwitchMode(r.Context(), domain.TradeMode(body.Mode)); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"mode": body.Mode})
}

type recommendationJSON struct {
	Category        string  `json:"category"`
	CapBucket       string  `json:"cap_bucket"`
	TODBucket       string  `json:"tod_bucket"`
	HoldSeconds     int     `json:"hold_seconds"`
	TrailingStopPct float64 `json:"trailing_stop_pct"`
	Confidence      float64 `json:"confidence"`
	SampleSize      int     `json:"sample_size"`
	WinRate         float64 `json:"win_rate"`
	MedianReturn    float64 `json:"median_return"`
	UpdatedAt       string  `json:"updated_at"`
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	recs := s.strategy.Recommendations()
	out := make([]recommendationJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recommendationJSON{
			Category:        string(rec.Category),
			CapBucket:       string(rec.CapBucket),
			TODBucket:       string(rec.TODBucket),
			HoldSeconds:     rec.HoldSeconds,
			TrailingStopPct: rec.TrailingStopPct,
			Confidence:      rec.Confidence,
			SampleSize:      rec.SampleSize,
			WinRate:         rec.WinRate,
			MedianReturn:    rec.MedianReturn,
			UpdatedAt:       rec.UpdatedAt.Format(time.RFC3339),
		})
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if err := s.strategy.Recompute(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "recomputed"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report, err := s.machine.Readiness(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}

// handleEvents streams status events over SSE until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: streaming unsupported", ports.ErrInvalidRequest))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}
