package marketfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"catalystbot/internal/ports"
)

// Client implements the ports.MarketData interface against a snapshot REST
// endpoint. One batched request per call, whatever the symbol count.
type Client struct {
	httpClient *http.Client
	logger     ports.Logger
	baseURL    string
	apiKey     string
}

// Config holds configuration for the market data client.
type Config struct {
	BaseURL string
	APIKey  string
	Logger  ports.Logger
}

// New creates a new market data client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for market data client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for market data client: %w", ports.ErrConfigurationError)
	}
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     cfg.Logger,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

// wireSnapshot mirrors the provider's per-symbol snapshot payload.
type wireSnapshot struct {
	LatestTrade struct {
		Price     float64   `json:"p"`
		Timestamp time.Time `json:"t"`
	} `json:"latestTrade"`
	DailyBar struct {
		Volume float64 `json:"v"`
	} `json:"dailyBar"`
	AvgVolume   float64 `json:"avgVolume"`
	MarketCap   float64 `json:"marketCap"`
	FloatShares float64 `json:"floatShares"`
}

// GetSnapshots retrieves current snapshots for the given symbols in one
// batched request.
func (c *Client) GetSnapshots(ctx context.Context, symbols []string) (map[string]*ports.Snapshot, error) {
	op := "GetSnapshots"
	if len(symbols) == 0 {
		return map[string]*ports.Snapshot{}, nil
	}

	endpoint := fmt.Sprintf("%s/v2/stocks/snapshots?symbols=%s",
		c.baseURL, url.QueryEscape(strings.Join(symbols, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s: status %d: %s: %w", op, resp.StatusCode, string(msg), ports.ErrSnapshotUnavailable)
		c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbols": symbols})
		return nil, err
	}

	var wire map[string]*wireSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}

	snapshots := make(map[string]*ports.Snapshot, len(wire))
	for symbol, ws := range wire {
		if ws == nil || ws.LatestTrade.Price <= 0 {
			continue
		}
		relVolume := 0.0
		if ws.AvgVolume > 0 {
			relVolume = ws.DailyBar.Volume / ws.AvgVolume
		}
		snapshots[symbol] = &ports.Snapshot{
			Symbol:         symbol,
			Price:          ws.LatestTrade.Price,
			RelativeVolume: relVolume,
			DayVolume:      ws.DailyBar.Volume,
			MarketCap:      ws.MarketCap,
			FloatShares:    ws.FloatShares,
			Timestamp:      ws.LatestTrade.Timestamp,
		}
	}
	return snapshots, nil
}
