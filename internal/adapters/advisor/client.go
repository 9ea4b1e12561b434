package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"catalystbot/internal/domain"
	"catalystbot/internal/ports"
)

// Client implements ports.Advisor against an HTTP judgment endpoint. The
// advisory is optional infrastructure: a missing key or URL produces a client
// that reports unavailability, which the pipeline treats as a skip for the
// tiers that need it.
type Client struct {
	httpClient *http.Client
	logger     ports.Logger
	baseURL    string
	apiKey     string
	timeout    time.Duration
}

// Config holds configuration for the advisory client.
type Config struct {
	BaseURL string
	APIKey  string
	Logger  ports.Logger
	// Timeout bounds each Review call. Defaults to 2500ms; a slow answer
	// is worthless because the entry window is gone.
	Timeout time.Duration
}

// New creates an advisory client. BaseURL and APIKey may be empty; the
// client is then permanently unavailable rather than an error.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for advisor client")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    timeout,
	}, nil
}

// Available reports whether the advisory is configured at all.
func (c *Client) Available() bool {
	return c.baseURL != "" && c.apiKey != ""
}

type wireReviewRequest struct {
	Symbol         string  `json:"symbol"`
	Headline       string  `json:"headline"`
	Body           string  `json:"body,omitempty"`
	Category       string  `json:"category"`
	Price          float64 `json:"price"`
	RelativeVolume float64 `json:"relative_volume"`
}

type wireReviewResponse struct {
	Proceed    bool   `json:"proceed"`
	Confidence string `json:"confidence"`
	Rationale  string `json:"rationale"`
}

// Review asks the advisory for a verdict on a borderline catalyst. The call
// is bounded by the configured timeout; callers distinguish a decline (nil
// error, Proceed false) from unavailability (ErrAdvisorUnavailable or
// ErrTimeout).
func (c *Client) Review(ctx context.Context, req *ports.AdvisorRequest) (*ports.AdvisorResponse, error) {
	op := "AdvisorReview"
	if !c.Available() {
		return nil, fmt.Errorf("%s: %w", op, ports.ErrAdvisorUnavailable)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(wireReviewRequest{
		Symbol:         req.Symbol,
		Headline:       req.Headline,
		Body:           req.Body,
		Category:       string(req.Category),
		Price:          req.Price,
		RelativeVolume: req.RelativeVolume,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/v1/review", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrAdvisorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s: status %d: %s: %w", op, resp.StatusCode, string(msg), ports.ErrAdvisorUnavailable)
		c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbol": req.Symbol})
		return nil, err
	}

	var wire wireReviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w: %w", op, ports.ErrAdvisorUnavailable, err)
	}

	confidence := domain.AdvisorConfidence(wire.Confidence)
	switch confidence {
	case domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow:
	default:
		confidence = ""
	}

	return &ports.AdvisorResponse{
		Proceed:    wire.Proceed,
		Confidence: confidence,
		Rationale:  wire.Rationale,
	}, nil
}
