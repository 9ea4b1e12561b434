package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"catalystbot/internal/domain"
	"catalystbot/internal/ports"
)

// Client implements the ports.Broker interface against the Alpaca trading
// API. Paper and live accounts live on different hosts; SetMode switches the
// base URL for subsequent calls.
type Client struct {
	httpClient     *http.Client
	logger         ports.Logger
	keyID          string
	secretKey      string
	paperURL       string
	liveURL        string
	reconnectDelay time.Duration

	mu   sync.RWMutex
	mode domain.TradeMode
}

// Config holds configuration specific to the Alpaca client adapter.
type Config struct {
	KeyID          string
	SecretKey      string
	PaperURL       string
	LiveURL        string
	Mode           domain.TradeMode
	Logger         ports.Logger
	ReconnectDelay time.Duration
}

// New creates a new Alpaca client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Alpaca client")
	}
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("API credentials are required for Alpaca client: %w", ports.ErrConfigurationError)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = domain.ModePaper
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		logger:         cfg.Logger,
		keyID:          cfg.KeyID,
		secretKey:      cfg.SecretKey,
		paperURL:       strings.TrimRight(cfg.PaperURL, "/"),
		liveURL:        strings.TrimRight(cfg.LiveURL, "/"),
		reconnectDelay: reconnectDelay,
		mode:           mode,
	}, nil
}

// SetMode points subsequent calls at the paper or live endpoint.
func (c *Client) SetMode(mode domain.TradeMode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	c.logger.Info(context.Background(), "Broker endpoint switched", map[string]interface{}{"mode": mode})
}

func (c *Client) baseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mode == domain.ModeLive {
		return c.liveURL
	}
	return c.paperURL
}

// handleError translates transport and API failures into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *apiError
	var mappedErr error
	switch {
	case errors.As(err, &apiErr):
		fields["statusCode"] = apiErr.StatusCode
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			mappedErr = ports.ErrAuthenticationFailed
		case http.StatusNotFound:
			mappedErr = ports.ErrNotFound
		case http.StatusUnprocessableEntity:
			mappedErr = ports.ErrInvalidRequest
		case http.StatusTooManyRequests:
			mappedErr = ports.ErrRateLimited
		default:
			if apiErr.StatusCode >= 500 {
				mappedErr = ports.ErrBrokerUnavailable
			} else {
				mappedErr = ports.ErrUnknown
			}
		}
	case errors.Is(err, context.DeadlineExceeded):
		mappedErr = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mappedErr = ports.ErrContextCanceled
	default:
		mappedErr = ports.ErrConnectionFailed
	}

	finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// apiError is a non-2xx response from the trading API.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker API status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apiError{StatusCode: resp.StatusCode, Message: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// wireOrder mirrors the trading API's order resource. Numeric fields arrive
// as strings.
type wireOrder struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	Notional       string `json:"notional"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	SubmittedAt    string `json:"submitted_at"`
}

type wirePosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
}

// PlaceNotionalMarketBuy places a market buy sized in dollars.
func (c *Client) PlaceNotionalMarketBuy(ctx context.Context, symbol string, notionalUSD float64) (*ports.Order, error) {
	op := "PlaceNotionalMarketBuy"
	body := map[string]interface{}{
		"symbol":          symbol,
		"notional":        strconv.FormatFloat(notionalUSD, 'f', 2, 64),
		"side":            "buy",
		"type":            "market",
		"time_in_force":   "day",
		"client_order_id": uuid.NewString(),
	}
	var wo wireOrder
	if err := c.doJSON(ctx, http.MethodPost, "/v2/orders", body, &wo); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := translateOrder(&wo)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "notional": notionalUSD, "orderID": order.ID})
	return order, nil
}

// PlaceMarketSell places a market sell for a share quantity.
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*ports.Order, error) {
	op := "PlaceMarketSell"
	body := map[string]interface{}{
		"symbol":          symbol,
		"qty":             strconv.FormatFloat(qty, 'f', -1, 64),
		"side":            "sell",
		"type":            "market",
		"time_in_force":   "day",
		"client_order_id": uuid.NewString(),
	}
	var wo wireOrder
	if err := c.doJSON(ctx, http.MethodPost, "/v2/orders", body, &wo); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := translateOrder(&wo)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "qty": qty, "orderID": order.ID})
	return order, nil
}

// GetOrder retrieves an order by broker ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*ports.Order, error) {
	op := "GetOrder"
	var wo wireOrder
	if err := c.doJSON(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &wo); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(&wo), nil
}

// GetPosition retrieves the broker's open position for a symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*ports.BrokerPosition, error) {
	op := "GetPosition"
	var wp wirePosition
	err := c.doJSON(ctx, http.MethodGet, "/v2/positions/"+symbol, nil, &wp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			// Holding nothing is a valid state, not an error.
			return nil, nil
		}
		return nil, c.handleError(ctx, err, op)
	}
	return translatePosition(&wp), nil
}

// ListPositions retrieves every open position at the broker.
func (c *Client) ListPositions(ctx context.Context) ([]*ports.BrokerPosition, error) {
	op := "ListPositions"
	var wire []wirePosition
	if err := c.doJSON(ctx, http.MethodGet, "/v2/positions", nil, &wire); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	positions := make([]*ports.BrokerPosition, 0, len(wire))
	for i := range wire {
		positions = append(positions, translatePosition(&wire[i]))
	}
	return positions, nil
}

// --- Translation Helpers ---

func translateOrder(wo *wireOrder) *ports.Order {
	if wo == nil {
		return nil
	}
	notional, _ := strconv.ParseFloat(wo.Notional, 64)
	qty, _ := strconv.ParseFloat(wo.Qty, 64)
	filledQty, _ := strconv.ParseFloat(wo.FilledQty, 64)
	filledAvg, _ := strconv.ParseFloat(wo.FilledAvgPrice, 64)
	submittedAt, _ := time.Parse(time.RFC3339, wo.SubmittedAt)

	return &ports.Order{
		ID:             wo.ID,
		ClientOrderID:  wo.ClientOrderID,
		Symbol:         wo.Symbol,
		Side:           wo.Side,
		Status:         wo.Status,
		NotionalUSD:    notional,
		Qty:            qty,
		FilledQty:      filledQty,
		FilledAvgPrice: filledAvg,
		SubmittedAt:    submittedAt,
	}
}

func translatePosition(wp *wirePosition) *ports.BrokerPosition {
	if wp == nil {
		return nil
	}
	qty, _ := strconv.ParseFloat(wp.Qty, 64)
	avgEntry, _ := strconv.ParseFloat(wp.AvgEntryPrice, 64)
	marketValue, _ := strconv.ParseFloat(wp.MarketValue, 64)
	return &ports.BrokerPosition{
		Symbol:        wp.Symbol,
		Qty:           qty,
		AvgEntryPrice: avgEntry,
		MarketValue:   marketValue,
	}
}
