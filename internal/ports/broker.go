package ports

import (
	"context"
	"time"

	"catalystbot/internal/domain"
)

// Order represents the essential details returned after placing an order.
type Order struct {
	ID             string // Broker's order ID
	ClientOrderID  string
	Symbol         string
	Side           string // buy, sell
	Status         string // accepted, filled, rejected, ...
	NotionalUSD    float64 // Requested dollar size (notional orders)
	Qty            float64 // Requested share quantity (quantity orders)
	FilledQty      float64
	FilledAvgPrice float64
	SubmittedAt    time.Time
}

// OrderEvent classifies entries on the broker's order-update stream.
type OrderEvent string

const (
	OrderEventFill        OrderEvent = "fill"
	OrderEventPartialFill OrderEvent = "partial_fill"
	OrderEventRejected    OrderEvent = "rejected"
	OrderEventOther       OrderEvent = "other"
)

// OrderUpdate is one event from the broker's streaming order feed.
type OrderUpdate struct {
	Event          OrderEvent
	OrderID        string
	Symbol         string
	FilledQty      float64
	FilledAvgPrice float64
	Timestamp      time.Time
}

// BrokerPosition is the broker's authoritative view of an open position.
type BrokerPosition struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	MarketValue   float64
}

// Broker defines the interface for the single brokerage integration:
// REST order placement and queries plus the streaming order-update feed.
type Broker interface {
	// SetMode points subsequent calls at the paper or live endpoint.
	// The caller is responsible for restarting the order-update stream.
	SetMode(mode domain.TradeMode)

	// PlaceNotionalMarketBuy places a market buy sized in dollars.
	PlaceNotionalMarketBuy(ctx context.Context, symbol string, notionalUSD float64) (*Order, error)

	// PlaceMarketSell places a market sell for a share quantity.
	PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*Order, error)

	// GetOrder retrieves an order by broker ID.
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// GetPosition retrieves the broker's open position for a symbol.
	// Returns nil, nil when the broker holds none.
	GetPosition(ctx context.Context, symbol string) (*BrokerPosition, error)

	// ListPositions retrieves every open position at the broker.
	ListPositions(ctx context.Context) ([]*BrokerPosition, error)

	// StreamOrderUpdates starts the order-update stream. Events go to
	// handler, connection-level errors to errHandler; the adapter reconnects
	// internally. Returns done/stop channels controlling the stream.
	StreamOrderUpdates(ctx context.Context, handler func(*OrderUpdate), errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
