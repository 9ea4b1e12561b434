package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"catalystbot/internal/ports"
)

// streamURL derives the websocket endpoint from the current REST base URL.
func (c *Client) streamURL() string {
	base := c.baseURL()
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/stream"
}

type wireStreamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wireTradeUpdate struct {
	Event     string    `json:"event"`
	Price     string    `json:"price"`
	Qty       string    `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
	Order     wireOrder `json:"order"`
}

// StreamOrderUpdates starts the order-update stream with infinite reconnect.
// Events are delivered to handler, connection-level errors to errHandler.
func (c *Client) StreamOrderUpdates(ctx context.Context, handler func(*ports.OrderUpdate), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamOrderUpdates"
	wsCtx, cancelWs := context.WithCancel(ctx)

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling stream context")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer cancelWs()
		defer close(doneCh)

		retry := &backoff.Backoff{
			Min:    c.reconnectDelay,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		}

		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts")
				return
			default:
			}

			url := c.streamURL()
			conn, _, connectErr := websocket.DefaultDialer.DialContext(wsCtx, url, nil)
			if connectErr != nil {
				delay := retry.Duration()
				c.logger.Warn(wsCtx, op+": Connection failed, retrying", map[string]interface{}{"url": url, "delay": delay.String()})
				errHandler(fmt.Errorf("%s connect: %w: %w", op, ports.ErrConnectionFailed, connectErr))
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			if err := c.authenticateStream(conn); err != nil {
				conn.Close()
				errHandler(fmt.Errorf("%s auth: %w: %w", op, ports.ErrAuthenticationFailed, err))
				select {
				case <-time.After(retry.Duration()):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			retry.Reset()
			c.logger.Info(wsCtx, op+": Order-update stream established", map[string]interface{}{"url": url})

			// Close the socket when the context ends so ReadMessage unblocks.
			connCtx, cancelConn := context.WithCancel(wsCtx)
			go func() {
				<-connCtx.Done()
				conn.Close()
			}()

			c.readLoop(wsCtx, conn, handler, errHandler)
			cancelConn()

			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping stream")
				return
			default:
				c.logger.Warn(wsCtx, op+": Stream closed unexpectedly, reconnecting")
			}
		}
	}()

	return doneCh, stopCh, nil
}

func (c *Client) authenticateStream(conn *websocket.Conn) error {
	auth := map[string]interface{}{
		"action": "authenticate",
		"data":   map[string]string{"key_id": c.keyID, "secret_key": c.secretKey},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("sending auth frame: %w", err)
	}
	listen := map[string]interface{}{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}
	if err := conn.WriteJSON(listen); err != nil {
		return fmt.Errorf("sending listen frame: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handler func(*ports.OrderUpdate), errHandler func(err error)) {
	op := "StreamOrderUpdates"
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				errHandler(fmt.Errorf("%s read: %w: %w", op, ports.ErrConnectionFailed, err))
			}
			return
		}

		var frame wireStreamFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Error(ctx, err, op+": Failed to decode stream frame")
			continue
		}
		if frame.Stream != "trade_updates" {
			continue
		}

		var wu wireTradeUpdate
		if err := json.Unmarshal(frame.Data, &wu); err != nil {
			c.logger.Error(ctx, err, op+": Failed to decode trade update")
			continue
		}
		handler(translateTradeUpdate(&wu))
	}
}

func translateTradeUpdate(wu *wireTradeUpdate) *ports.OrderUpdate {
	event := ports.OrderEventOther
	switch wu.Event {
	case "fill":
		event = ports.OrderEventFill
	case "partial_fill":
		event = ports.OrderEventPartialFill
	case "rejected", "canceled":
		event = ports.OrderEventRejected
	}

	filledQty, _ := strconv.ParseFloat(wu.Order.FilledQty, 64)
	filledAvg, _ := strconv.ParseFloat(wu.Order.FilledAvgPrice, 64)
	if filledAvg == 0 {
		filledAvg, _ = strconv.ParseFloat(wu.Price, 64)
	}
	if filledQty == 0 {
		filledQty, _ = strconv.ParseFloat(wu.Qty, 64)
	}

	return &ports.OrderUpdate{
		Event:          event,
		OrderID:        wu.Order.ID,
		Symbol:         wu.Order.Symbol,
		FilledQty:      filledQty,
		FilledAvgPrice: filledAvg,
		Timestamp:      wu.Timestamp,
	}
}
