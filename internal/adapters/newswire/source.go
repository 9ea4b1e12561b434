package newswire

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"catalystbot/internal/domain"
	"catalystbot/internal/ports"
)

// Source implements ports.NewsSource over a websocket article feed. The
// connection reconnects forever; every reconnect after the first connect is
// reported through OnReconnect so the pipeline can apply its replay
// cooldown.
type Source struct {
	name           string
	url            string
	logger         ports.Logger
	reconnectDelay time.Duration
	onReconnect    func(source string)
}

// Config holds configuration for one news source connection.
type Config struct {
	Name           string
	URL            string
	Logger         ports.Logger
	ReconnectDelay time.Duration
	// OnReconnect is invoked after every successful reconnect (not the
	// initial connect). May be nil.
	OnReconnect func(source string)
}

// New creates a news source adapter.
func New(cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for news source")
	}
	if cfg.Name == "" || cfg.URL == "" {
		return nil, fmt.Errorf("news source name and URL are required: %w", ports.ErrConfigurationError)
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Source{
		name:           cfg.Name,
		url:            cfg.URL,
		logger:         cfg.Logger,
		reconnectDelay: reconnectDelay,
		onReconnect:    cfg.OnReconnect,
	}, nil
}

// Name identifies the source in logs and audit records.
func (s *Source) Name() string { return s.name }

// wireArticle mirrors the provider's article payload.
type wireArticle struct {
	ID          string    `json:"id"`
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	Summary     string    `json:"summary"`
	Symbols     []string  `json:"symbols"`
	PublishedAt time.Time `json:"published_at"`
}

// Stream starts delivering articles to handler until the context is
// cancelled or stopCh receives. Reconnection is internal and infinite.
func (s *Source) Stream(ctx context.Context, handler func(*domain.NewsArticle), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "NewsStream"
	wsCtx, cancelWs := context.WithCancel(ctx)

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			s.logger.Info(ctx, op+": Received external stop signal", map[string]interface{}{"source": s.name})
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer cancelWs()
		defer close(doneCh)

		retry := &backoff.Backoff{
			Min:    s.reconnectDelay,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		}
		connected := false

		for {
			select {
			case <-wsCtx.Done():
				s.logger.Info(wsCtx, op+": Context cancelled, stopping", map[string]interface{}{"source": s.name})
				return
			default:
			}

			conn, _, connectErr := websocket.DefaultDialer.DialContext(wsCtx, s.url, nil)
			if connectErr != nil {
				delay := retry.Duration()
				s.logger.Warn(wsCtx, op+": Connection failed, retrying", map[string]interface{}{"source": s.name, "delay": delay.String()})
				errHandler(fmt.Errorf("%s %s connect: %w: %w", op, s.name, ports.ErrConnectionFailed, connectErr))
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			retry.Reset()
			if connected && s.onReconnect != nil {
				s.onReconnect(s.name)
			}
			connected = true
			s.logger.Info(wsCtx, op+": Connected", map[string]interface{}{"source": s.name})

			connCtx, cancelConn := context.WithCancel(wsCtx)
			go func() {
				<-connCtx.Done()
				conn.Close()
			}()

			s.readLoop(wsCtx, conn, handler, errHandler)
			cancelConn()

			select {
			case <-wsCtx.Done():
				return
			default:
				s.logger.Warn(wsCtx, op+": Connection closed, reconnecting", map[string]interface{}{"source": s.name})
			}
		}
	}()

	return doneCh, stopCh, nil
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, handler func(*domain.NewsArticle), errHandler func(err error)) {
	op := "NewsStream"
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				errHandler(fmt.Errorf("%s %s read: %w: %w", op, s.name, ports.ErrConnectionFailed, err))
			}
			return
		}

		var wa wireArticle
		if err := json.Unmarshal(payload, &wa); err != nil {
			s.logger.Error(ctx, err, op+": Failed to decode article", map[string]interface{}{"source": s.name})
			continue
		}
		if wa.Headline == "" {
			continue
		}

		body := wa.Body
		if body == "" {
			body = wa.Summary
		}
		handler(&domain.NewsArticle{
			ID:          wa.ID,
			Source:      s.name,
			Symbols:     wa.Symbols,
			Headline:    wa.Headline,
			Body:        body,
			PublishedAt: wa.PublishedAt,
		})
	}
}
