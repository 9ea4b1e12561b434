package ports

import (
	"context"

	"catalystbot/internal/domain"
)

// NewsSource is one long-lived article feed. Implementations reconnect
// internally and report each successful reconnect so the pipeline can apply
// its replay cooldown.
type NewsSource interface {
	// Name identifies the source in logs and audit records.
	Name() string

	// Stream starts delivering articles to handler until the context is
	// cancelled or a value is sent on stopCh. Connection-level errors go to
	// errHandler; reconnection is internal and infinite.
	Stream(ctx context.Context, handler func(*domain.NewsArticle), errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
