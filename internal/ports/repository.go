package ports

import (
	"context"
	"time"

	"catalystbot/internal/domain"
)

// ConfigRepository stores the singleton bot configuration row.
type ConfigRepository interface {
	// LoadConfig retrieves the singleton config. Returns nil, nil when no row
	// exists yet (first start).
	LoadConfig(ctx context.Context) (*domain.BotConfig, error)
	// SaveConfig upserts the singleton row atomically.
	SaveConfig(ctx context.Context, cfg *domain.BotConfig) error
}

// PositionRepository stores trade attempts across their lifecycle.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindByID retrieves a position by ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindByOrderID retrieves the position created for a broker order.
	// Returns nil, nil if not found.
	FindByOrderID(ctx context.Context, orderID string) (*domain.Position, error)
	// FindOpen retrieves all positions with status open.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindOpenBySymbol retrieves the open position for a symbol, if any.
	// Returns nil, nil when not found.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// FindClosed retrieves all closed positions, oldest first.
	FindClosed(ctx context.Context) ([]*domain.Position, error)
	// FindRecent retrieves the most recent non-open positions, up to limit.
	FindRecent(ctx context.Context, limit int) ([]*domain.Position, error)
	// RealizedPnLSince sums PNL of positions closed at or after the cutoff.
	RealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error)
	// CountClosedSince counts positions closed at or after the cutoff.
	CountClosedSince(ctx context.Context, cutoff time.Time) (int, error)
	// TradingDays lists distinct calendar days (YYYY-MM-DD, local time) with
	// at least one closed trade, most recent first.
	TradingDays(ctx context.Context) ([]string, error)
}

// SignalLogRepository stores the append-only gauntlet audit trail.
type SignalLogRepository interface {
	// CreateRecord appends an audit row and returns its assigned ID.
	CreateRecord(ctx context.Context, rec *domain.SignalLogRecord) (int64, error)
	// AppendSource adds a duplicate article's source to an existing record.
	AppendSource(ctx context.Context, id int64, source string) error
	// FindRecentRecords retrieves the newest audit rows, up to limit.
	FindRecentRecords(ctx context.Context, limit int) ([]*domain.SignalLogRecord, error)
}

// StrategyRepository stores computed strategy recommendations.
type StrategyRepository interface {
	// UpsertRecommendation writes a recommendation keyed by its group triple.
	UpsertRecommendation(ctx context.Context, rec *domain.StrategyRecommendation) error
	// LoadRecommendations retrieves all stored recommendations.
	LoadRecommendations(ctx context.Context) ([]*domain.StrategyRecommendation, error)
}

// SnapshotRepository stores per-position price series from the monitor.
type SnapshotRepository interface {
	// CreateSnapshot appends one observed price point.
	CreateSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error
	// FindByPosition retrieves a position's snapshots ordered by offset.
	FindByPosition(ctx context.Context, positionID int64) ([]*domain.PriceSnapshot, error)
}
