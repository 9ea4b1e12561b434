package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"catalystbot/internal/domain"
	"catalystbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements every persistence port (config, positions, signal
// log, strategy recommendations, price snapshots) using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/catalystbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the monitor, the pipeline and
	// the HTTP handlers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bot_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		enabled_tiers TEXT NOT NULL,
		sizing_3 REAL NOT NULL,
		sizing_4 REAL NOT NULL,
		sizing_5 REAL NOT NULL,
		max_concurrent INTEGER NOT NULL,
		daily_loss_limit REAL NOT NULL,
		max_float_shares REAL NOT NULL,
		max_share_price REAL NOT NULL,
		min_relative_volume REAL NOT NULL,
		hard_stop_pct REAL NOT NULL,
		profit_target_pct REAL NOT NULL,
		trailing_stop_pct REAL NOT NULL,
		trailing_stop_usd REAL NOT NULL,
		max_hold_seconds INTEGER NOT NULL,
		min_win_rate REAL NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		status TEXT NOT NULL,
		mode TEXT NOT NULL,
		entry_price REAL DEFAULT NULL,
		exit_price REAL DEFAULT NULL,
		shares REAL DEFAULT NULL,
		notional_usd REAL NOT NULL,
		market_cap REAL DEFAULT 0,
		catalyst TEXT NOT NULL,
		tier INTEGER NOT NULL,
		star_rating INTEGER NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		exit_reason TEXT DEFAULT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		pnl REAL DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS signal_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		headline TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		tier INTEGER NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		rel_volume REAL NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT -1,
		confidence TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS strategy_recommendations (
		category TEXT NOT NULL,
		cap_bucket TEXT NOT NULL,
		tod_bucket TEXT NOT NULL,
		hold_seconds INTEGER NOT NULL,
		trailing_stop_pct REAL NOT NULL,
		confidence REAL NOT NULL,
		sample_size INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		median_return REAL NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (category, cap_bucket, tod_bucket)
	);

	CREATE TABLE IF NOT EXISTS price_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		offset_seconds INTEGER NOT NULL,
		price REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_positions_order_id ON positions (order_id);
	CREATE INDEX IF NOT EXISTS idx_signal_log_created_at ON signal_log (created_at);
	CREATE INDEX IF NOT EXISTS idx_price_snapshots_position ON price_snapshots (position_id, offset_seconds);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- ConfigRepository Implementation ---

// LoadConfig retrieves the singleton config row, or nil, nil on first start.
func (r *Repository) LoadConfig(ctx context.Context) (*domain.BotConfig, error) {
	const query = `
	SELECT mode, state, enabled_tiers, sizing_3, sizing_4, sizing_5, max_concurrent,
	       daily_loss_limit, max_float_shares, max_share_price, min_relative_volume,
	       hard_stop_pct, profit_target_pct, trailing_stop_pct, trailing_stop_usd,
	       max_hold_seconds, min_win_rate, updated_at
	FROM bot_config WHERE id = 1`

	cfg := &domain.BotConfig{PositionSizing: make(map[int]float64, 3)}
	var mode, state, tiers string
	var s3, s4, s5 float64
	err := r.db.QueryRowContext(ctx, query).Scan(
		&mode, &state, &tiers, &s3, &s4, &s5, &cfg.MaxConcurrentPositions,
		&cfg.DailyLossLimitUSD, &cfg.MaxFloatShares, &cfg.MaxSharePrice, &cfg.MinRelativeVolume,
		&cfg.HardStopPct, &cfg.ProfitTargetPct, &cfg.TrailingStopPct, &cfg.TrailingStopUSD,
		&cfg.MaxHoldSeconds, &cfg.MinWinRate, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load bot config: %w", err)
	}
	cfg.Mode = domain.TradeMode(mode)
	cfg.State = domain.BotState(state)
	cfg.EnabledTiers = parseTierList(tiers)
	cfg.PositionSizing[3] = s3
	cfg.PositionSizing[4] = s4
	cfg.PositionSizing[5] = s5
	return cfg, nil
}

// SaveConfig upserts the singleton config row.
func (r *Repository) SaveConfig(ctx context.Context, cfg *domain.BotConfig) error {
	const query = `
	INSERT INTO bot_config (id, mode, state, enabled_tiers, sizing_3, sizing_4, sizing_5,
	                        max_concurrent, daily_loss_limit, max_float_shares, max_share_price,
	                        min_relative_volume, hard_stop_pct, profit_target_pct,
	                        trailing_stop_pct, trailing_stop_usd, max_hold_seconds,
	                        min_win_rate, updated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		mode = excluded.mode, state = excluded.state, enabled_tiers = excluded.enabled_tiers,
		sizing_3 = excluded.sizing_3, sizing_4 = excluded.sizing_4, sizing_5 = excluded.sizing_5,
		max_concurrent = excluded.max_concurrent, daily_loss_limit = excluded.daily_loss_limit,
		max_float_shares = excluded.max_float_shares, max_share_price = excluded.max_share_price,
		min_relative_volume = excluded.min_relative_volume, hard_stop_pct = excluded.hard_stop_pct,
		profit_target_pct = excluded.profit_target_pct, trailing_stop_pct = excluded.trailing_stop_pct,
		trailing_stop_usd = excluded.trailing_stop_usd, max_hold_seconds = excluded.max_hold_seconds,
		min_win_rate = excluded.min_win_rate, updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		cfg.Mode, cfg.State, formatTierList(cfg.EnabledTiers),
		cfg.PositionSizing[3], cfg.PositionSizing[4], cfg.PositionSizing[5],
		cfg.MaxConcurrentPositions, cfg.DailyLossLimitUSD, cfg.MaxFloatShares,
		cfg.MaxSharePrice, cfg.MinRelativeVolume, cfg.HardStopPct, cfg.ProfitTargetPct,
		cfg.TrailingStopPct, cfg.TrailingStopUSD, cfg.MaxHoldSeconds, cfg.MinWinRate,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save bot config: %w", err)
	}
	return nil
}

// --- PositionRepository Implementation ---

const positionColumns = `id, symbol, status, mode, COALESCE(entry_price, 0), COALESCE(exit_price, 0),
	COALESCE(shares, 0), notional_usd, market_cap, catalyst, tier, star_rating, order_id,
	exit_reason, entry_time, exit_time, COALESCE(pnl, 0)`

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, status, mode, entry_price, exit_price, shares, notional_usd,
	                       market_cap, catalyst, tier, star_rating, order_id, entry_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Status, pos.Mode, nullFloat(pos.EntryPrice), nullFloat(pos.ExitPrice),
		nullFloat(pos.Shares), pos.NotionalUSD, pos.MarketCap, pos.Catalyst, pos.Tier,
		pos.StarRating, pos.OrderID, pos.EntryTime)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET status = ?, entry_price = ?, exit_price = ?, shares = ?, market_cap = ?,
	    exit_reason = ?, exit_time = ?, pnl = ?
	WHERE id = ?`

	var exitTime sql.NullTime
	if !pos.ExitTime.IsZero() {
		exitTime = sql.NullTime{Time: pos.ExitTime, Valid: true}
	}
	var exitReason sql.NullString
	if pos.ExitReason != "" {
		exitReason = sql.NullString{String: string(pos.ExitReason), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.Status, nullFloat(pos.EntryPrice), nullFloat(pos.ExitPrice), nullFloat(pos.Shares),
		pos.MarketCap, exitReason, exitTime, pos.PNL, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "status": pos.Status})
	return nil
}

// FindByID retrieves a position by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`
	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// FindByOrderID retrieves the position created for a broker order.
func (r *Repository) FindByOrderID(ctx context.Context, orderID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE order_id = ?`
	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position by order ID %s: %w", orderID, err)
	}
	return pos, nil
}

// FindOpen retrieves all positions with status open.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY entry_time`
	return r.queryPositions(ctx, query, domain.StatusOpen)
}

// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ? AND status = ?`
	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, symbol, domain.StatusOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open position for symbol %s: %w", symbol, err)
	}
	return pos, nil
}

// FindClosed retrieves all closed positions, oldest first.
func (r *Repository) FindClosed(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY entry_time`
	return r.queryPositions(ctx, query, domain.StatusClosed)
}

// FindRecent retrieves the most recent non-open positions, up to limit.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status != ? ORDER BY entry_time DESC LIMIT ?`
	return r.queryPositions(ctx, query, domain.StatusOpen, limit)
}

// RealizedPnLSince sums PNL of positions closed at or after the cutoff.
func (r *Repository) RealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM positions WHERE status = ? AND exit_time >= ?`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, domain.StatusClosed, cutoff).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total, nil
}

// CountClosedSince counts positions closed at or after the cutoff.
func (r *Repository) CountClosedSince(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM positions WHERE status = ? AND exit_time >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, domain.StatusClosed, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count closed positions: %w", err)
	}
	return count, nil
}

// TradingDays lists distinct calendar days with a closed trade, newest first.
func (r *Repository) TradingDays(ctx context.Context) ([]string, error) {
	const query = `
	SELECT DISTINCT date(exit_time, 'localtime') FROM positions
	WHERE status = ? AND exit_time IS NOT NULL ORDER BY 1 DESC`
	rows, err := r.db.QueryContext(ctx, query, domain.StatusClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to query trading days: %w", err)
	}
	defer rows.Close()

	days := make([]string, 0)
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan trading day: %w", err)
		}
		days = append(days, day)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trading days: %w", err)
	}
	return days, nil
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- SignalLogRepository Implementation ---

// CreateRecord appends an audit row and returns its assigned ID.
func (r *Repository) CreateRecord(ctx context.Context, rec *domain.SignalLogRecord) (int64, error) {
	const query = `
	INSERT INTO signal_log (signal_id, symbol, headline, sources, outcome, reason, detail,
	                        category, tier, price, rel_volume, win_rate, confidence, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		rec.SignalID, rec.Symbol, rec.Headline, rec.Sources, rec.Outcome, rec.Reason,
		rec.Detail, rec.Category, rec.Tier, rec.Price, rec.RelVolume, rec.WinRate,
		rec.Confidence, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal log for symbol %s: %w", rec.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for signal log %s: %w", rec.Symbol, err)
	}
	rec.ID = id
	return id, nil
}

// AppendSource adds a duplicate article's source to an existing record.
func (r *Repository) AppendSource(ctx context.Context, id int64, source string) error {
	const query = `UPDATE signal_log SET sources = sources || ',' || ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, source, id); err != nil {
		return fmt.Errorf("failed to append source to signal log %d: %w", id, err)
	}
	return nil
}

// FindRecentRecords retrieves the newest audit rows, up to limit.
func (r *Repository) FindRecentRecords(ctx context.Context, limit int) ([]*domain.SignalLogRecord, error) {
	const query = `
	SELECT id, signal_id, symbol, headline, sources, outcome, reason, detail,
	       category, tier, price, rel_volume, win_rate, confidence, created_at
	FROM signal_log ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal log: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.SignalLogRecord, 0)
	for rows.Next() {
		rec := &domain.SignalLogRecord{}
		var outcome, reason, category, confidence string
		err := rows.Scan(&rec.ID, &rec.SignalID, &rec.Symbol, &rec.Headline, &rec.Sources,
			&outcome, &reason, &rec.Detail, &category, &rec.Tier, &rec.Price,
			&rec.RelVolume, &rec.WinRate, &confidence, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal log row: %w", err)
		}
		rec.Outcome = domain.SignalOutcome(outcome)
		rec.Reason = domain.RejectReason(reason)
		rec.Category = domain.CatalystCategory(category)
		rec.Confidence = domain.AdvisorConfidence(confidence)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal log rows: %w", err)
	}
	return records, nil
}

// --- StrategyRepository Implementation ---

// UpsertRecommendation writes a recommendation keyed by its group triple.
func (r *Repository) UpsertRecommendation(ctx context.Context, rec *domain.StrategyRecommendation) error {
	const query = `
	INSERT INTO strategy_recommendations (category, cap_bucket, tod_bucket, hold_seconds,
	                                      trailing_stop_pct, confidence, sample_size,
	                                      win_rate, median_return, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(category, cap_bucket, tod_bucket) DO UPDATE SET
		hold_seconds = excluded.hold_seconds, trailing_stop_pct = excluded.trailing_stop_pct,
		confidence = excluded.confidence, sample_size = excluded.sample_size,
		win_rate = excluded.win_rate, median_return = excluded.median_return,
		updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.Category, rec.CapBucket, rec.TODBucket, rec.HoldSeconds, rec.TrailingStopPct,
		rec.Confidence, rec.SampleSize, rec.WinRate, rec.MedianReturn, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert strategy recommendation %s/%s/%s: %w",
			rec.Category, rec.CapBucket, rec.TODBucket, err)
	}
	return nil
}

// LoadRecommendations retrieves all stored recommendations.
func (r *Repository) LoadRecommendations(ctx context.Context) ([]*domain.StrategyRecommendation, error) {
	const query = `
	SELECT category, cap_bucket, tod_bucket, hold_seconds, trailing_stop_pct,
	       confidence, sample_size, win_rate, median_return, updated_at
	FROM strategy_recommendations`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy recommendations: %w", err)
	}
	defer rows.Close()

	recs := make([]*domain.StrategyRecommendation, 0)
	for rows.Next() {
		rec := &domain.StrategyRecommendation{}
		var category, capBucket, todBucket string
		err := rows.Scan(&category, &capBucket, &todBucket, &rec.HoldSeconds,
			&rec.TrailingStopPct, &rec.Confidence, &rec.SampleSize, &rec.WinRate,
			&rec.MedianReturn, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy recommendation: %w", err)
		}
		rec.Category = domain.CatalystCategory(category)
		rec.CapBucket = domain.MarketCapBucket(capBucket)
		rec.TODBucket = domain.TimeOfDayBucket(todBucket)
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy recommendation rows: %w", err)
	}
	return recs, nil
}

// --- SnapshotRepository Implementation ---

// CreateSnapshot appends one observed price point.
func (r *Repository) CreateSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error {
	const query = `
	INSERT INTO price_snapshots (position_id, offset_seconds, price, created_at)
	VALUES (?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query, snap.PositionID, snap.OffsetSeconds, snap.Price, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert price snapshot for position %d: %w", snap.PositionID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		snap.ID = id
	}
	return nil
}

// FindByPosition retrieves a position's snapshots ordered by offset.
func (r *Repository) FindByPosition(ctx context.Context, positionID int64) ([]*domain.PriceSnapshot, error) {
	const query = `
	SELECT id, position_id, offset_seconds, price, created_at
	FROM price_snapshots WHERE position_id = ? ORDER BY offset_seconds`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price snapshots for position %d: %w", positionID, err)
	}
	defer rows.Close()

	snaps := make([]*domain.PriceSnapshot, 0)
	for rows.Next() {
		snap := &domain.PriceSnapshot{}
		if err := rows.Scan(&snap.ID, &snap.PositionID, &snap.OffsetSeconds, &snap.Price, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price snapshot rows: %w", err)
	}
	return snaps, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var status, mode, catalyst string
	var exitReason sql.NullString
	var exitTime sql.NullTime
	err := s.Scan(
		&p.ID, &p.Symbol, &status, &mode, &p.EntryPrice, &p.ExitPrice, &p.Shares,
		&p.NotionalUSD, &p.MarketCap, &catalyst, &p.Tier, &p.StarRating, &p.OrderID,
		&exitReason, &p.EntryTime, &exitTime, &p.PNL)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Status = domain.PositionStatus(status)
	p.Mode = domain.TradeMode(mode)
	p.Catalyst = domain.CatalystCategory(catalyst)
	if exitReason.Valid {
		p.ExitReason = domain.ExitReason(exitReason.String)
	}
	if exitTime.Valid {
		p.ExitTime = exitTime.Time
	}
	return p, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if v == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func parseTierList(s string) []int {
	tiers := make([]int, 0, 4)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, err := strconv.Atoi(part); err == nil {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

func formatTierList(tiers []int) string {
	parts := make([]string, 0, len(tiers))
	for _, t := range tiers {
		parts = append(parts, strconv.Itoa(t))
	}
	return strings.Join(parts, ",")
}
