package target

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	appconfig "stockwatch/config"
	"stockwatch/logger"
)

// Open establishes a pooled Postgres connection using the application
// database configuration.
func Open(cfg appconfig.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// PostgresStore implements Store on top of Postgres.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Log
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, log: logger.GetLogger()}
}

// EnsureSchema creates the tables the store relies on when they do not
// exist yet. Watchlist rows themselves are owned by the surrounding
// application; only the table is provisioned here.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS watchlists (
			watchlist_id TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS price_targets (
			target_id        TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			ticker           TEXT NOT NULL,
			target_price     NUMERIC NOT NULL,
			alert_type       TEXT NOT NULL,
			watchlist_id     TEXT NOT NULL,
			watchlist_name   TEXT NOT NULL,
			is_active        BOOLEAN NOT NULL DEFAULT TRUE,
			triggered        BOOLEAN NOT NULL DEFAULT FALSE,
			triggered_at     TIMESTAMPTZ,
			triggered_price  NUMERIC,
			current_price    NUMERIC NOT NULL DEFAULT 0,
			last_price_check TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_updated     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_targets_active
			ON price_targets (user_id, is_active, triggered)`,
		`CREATE TABLE IF NOT EXISTS notification_history (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			target_id      TEXT NOT NULL,
			ticker         TEXT NOT NULL,
			target_price   NUMERIC NOT NULL,
			current_price  NUMERIC NOT NULL,
			alert_type     TEXT NOT NULL,
			watchlist_id   TEXT NOT NULL,
			watchlist_name TEXT NOT NULL,
			sent_at        TIMESTAMPTZ NOT NULL,
			status         TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_endpoints (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			url        TEXT NOT NULL,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

const targetColumns = `target_id, user_id, ticker, target_price, alert_type,
	watchlist_id, watchlist_name, is_active, triggered, triggered_at,
	triggered_price, current_price, last_price_check, created_at, last_updated`

func (s *PostgresStore) CreateTarget(ctx context.Context, t *PriceTarget) error {
	query := `
		INSERT INTO price_targets (` + targetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL, NULL, 0, NULL, NOW(), NOW())
		RETURNING created_at, last_updated
	`

	err := s.db.QueryRowContext(
		ctx, query,
		t.TargetID, t.UserID, t.Ticker, t.TargetPrice, t.AlertKind,
		t.WatchlistID, t.WatchlistName, t.IsActive,
	).Scan(&t.CreatedAt, &t.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to create price target: %w", err)
	}
	return nil
}

func (s *PostgresStore) TargetByID(ctx context.Context, userID, targetID string) (*PriceTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM price_targets
		WHERE user_id = $1 AND target_id = $2
	`
	t, err := scanTarget(s.db.QueryRowContext(ctx, query, userID, targetID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price target: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) TargetsForUser(ctx context.Context, userID, watchlistID string) ([]PriceTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM price_targets
		WHERE user_id = $1 AND is_active = TRUE
	`
	args := []interface{}{userID}
	if watchlistID != "" {
		query += ` AND watchlist_id = $2`
		args = append(args, watchlistID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list price targets: %w", err)
	}
	defer rows.Close()

	return collectTargets(rows)
}

func (s *PostgresStore) UpdateTarget(ctx context.Context, userID, targetID string, upd TargetUpdate) (*PriceTarget, error) {
	var price decimal.NullDecimal
	if upd.TargetPrice != nil {
		price = decimal.NullDecimal{Decimal: *upd.TargetPrice, Valid: true}
	}
	var kind sql.NullString
	if upd.AlertKind != nil {
		kind = sql.NullString{String: string(*upd.AlertKind), Valid: true}
	}
	var active sql.NullBool
	if upd.IsActive != nil {
		active = sql.NullBool{Bool: *upd.IsActive, Valid: true}
	}

	query := `
		UPDATE price_targets
		SET target_price = COALESCE($3, target_price),
		    alert_type   = COALESCE($4, alert_type),
		    is_active    = COALESCE($5, is_active),
		    last_updated = NOW()
		WHERE user_id = $1 AND target_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, userID, targetID, price, kind, active)
	if err != nil {
		return nil, fmt.Errorf("failed to update price target: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.TargetByID(ctx, userID, targetID)
}

// DeactivateTarget soft-deletes a target. The triggered flag is preserved.
func (s *PostgresStore) DeactivateTarget(ctx context.Context, userID, targetID string) error {
	query := `
		UPDATE price_targets
		SET is_active = FALSE, last_updated = NOW()
		WHERE user_id = $1 AND target_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, userID, targetID)
	if err != nil {
		return fmt.Errorf("failed to deactivate price target: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActiveTargetExists(ctx context.Context, userID, ticker, watchlistID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM price_targets
			WHERE user_id = $1 AND ticker = $2 AND watchlist_id = $3 AND is_active = TRUE
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, ticker, watchlistID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for existing target: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) WatchlistName(ctx context.Context, watchlistID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM watchlists WHERE watchlist_id = $1`, watchlistID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrWatchlistNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up watchlist: %w", err)
	}
	return name, nil
}

func (s *PostgresStore) ActiveUntriggered(ctx context.Context, userID string) ([]PriceTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM price_targets
		WHERE user_id = $1 AND is_active = TRUE AND triggered = FALSE
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active targets: %w", err)
	}
	defer rows.Close()

	return collectTargets(rows)
}

func (s *PostgresStore) UpdateObservedPrice(ctx context.Context, targetID string, price decimal.Decimal, checkedAt time.Time) error {
	query := `
		UPDATE price_targets
		SET current_price = $2, last_price_check = $3
		WHERE target_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, targetID, price, checkedAt); err != nil {
		return fmt.Errorf("failed to update observed price: %w", err)
	}
	return nil
}

// MarkTriggered performs the one-time trigger transition. The triggered
// guard in the WHERE clause makes the write a no-op when the target has
// already fired, which keeps firing at-most-once even under a race.
func (s *PostgresStore) MarkTriggered(ctx context.Context, targetID string, price decimal.Decimal, triggeredAt time.Time) error {
	query := `
		UPDATE price_targets
		SET triggered = TRUE, triggered_at = $2, triggered_price = $3, last_updated = NOW()
		WHERE target_id = $1 AND triggered = FALSE
	`
	result, err := s.db.ExecContext(ctx, query, targetID, triggeredAt, price)
	if err != nil {
		return fmt.Errorf("failed to mark target triggered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("target %s already triggered or missing", targetID)
	}
	return nil
}

func (s *PostgresStore) AppendNotificationHistory(ctx context.Context, rec *NotificationRecord) error {
	query := `
		INSERT INTO notification_history (
			id, user_id, target_id, ticker, target_price, current_price,
			alert_type, watchlist_id, watchlist_name, sent_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(
		ctx, query,
		rec.ID, rec.UserID, rec.TargetID, rec.Ticker, rec.TargetPrice, rec.CurrentPrice,
		rec.AlertKind, rec.WatchlistID, rec.WatchlistName, rec.SentAt, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to append notification history: %w", err)
	}
	return nil
}

func (s *PostgresStore) NotificationHistory(ctx context.Context, userID string, limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, target_id, ticker, target_price, current_price,
		       alert_type, watchlist_id, watchlist_name, sent_at, status
		FROM notification_history
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification history: %w", err)
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.TargetID, &rec.Ticker, &rec.TargetPrice,
			&rec.CurrentPrice, &rec.AlertKind, &rec.WatchlistID, &rec.WatchlistName,
			&rec.SentAt, &rec.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ActiveEndpoints(ctx context.Context, userID string) ([]Endpoint, error) {
	query := `
		SELECT id, user_id, url, is_active, created_at
		FROM notification_endpoints
		WHERE user_id = $1 AND is_active = TRUE
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		var ep Endpoint
		if err := rows.Scan(&ep.ID, &ep.UserID, &ep.URL, &ep.IsActive, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row rowScanner) (*PriceTarget, error) {
	t := &PriceTarget{}
	var triggeredAt, lastCheck sql.NullTime

	err := row.Scan(
		&t.TargetID, &t.UserID, &t.Ticker, &t.TargetPrice, &t.AlertKind,
		&t.WatchlistID, &t.WatchlistName, &t.IsActive, &t.Triggered,
		&triggeredAt, &t.TriggeredPrice, &t.CurrentPrice, &lastCheck,
		&t.CreatedAt, &t.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if triggeredAt.Valid {
		t.TriggeredAt = &triggeredAt.Time
	}
	if lastCheck.Valid {
		t.LastPriceCheck = &lastCheck.Time
	}
	return t, nil
}

func collectTargets(rows *sql.Rows) ([]PriceTarget, error) {
	var targets []PriceTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price target: %w", err)
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}
