package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workers (
			instance_id TEXT PRIMARY KEY,
			asset TEXT NOT NULL,
			venue_symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			notional TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			status INTEGER NOT NULL,
			launched_at DATETIME NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_asset ON workers(asset)`,

		`CREATE TABLE IF NOT EXISTS rebalances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			opened_count INTEGER NOT NULL DEFAULT 0,
			closed_count INTEGER NOT NULL DEFAULT 0,
			retained_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			notional_per_long TEXT NOT NULL DEFAULT '0',
			notional_per_short TEXT NOT NULL DEFAULT '0',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebalances_timestamp ON rebalances(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveWorker journals a worker deployment.
func (r *SQLiteRepository) SaveWorker(ctx context.Context, record WorkerRecord) error {
	query := `INSERT OR REPLACE INTO workers
		(instance_id, asset, venue_symbol, side, notional, leverage, status, launched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	_, err := r.db.ExecContext(ctx, query,
		record.InstanceID,
		record.Asset,
		record.VenueSymbol,
		record.Side,
		record.Notional.String(),
		record.Leverage,
		record.Status,
		record.LaunchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}

	return nil
}

// UpdateWorkerStatus updates a journaled worker's status.
func (r *SQLiteRepository) UpdateWorkerStatus(ctx context.Context, instanceID string, status types.WorkerStatus) error {
	query := `UPDATE workers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE instance_id = ?`

	res, err := r.db.ExecContext(ctx, query, status, instanceID)
	if err != nil {
		return fmt.Errorf("update worker status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", types.ErrWorkerNotFound, instanceID)
	}

	return nil
}

// DeleteWorker removes a worker from the journal after archival.
func (r *SQLiteRepository) DeleteWorker(ctx context.Context, instanceID string) error {
	query := `DELETE FROM workers WHERE instance_id = ?`

	_, err := r.db.ExecContext(ctx, query, instanceID)
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}

	return nil
}

// ActiveWorkers returns journaled workers that have not been archived.
func (r *SQLiteRepository) ActiveWorkers(ctx context.Context) ([]WorkerRecord, error) {
	query := `SELECT instance_id, asset, venue_symbol, side, notional, leverage, status, launched_at, updated_at
		FROM workers WHERE status < ? ORDER BY launched_at`

	rows, err := r.db.QueryContext(ctx, query, types.WorkerArchived)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []WorkerRecord
	for rows.Next() {
		var rec WorkerRecord
		var notional string

		if err := rows.Scan(&rec.InstanceID, &rec.Asset, &rec.VenueSymbol, &rec.Side, &notional, &rec.Leverage, &rec.Status, &rec.LaunchedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.Notional, _ = decimal.NewFromString(notional)

		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveRebalance records one completed rebalance.
func (r *SQLiteRepository) SaveRebalance(ctx context.Context, record RebalanceRecord) error {
	query := `INSERT INTO rebalances
		(timestamp, opened_count, closed_count, retained_count, failed_count, notional_per_long, notional_per_short, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.Timestamp,
		record.OpenedCount,
		record.ClosedCount,
		record.RetainedCount,
		record.FailedCount,
		record.NotionalPerLong.String(),
		record.NotionalPerShort.String(),
		record.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert rebalance: %w", err)
	}

	return nil
}

// RecentRebalances returns rebalance records in a time range.
func (r *SQLiteRepository) RecentRebalances(ctx context.Context, from, to time.Time) ([]RebalanceRecord, error) {
	query := `SELECT id, timestamp, opened_count, closed_count, retained_count, failed_count, notional_per_long, notional_per_short, duration_ms
		FROM rebalances WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query rebalances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []RebalanceRecord
	for rows.Next() {
		var rec RebalanceRecord
		var perLong, perShort string
		var durationMS int64

		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.OpenedCount, &rec.ClosedCount, &rec.RetainedCount, &rec.FailedCount, &perLong, &perShort, &durationMS); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.NotionalPerLong, _ = decimal.NewFromString(perLong)
		rec.NotionalPerShort, _ = decimal.NewFromString(perShort)
		rec.Duration = time.Duration(durationMS) * time.Millisecond

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Interface guard.
var _ Repository = (*SQLiteRepository)(nil)
