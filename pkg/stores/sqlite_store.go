package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/flexhook/flexhook/pkg/engine"
	"github.com/flexhook/flexhook/pkg/recipe"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotInitialized is returned when the store is used before Init.
var ErrNotInitialized = errors.New("stores: database not initialized")

var _ engine.History = (*SQLiteStore)(nil)

// SQLiteStore records apply history in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// HistoryFilter narrows ListHistory.
type HistoryFilter struct {
	// Package restricts results to one package.
	Package string

	// BatchID restricts results to one batch.
	BatchID string

	// Limit caps the number of records; zero means no limit.
	Limit int
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{config: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection with WAL journaling.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.config.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	return s.db.PingContext(ctx)
}

// RecordApply implements engine.History.
func (s *SQLiteStore) RecordApply(ctx context.Context, rec engine.HistoryRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	appliedAt := rec.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now()
	}

	query := `
		INSERT INTO apply_history (batch_id, package, version, job, status, error, applied_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.BatchID,
		rec.Package,
		rec.Version,
		string(rec.Job),
		rec.Status,
		rec.Error,
		appliedAt.UnixNano(),
		int64(rec.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to record apply of %s: %w", rec.Package, err)
	}
	return nil
}

// ListHistory returns records matching filter, newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]engine.HistoryRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.Package != "" {
		where = append(where, "package = ?")
		args = append(args, filter.Package)
	}
	if filter.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, filter.BatchID)
	}

	query := `SELECT batch_id, package, version, job, status, error, applied_at, duration_ns FROM apply_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY applied_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []engine.HistoryRecord
	for rows.Next() {
		var (
			rec       engine.HistoryRecord
			job       string
			appliedAt int64
			duration  int64
		)
		if err := rows.Scan(&rec.BatchID, &rec.Package, &rec.Version, &job, &rec.Status, &rec.Error, &appliedAt, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.Job = recipe.Job(job)
		rec.AppliedAt = time.Unix(0, appliedAt).UTC()
		rec.Duration = time.Duration(duration)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return out, nil
}

// Prune deletes records applied before cutoff and returns how many were
// removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM apply_history WHERE applied_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}
