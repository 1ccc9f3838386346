package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/stepflow/stepflow/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.StateStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration. Zero pool settings fall back
// to the defaults in Init.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
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

// CreateRun records a newly started run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *engine.ExecutionRun) error {
	query := `
		INSERT INTO runs (id, framework_id, host, state, step_index, error, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.FrameworkID,
		run.Host,
		string(run.State),
		run.StepIndex,
		nil,
		run.StartedAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *engine.ExecutionRun) error {
	query := `
		UPDATE runs
		SET state = ?, step_index = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	var errMsg *string
	if run.Err != nil {
		msg := run.Err.Error()
		errMsg = &msg
	}

	result, err := s.db.ExecContext(ctx, query,
		string(run.State),
		run.StepIndex,
		errMsg,
		run.CompletedAt,
		time.Now(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// runRow is the scan target for run queries.
type runRow struct {
	ID          string
	FrameworkID string
	Host        string
	State       string
	StepIndex   int
	Error       *string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ListRuns lists recorded runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*engine.ExecutionRun, error) {
	query := `
		SELECT id, framework_id, host, state, step_index, error, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.ExecutionRun{}
	for rows.Next() {
		var r runRow
		if err := rows.Scan(&r.ID, &r.FrameworkID, &r.Host, &r.State, &r.StepIndex, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run := &engine.ExecutionRun{
			ID:          r.ID,
			FrameworkID: r.FrameworkID,
			Host:        r.Host,
			State:       engine.RunState(r.State),
			StepIndex:   r.StepIndex,
			StartedAt:   r.StartedAt,
		}
		if r.CompletedAt != nil {
			run.CompletedAt = *r.CompletedAt
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// GetRestartInfo returns the bookmark for (framework, host), or
// (nil, nil) when none exists.
func (s *SQLiteStore) GetRestartInfo(ctx context.Context, frameworkID, host string) (*engine.RestartInfo, error) {
	query := `
		SELECT framework_id, host, last_successful, inputs, outputs, defaults, updated_at
		FROM restart_info
		WHERE framework_id = ? AND host = ?
	`

	var (
		info                                  engine.RestartInfo
		inputsJSON, outputsJSON, defaultsJSON string
	)
	err := s.db.QueryRowContext(ctx, query, frameworkID, host).Scan(
		&info.FrameworkID,
		&info.Host,
		&info.LastSuccessful,
		&inputsJSON,
		&outputsJSON,
		&defaultsJSON,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get restart info: %w", err)
	}

	if err := decodeBindings(inputsJSON, &info.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode inputs: %w", err)
	}
	if err := decodeBindings(outputsJSON, &info.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}
	if err := decodeBindings(defaultsJSON, &info.Defaults); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}

	return &info, nil
}

// SaveRestartInfo upserts the bookmark for (framework, host). The
// last_successful index never moves backwards: the MAX in the upsert
// enforces the invariant at the storage layer.
func (s *SQLiteStore) SaveRestartInfo(ctx context.Context, info *engine.RestartInfo) error {
	inputsJSON, err := encodeBindings(info.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	outputsJSON, err := encodeBindings(info.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}
	defaultsJSON, err := encodeBindings(info.Defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}

	query := `
		INSERT INTO restart_info (framework_id, host, last_successful, inputs, outputs, defaults, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(framework_id, host) DO UPDATE SET
			last_successful = MAX(restart_info.last_successful, excluded.last_successful),
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			defaults = excluded.defaults,
			updated_at = excluded.updated_at
	`

	updatedAt := info.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, query,
		info.FrameworkID,
		info.Host,
		info.LastSuccessful,
		inputsJSON,
		outputsJSON,
		defaultsJSON,
		updatedAt,
	); err != nil {
		return fmt.Errorf("failed to save restart info: %w", err)
	}
	return nil
}

// DeleteRestartInfo removes the bookmark for (framework, host).
func (s *SQLiteStore) DeleteRestartInfo(ctx context.Context, frameworkID, host string) error {
	query := `DELETE FROM restart_info WHERE framework_id = ? AND host = ?`
	if _, err := s.db.ExecContext(ctx, query, frameworkID, host); err != nil {
		return fmt.Errorf("failed to delete restart info: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func encodeBindings(b engine.Bindings) (string, error) {
	if b == nil {
		return "{}", nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeBindings(data string, b *engine.Bindings) error {
	if data == "" {
		*b = engine.Bindings{}
		return nil
	}
	return json.Unmarshal([]byte(data), b)
}

var _ engine.StateStore = (*SQLiteStore)(nil)
