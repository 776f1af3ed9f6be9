package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/acauret/infrastructure-agent/archive"
	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/event"
)

// PostgresStore implements archive.Store using PostgreSQL. The event log is
// stored as a JSONB column; runs are only ever written whole.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "infra_agent",
		SSLMode:  "disable",
	}
}

// NewPostgresStore creates a PostgreSQL-backed run store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping PostgreSQL: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.createTable(context.Background()); err != nil {
		return nil, fmt.Errorf("store: create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR(255) PRIMARY KEY,
		prompt TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		events JSONB NOT NULL,
		transcript TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// SaveRun writes a run, replacing any existing run with the same ID.
func (s *PostgresStore) SaveRun(ctx context.Context, run *archive.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("store: run and run ID are required")
	}

	eventsJSON, err := json.Marshal(run.Events)
	if err != nil {
		return fmt.Errorf("store: marshal events: %w", err)
	}

	query := `
	INSERT INTO runs (id, prompt, started_at, completed_at, events, transcript)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		prompt = EXCLUDED.prompt,
		started_at = EXCLUDED.started_at,
		completed_at = EXCLUDED.completed_at,
		events = EXCLUDED.events,
		transcript = EXCLUDED.transcript
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.Prompt, run.StartedAt, run.CompletedAt, string(eventsJSON), run.Transcript)
	if err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	return nil
}

// LoadRun returns a run by ID.
func (s *PostgresStore) LoadRun(ctx context.Context, id string) (*archive.Run, error) {
	run := &archive.Run{}
	var eventsJSON string

	query := `SELECT id, prompt, started_at, completed_at, events, transcript FROM runs WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Prompt, &run.StartedAt, &run.CompletedAt, &eventsJSON, &run.Transcript)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: run %s: %w", id, agenterrors.ErrRunNotFound)
		}
		return nil, fmt.Errorf("store: load run: %w", err)
	}

	run.Events = []event.WireEvent{}
	if err := json.Unmarshal([]byte(eventsJSON), &run.Events); err != nil {
		return nil, fmt.Errorf("store: unmarshal events: %w", err)
	}
	return run, nil
}

// ListRuns returns all run IDs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY completed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}
	return ids, nil
}

// Ping checks if the PostgreSQL connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the PostgreSQL connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
