// Package store provides durable run metadata and the per-run append-only
// event log on SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/draftmill/orchestrator/internal/domain"
)

// Store is the persistence contract for runs and their event logs.
type Store interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	// TransitionRun moves a run forward through the state machine. It
	// returns false without error when the run is already terminal or the
	// transition would move backwards.
	TransitionRun(ctx context.Context, runID string, status domain.RunStatus) (bool, error)
	// CompleteRun sets a terminal status together with the compiled result
	// and/or error payload, under the same terminal-state guard.
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus, result string, errData []byte) (bool, error)
	MergeRunMetadata(ctx context.Context, runID string, meta map[string]string) error
	RetireRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, ownerID string, limit int) ([]domain.Run, error)

	// AppendEvent assigns the next sequence id for the run and stores the
	// event. Only the run's owning executor may call it for a given run.
	AppendEvent(ctx context.Context, runID string, typ domain.EventType, payload []byte) (int64, error)
	// EventsSince returns events with seq > afterSeq, ascending.
	EventsSince(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			goal TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			document TEXT,
			result TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			retired_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_owner ON runs(owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	metadata, _ := json.Marshal(run.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, owner_id, goal, mode, status, document, result, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.OwnerID, run.Goal, run.Mode, run.Status,
		nullString(run.Document), nullString(run.Result), string(metadata),
		run.CreatedAt, run.UpdatedAt)
	return err
}

// GetRun retrieves a run by ID. Returns (nil, nil) when not found.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	var document, result, metadata sql.NullString
	var retiredAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, owner_id, goal, mode, status, document, result, metadata, created_at, updated_at, retired_at
		 FROM runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.OwnerID, &run.Goal, &run.Mode, &run.Status,
		&document, &result, &metadata, &run.CreatedAt, &run.UpdatedAt, &retiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if document.Valid {
		run.Document = document.String
	}
	if result.Valid {
		run.Result = result.String
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode run metadata: %w", err)
		}
	}
	if retiredAt.Valid {
		run.RetiredAt = &retiredAt.Time
	}
	return &run, nil
}

// TransitionRun performs a guarded, forward-only status update. The guard
// lives in the WHERE clause so a concurrent cancel or watchdog write can
// never be overwritten: terminal states are sinks.
func (s *SQLiteStore) TransitionRun(ctx context.Context, runID string, status domain.RunStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ?
		 WHERE run_id = ?
		   AND status NOT IN ('completed', 'failed', 'cancelled')
		   AND NOT (status = 'running' AND ? = 'planning')`,
		status, time.Now(), runID, status)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompleteRun sets a terminal status with result and error payload. A run
// that is already terminal is left untouched.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status domain.RunStatus, result string, errData []byte) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("CompleteRun requires a terminal status, got %s", status)
	}
	now := time.Now()
	var update string
	args := []interface{}{status, now}
	if errData != nil {
		update = `UPDATE runs SET status = ?, updated_at = ?, result = ?, metadata = json_set(COALESCE(metadata, '{}'), '$.error', ?)`
		args = append(args, nullString(result), string(errData))
	} else {
		update = `UPDATE runs SET status = ?, updated_at = ?, result = ?`
		args = append(args, nullString(result))
	}
	update += ` WHERE run_id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`
	args = append(args, runID)

	res, err := s.db.ExecContext(ctx, update, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MergeRunMetadata merges the given keys into the run's metadata map.
func (s *SQLiteStore) MergeRunMetadata(ctx context.Context, runID string, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	merged := run.Metadata
	if merged == nil {
		merged = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET metadata = ?, updated_at = ? WHERE run_id = ?`,
		string(encoded), time.Now(), runID)
	return err
}

// RetireRun soft-retires a run. Runs are never deleted.
func (s *SQLiteStore) RetireRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET retired_at = ?, updated_at = ? WHERE run_id = ? AND retired_at IS NULL`,
		time.Now(), time.Now(), runID)
	return err
}

// ListRuns lists runs for an owner, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, ownerID string, limit int) ([]domain.Run, error) {
	query := `SELECT run_id, owner_id, goal, mode, status, document, result, metadata, created_at, updated_at, retired_at
		 FROM runs WHERE owner_id = ? AND retired_at IS NULL ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		var document, result, metadata sql.NullString
		var retiredAt sql.NullTime
		if err := rows.Scan(&run.RunID, &run.OwnerID, &run.Goal, &run.Mode, &run.Status,
			&document, &result, &metadata, &run.CreatedAt, &run.UpdatedAt, &retiredAt); err != nil {
			return nil, err
		}
		if document.Valid {
			run.Document = document.String
		}
		if result.Valid {
			run.Result = result.String
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			_ = json.Unmarshal([]byte(metadata.String), &run.Metadata)
		}
		if retiredAt.Valid {
			run.RetiredAt = &retiredAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendEvent assigns the next per-run sequence id inside a transaction and
// inserts the event. Safe under the single-writer-per-run invariant; the
// transaction keeps concurrent readers on a consistent prefix.
func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, typ domain.EventType, payload []byte) (int64, error) {
	if typ == domain.EventTypePing {
		return 0, fmt.Errorf("ping events are transport-only and are not stored")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id = ?`, runID).Scan(&last); err != nil {
		return 0, err
	}
	seq := last + 1

	body := ""
	if payload != nil {
		body = string(payload)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, time.Now().UnixMilli(), typ, body); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// EventsSince retrieves events for a run with seq > afterSeq, ascending.
func (s *SQLiteStore) EventsSince(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	query := `SELECT run_id, seq, ts, type, payload FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.RunID, &event.Seq, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
