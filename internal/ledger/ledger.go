// Package ledger records submitted jobs in a local SQLite database so their
// results can be collected later.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// State is where a recorded run ended up.
type State string

const (
	StateSubmitted State = "submitted"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

// Record is one row of the ledger.
type Record struct {
	RunID     string
	JobID     string
	PoolID    string
	State     State
	Data      []byte
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ledger is a SQLite-backed run history.
type Ledger struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open creates or opens the database at path and applies migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		schema, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := l.db.Exec(string(schema)); err != nil {
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) Ping(ctx context.Context) error {
	if l.db == nil {
		return errors.New("db not initialized")
	}
	return l.db.PingContext(ctx)
}

// Begin records a new run in the submitted state and returns its id.
func (l *Ledger) Begin(ctx context.Context, jobID, poolID string, data []byte) (string, error) {
	id := uuid.NewString()
	now := time.Now().UnixNano()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, job_id, pool_id, state, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, jobID, poolID, string(StateSubmitted), data, now, now)
	if err != nil {
		return "", fmt.Errorf("record run %s: %w", jobID, err)
	}
	return id, nil
}

// Finish moves a run to its final state.
func (l *Ledger) Finish(ctx context.Context, runID string, state State, errMsg string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error = ?, updated_at = ? WHERE run_id = ?`,
		string(state), errMsg, time.Now().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// Latest returns the most recent run of jobID.
func (l *Ledger) Latest(ctx context.Context, jobID string) (Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT run_id, job_id, pool_id, state, data, error, created_at, updated_at
		 FROM runs WHERE job_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, jobID)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return r, err
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, job_id, pool_id, state, data, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var (
		r                Record
		state            string
		created, updated int64
	)
	if err := s.Scan(&r.RunID, &r.JobID, &r.PoolID, &state, &r.Data, &r.Error, &created, &updated); err != nil {
		return Record{}, err
	}
	r.State = State(state)
	r.CreatedAt = time.Unix(0, created)
	r.UpdatedAt = time.Unix(0, updated)
	return r, nil
}
