// Package archive persists finished interviews to PostgreSQL for the
// applicant-tracking side of the platform. The engine itself is purely
// in-memory; archiving is optional and enabled by configuring a DSN.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirevoice/hirevoice/internal/interview"
)

// Record is one archived interview.
type Record struct {
	SessionID  string
	ScriptID   string
	Phase      string
	Progress   int
	Completed  bool // false when the session was aborted
	FinishedAt time.Time
	Turns      []interview.TurnMessage
}

// ErrNotFound is returned by Get for an unknown session ID.
var ErrNotFound = errors.New("archive: interview not found")

// Store is the PostgreSQL-backed interview archive. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// migrate creates the archive tables when missing.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS interviews (
		    session_id  TEXT PRIMARY KEY,
		    script_id   TEXT        NOT NULL,
		    phase       TEXT        NOT NULL,
		    progress    INT         NOT NULL,
		    completed   BOOLEAN     NOT NULL,
		    finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS interview_turns (
		    session_id TEXT        NOT NULL REFERENCES interviews(session_id) ON DELETE CASCADE,
		    idx        INT         NOT NULL,
		    speaker    TEXT        NOT NULL,
		    text       TEXT        NOT NULL,
		    spoken_at  TIMESTAMPTZ NOT NULL,
		    PRIMARY KEY (session_id, idx)
		);`
	_, err := pool.Exec(ctx, schema)
	return err
}

// Save writes one finished interview and its turns in a single transaction.
// Saving the same session ID again replaces the previous record.
func (s *Store) Save(ctx context.Context, rec Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO interviews (session_id, script_id, phase, progress, completed, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
		    script_id = EXCLUDED.script_id, phase = EXCLUDED.phase,
		    progress = EXCLUDED.progress, completed = EXCLUDED.completed,
		    finished_at = EXCLUDED.finished_at`
	if _, err := tx.Exec(ctx, upsert,
		rec.SessionID, rec.ScriptID, rec.Phase, rec.Progress, rec.Completed, rec.FinishedAt,
	); err != nil {
		return fmt.Errorf("archive: save interview: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM interview_turns WHERE session_id = $1`, rec.SessionID); err != nil {
		return fmt.Errorf("archive: clear turns: %w", err)
	}
	for i, turn := range rec.Turns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO interview_turns (session_id, idx, speaker, text, spoken_at)
			VALUES ($1, $2, $3, $4, $5)`,
			rec.SessionID, i, string(turn.Speaker), turn.Text, turn.Timestamp,
		); err != nil {
			return fmt.Errorf("archive: save turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Get loads one archived interview with its turns in chronological order.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	rec := &Record{SessionID: sessionID}
	err := s.pool.QueryRow(ctx, `
		SELECT script_id, phase, progress, completed, finished_at
		FROM   interviews
		WHERE  session_id = $1`, sessionID,
	).Scan(&rec.ScriptID, &rec.Phase, &rec.Progress, &rec.Completed, &rec.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get interview: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT speaker, text, spoken_at
		FROM   interview_turns
		WHERE  session_id = $1
		ORDER  BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: get turns: %w", err)
	}
	rec.Turns, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (interview.TurnMessage, error) {
		var (
			t       interview.TurnMessage
			speaker string
		)
		if err := row.Scan(&speaker, &t.Text, &t.Timestamp); err != nil {
			return interview.TurnMessage{}, err
		}
		t.Speaker = interview.Speaker(speaker)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: collect turns: %w", err)
	}
	return rec, nil
}

// Ping reports database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
