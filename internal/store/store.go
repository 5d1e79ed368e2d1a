// Package store persists workflow sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

//go:embed schema.sql
var schema string

// Store is a workflow.SessionStore backed by SQLite. The full session is
// kept as JSON; task, status and phase are columns for filtering.
type Store struct {
	db *sql.DB
}

var _ workflow.SessionStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts sess and appends any transitions not yet recorded.
func (s *Store) Save(ctx context.Context, sess *workflow.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, task, status, phase, done, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			done = excluded.done,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		sess.ID, string(sess.Task), string(sess.Status), string(sess.Phase), sess.Done(),
		string(data), sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}

	for i, t := range sess.History {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO transitions (session_id, seq, from_status, to_status, phase, reason, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, i, string(t.From), string(t.To), string(t.Phase), t.Reason, t.At.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to record transition %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sess.ID, err)
	}
	return nil
}

// Get returns the session with id.
func (s *Store) Get(ctx context.Context, id string) (*workflow.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return decode(data)
}

// List returns sessions matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter workflow.ListFilter) ([]*workflow.Session, error) {
	var (
		where []string
		args  []any
	)
	if filter.Task != "" {
		where = append(where, "task = ?")
		args = append(args, string(filter.Task))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT data FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.query(ctx, query, args...)
}

// ActiveForTask returns the unfinished session for task, or nil.
func (s *Store) ActiveForTask(ctx context.Context, task workflow.TaskRef) (*workflow.Session, error) {
	sessions, err := s.query(ctx,
		`SELECT data FROM sessions WHERE task = ? AND done = 0 ORDER BY updated_at DESC LIMIT 1`, string(task))
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// Delete removes a session and its transitions.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrSessionNotFound, id)
	}
	return nil
}

// Transitions returns the recorded status transitions of a session in order.
func (s *Store) Transitions(ctx context.Context, id string) ([]workflow.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_status, to_status, phase, reason, at
		FROM transitions WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []workflow.Transition
	for rows.Next() {
		var (
			t        workflow.Transition
			from, to string
			phase    string
			at       int64
		)
		if err := rows.Scan(&from, &to, &phase, &t.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From = workflow.Status(from)
		t.To = workflow.Status(to)
		t.Phase = workflow.Phase(phase)
		t.At = time.Unix(0, at).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*workflow.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func decode(data string) (*workflow.Session, error) {
	var sess workflow.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}
