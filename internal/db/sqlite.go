// Package db persists recording sessions and their samples in SQLite.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// DB wraps the sqlite connection.
type DB struct {
	SQL *sql.DB
}

// Session is one recording run.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Note      string     `json:"note,omitempty"`
	Samples   int        `json:"samples"`
}

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(path string) (*DB, error) {
	if path == "" {
		path = filepath.Join("data", "weighd.sqlite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // single writer; also keeps one :memory: database
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA foreign_keys=ON`} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	d := &DB{SQL: sqlDB}
	if err := d.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.SQL.Close()
}

func (d *DB) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			stopped_at  INTEGER,
			note        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS samples (
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL,
			total       REAL NOT NULL,
			received_at TEXT NOT NULL DEFAULT '{}',
			devices     TEXT NOT NULL DEFAULT '{}',
			groups_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := d.SQL.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// StartSession creates a new open session.
func (d *DB) StartSession(ctx context.Context, note string) (Session, error) {
	s := Session{ID: uuid.NewString(), StartedAt: time.Now(), Note: note}
	_, err := d.SQL.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, note) VALUES (?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), s.Note)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// StopSession marks a session finished.
func (d *DB) StopSession(ctx context.Context, id string) error {
	res, err := d.SQL.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ? WHERE id = ? AND stopped_at IS NULL`,
		time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := d.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// InsertSample appends one sample to a session.
func (d *DB) InsertSample(ctx context.Context, sessionID string, s model.RecordedSample) error {
	rx, err := json.Marshal(s.ReceivedAt)
	if err != nil {
		return err
	}
	devices, err := json.Marshal(s.Devices)
	if err != nil {
		return err
	}
	groups, err := json.Marshal(s.Groups)
	if err != nil {
		return err
	}
	_, err = d.SQL.ExecContext(ctx,
		`INSERT OR REPLACE INTO samples (session_id, seq, recorded_at, total, received_at, devices, groups_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, s.Seq, s.RecordedAt.UnixNano(), s.Total, string(rx), string(devices), string(groups))
	if err != nil {
		return fmt.Errorf("insert sample %d: %w", s.Seq, err)
	}
	return nil
}

const sessionCols = `s.id, s.started_at, s.stopped_at, s.note,
	(SELECT COUNT(*) FROM samples WHERE session_id = s.id)`

func scanSession(scan func(dest ...any) error) (Session, error) {
	var (
		s       Session
		started int64
		stopped sql.NullInt64
	)
	if err := scan(&s.ID, &started, &stopped, &s.Note, &s.Samples); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started)
	if stopped.Valid {
		t := time.Unix(0, stopped.Int64)
		s.StoppedAt = &t
	}
	return s, nil
}

// GetSession returns one session.
func (d *DB) GetSession(ctx context.Context, id string) (Session, error) {
	row := d.SQL.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions s WHERE s.id = ?`, id)
	s, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// LatestSession returns the most recently started session.
func (d *DB) LatestSession(ctx context.Context) (Session, error) {
	row := d.SQL.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions s ORDER BY s.started_at DESC LIMIT 1`)
	s, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("latest session: %w", err)
	}
	return s, nil
}

// ListSessions returns sessions, newest first.
func (d *DB) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := d.SQL.QueryContext(ctx, `SELECT `+sessionCols+` FROM sessions s ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SessionSamples returns a session's samples in sequence order.
func (d *DB) SessionSamples(ctx context.Context, id string) ([]model.RecordedSample, error) {
	if _, err := d.GetSession(ctx, id); err != nil {
		return nil, err
	}
	rows, err := d.SQL.QueryContext(ctx,
		`SELECT seq, recorded_at, total, received_at, devices, groups_json
		FROM samples WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	out := []model.RecordedSample{}
	for rows.Next() {
		var (
			s                   model.RecordedSample
			at                  int64
			rx, devices, groups string
		)
		if err := rows.Scan(&s.Seq, &at, &s.Total, &rx, &devices, &groups); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.RecordedAt = time.Unix(0, at)
		if err := json.Unmarshal([]byte(rx), &s.ReceivedAt); err != nil {
			return nil, fmt.Errorf("decode received_at: %w", err)
		}
		if err := json.Unmarshal([]byte(devices), &s.Devices); err != nil {
			return nil, fmt.Errorf("decode devices: %w", err)
		}
		if err := json.Unmarshal([]byte(groups), &s.Groups); err != nil {
			return nil, fmt.Errorf("decode groups: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its samples.
func (d *DB) DeleteSession(ctx context.Context, id string) error {
	res, err := d.SQL.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
