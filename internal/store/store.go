// Package store keeps a durable progress log of training sessions in SQLite:
// one row per session and one row per notification it produced.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
)

var ErrUnknownSession = errors.New("unknown session")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id        TEXT PRIMARY KEY,
	scenario  TEXT NOT NULL,
	started   TIMESTAMP NOT NULL,
	finished  TIMESTAMP,
	completed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS notifications (
	session TEXT NOT NULL REFERENCES sessions(id),
	seq     INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	source  TEXT NOT NULL,
	at      REAL NOT NULL,
	payload TEXT,
	PRIMARY KEY (session, seq)
);`

type Store struct {
	db  *sql.DB
	log log.Log
}

// Entry is one recorded notification; At is simulation time in seconds.
type Entry struct {
	Seq     int             `json:"seq"`
	Kind    string          `json:"kind"`
	Source  string          `json:"source"`
	At      float64         `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Session struct {
	ID        string     `json:"id"`
	Scenario  string     `json:"scenario"`
	Started   time.Time  `json:"started"`
	Finished  *time.Time `json:"finished,omitempty"`
	Completed bool       `json:"completed"`
}

// Open creates the database file and its tables when missing.
func Open(path string, logger log.Log) (*Store, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if path == "" {
		path = "cabintrainer.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the recorder runs on the simulation goroutine anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, log: logger.With(log.String("component", "store"))}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Begin registers a session and returns a recorder for its notifications.
// clock reports the simulation time stamped on each row.
func (s *Store) Begin(ctx context.Context, session, scenario string, clock func() float64) (*Recorder, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, scenario, started) VALUES (?, ?, ?)`,
		session, scenario, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert session %s: %w", session, err)
	}
	return &Recorder{store: s, session: session, clock: clock}, nil
}

// Finish marks a session as ended.
func (s *Store) Finish(ctx context.Context, session string, completed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET finished = ?, completed = ? WHERE id = ?`,
		time.Now().UTC(), completed, session)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", session, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, session)
	}
	return nil
}

// History returns the notifications of a session in publication order.
func (s *Store) History(ctx context.Context, session string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, source, at, payload FROM notifications WHERE session = ? ORDER BY seq`,
		session)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Source, &e.At, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions lists recorded sessions, most recent first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario, started, finished, completed FROM sessions ORDER BY started DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var (
			ss       Session
			finished sql.NullTime
		)
		if err := rows.Scan(&ss.ID, &ss.Scenario, &ss.Started, &finished, &ss.Completed); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			ss.Finished = &t
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

var _ bus.EventBusObserver = (*Recorder)(nil)

// Recorder appends every published notification of one session. Observers
// cannot fail a publication, so the first write error is kept for Err.
type Recorder struct {
	store   *Store
	session string
	clock   func() float64

	mu  sync.Mutex
	seq int
	err error
}

func (r *Recorder) OnPublish(_, eventType string, event bus.Event) {
	var payload sql.NullString
	if data := event.Data(); data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			payload = sql.NullString{String: string(raw), Valid: true}
		}
	}
	at := 0.0
	if r.clock != nil {
		at = r.clock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.store.db.Exec(
		`INSERT INTO notifications (session, seq, kind, source, at, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		r.session, r.seq, eventType, event.Source(), at, payload)
	if err != nil {
		if r.err == nil {
			r.err = err
			r.store.log.Error("recording notification failed", log.String("session", r.session), log.Error(err))
		}
		return
	}
	r.seq++
}

func (r *Recorder) OnDelivered(string, string, int, error, time.Duration) {}

func (r *Recorder) Session() string { return r.session }

// Err returns the first write failure, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
