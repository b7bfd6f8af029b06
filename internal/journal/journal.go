// Package journal keeps an append-only SQLite record of handled commands,
// forward requests and status events.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/status"
)

// Kind tags a journal entry.
type Kind string

const (
	KindCommand Kind = "command"
	KindForward Kind = "forward"
	KindStatus  Kind = "status"
)

// DefaultLimit caps Recent when no positive limit is given.
const DefaultLimit = 100

// Entry is one journal row.
type Entry struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Name is the verb for commands and forwards, the event kind for status.
	Name   string          `json:"name"`
	State  string          `json:"state,omitempty"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Detail json.RawMessage `json:"detail,omitempty"`
	At     time.Time       `json:"at"`
}

// Store is a SQLite-backed journal.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	clock  clockwork.Clock
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithClock(c clockwork.Clock) Option { return func(s *Store) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// Open opens or creates the journal at path. Use ":memory:" for a
// throwaway journal.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryJournal, "failed to open journal").
			WithContext("path", path).Build()
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, clock: clockwork.NewRealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryJournal, "failed to initialize journal schema").
			WithContext("path", path).Build()
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		state TEXT,
		ok INTEGER NOT NULL,
		error TEXT,
		detail BLOB,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_at ON entries(at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores e, assigning an ID and timestamp when they are unset.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (id, kind, name, state, ok, error, detail, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, string(e.Kind), e.Name, e.State, e.OK, e.Error, []byte(e.Detail), e.At.UnixNano(),
	)
	if err != nil {
		return e, ferrors.WrapError(err, ferrors.CategoryJournal, "failed to append journal entry").
			WithContext("kind", string(e.Kind)).Build()
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, name, state, ok, error, detail, at FROM entries ORDER BY seq DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryJournal, "failed to query journal").Build()
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			kind        string
			state, errS sql.NullString
			detail      []byte
			atUnixNanos int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &state, &e.OK, &errS, &detail, &atUnixNanos); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryJournal, "failed to scan journal entry").Build()
		}
		e.Kind = Kind(kind)
		e.State = state.String
		e.Error = errS.String
		if len(detail) > 0 {
			e.Detail = json.RawMessage(detail)
		}
		e.At = time.Unix(0, atUnixNanos).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryJournal, "failed to iterate journal").Build()
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryJournal, "failed to count journal entries").Build()
	}
	return n, nil
}

// RecordCommand journals a lifecycle result.
func (s *Store) RecordCommand(ctx context.Context, r lifecycle.Result) error {
	detail, err := json.Marshal(r)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal command result").Build()
	}
	e := Entry{
		ID:     r.ID,
		Kind:   KindCommand,
		Name:   string(r.Verb),
		State:  r.State.String(),
		OK:     r.Err == nil && r.Succeeded,
		Detail: detail,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	_, err = s.Append(ctx, e)
	return err
}

// RecordForward journals a routed forward request and its outcome.
func (s *Store) RecordForward(ctx context.Context, res forward.RouteResult, routeErr error) error {
	detail, err := json.Marshal(res)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal route result").Build()
	}
	e := Entry{
		Kind:   KindForward,
		Name:   res.Verb,
		OK:     routeErr == nil && len(res.Errors) == 0,
		Detail: detail,
	}
	switch {
	case routeErr != nil:
		e.Error = routeErr.Error()
	case len(res.Errors) > 0:
		e.Error = res.Errors[0].Error()
	}
	_, err = s.Append(ctx, e)
	return err
}

// OnEvent journals a status event. It implements status.Listener.
func (s *Store) OnEvent(ev status.Event) {
	detail, _ := json.Marshal(ev)
	_, err := s.Append(context.Background(), Entry{
		Kind:   KindStatus,
		Name:   string(ev.Kind),
		State:  ev.State.String(),
		OK:     ev.Kind != status.KindException,
		Detail: detail,
		At:     ev.At,
	})
	if err != nil {
		s.logger.Warn("Failed to journal status event", logfields.Event(string(ev.Kind)), logfields.Error(err))
	}
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
