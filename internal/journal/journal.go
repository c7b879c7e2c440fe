package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// recordTimeout bounds a single insert made from Observe.
	recordTimeout = 2 * time.Second

	// timeLayout is fixed-width so occurred_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Errors returned by the journal.
var (
	ErrConnectionRequired = errors.New("journal: connection name is required")
	ErrInvalidRetention   = errors.New("journal: retention must be positive")
)

// Entry is one row of the connection journal.
type Entry struct {
	ID         int64     `json:"id"`
	Connection string    `json:"connection"`
	Kind       string    `json:"kind"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	RetryCount int       `json:"retryCount"`
	DelayMs    int64     `json:"delayMs,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Journal persists connection lifecycle events in the connection_events
// table.
type Journal struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger connection.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger used for failed writes from Observe.
func WithLogger(logger connection.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithClock replaces the clock used for pruning cutoffs.
func WithClock(clock clockwork.Clock) Option {
	return func(j *Journal) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// New creates a journal on an open, migrated database.
func New(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:     db,
		clock:  clockwork.NewRealClock(),
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record inserts an entry. A zero OccurredAt is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Connection == "" {
		return ErrConnectionRequired
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = j.clock.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO connection_events
		 (connection, kind, from_state, to_state, retry_count, delay_ms, error, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Connection,
		e.Kind,
		nullString(e.From),
		e.To,
		e.RetryCount,
		e.DelayMs,
		nullString(e.Error),
		e.OccurredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("journal: inserting event: %w", err)
	}
	return nil
}

// List returns the most recent entries for a connection, newest first.
// An empty name lists every connection. limit defaults to 50 and is capped
// at 200.
func (j *Journal) List(ctx context.Context, name string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, connection, kind, from_state, to_state, retry_count, delay_ms, error, occurred_at
		 FROM connection_events`
	args := []any{}
	if name != "" {
		query += " WHERE connection = ?"
		args = append(args, name)
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: querying events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			from, msg  sql.NullString
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.Connection, &e.Kind, &from, &e.To, &e.RetryCount, &e.DelayMs, &msg, &occurredAt); err != nil {
			return nil, fmt.Errorf("journal: scanning event: %w", err)
		}
		e.From = from.String
		e.Error = msg.String

		e.OccurredAt, err = time.Parse(timeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("journal: parsing occurred_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating events: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the retention window and returns the
// number removed.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := j.clock.Now().Add(-olderThan).UTC().Format(timeLayout)
	result, err := j.db.ExecContext(ctx, "DELETE FROM connection_events WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: deleting events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: checking rows affected: %w", err)
	}
	return n, nil
}

// Observe records state changes, scheduled retries and transport errors.
// It is meant to be registered as a connection observer; write failures
// are logged, never returned.
func (j *Journal) Observe(ev connection.Event) {
	e, ok := entryFor(ev)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := j.Record(ctx, e); err != nil {
		j.logger.Warn("journal write failed", "connection", ev.Name, "kind", ev.Kind.String(), "error", err)
	}
}

func entryFor(ev connection.Event) (Entry, bool) {
	e := Entry{
		Connection: ev.Name,
		Kind:       ev.Kind.String(),
		To:         ev.Status.State.String(),
		RetryCount: ev.Status.Retry.Count,
		OccurredAt: ev.Time,
	}

	switch ev.Kind {
	case connection.EventStateChanged:
		e.From = ev.From.String()
		if ev.Status.LastError != nil {
			e.Error = ev.Status.LastError.Error()
		}
	case connection.EventRetryScheduled:
		e.DelayMs = ev.Delay.Milliseconds()
	case connection.EventError:
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
	default:
		return Entry{}, false
	}
	return e, true
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
