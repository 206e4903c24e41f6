// ABOUTME: SQLite mailbox transport where processes sharing one database file exchange envelopes
// ABOUTME: Senders append rows; every open transport polls for rows newer than its cursor

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/redub/internal/envelope"
	"github.com/2389/redub/internal/transport"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRetention    = time.Minute
)

// Option configures a Transport.
type Option func(*Transport)

// WithPollInterval sets how often the mailbox is checked for new rows.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithRetention sets how long rows are kept before being pruned.
func WithRetention(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithLogger sets the transport's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// Transport is a mailbox in a SQLite file. Every transport opened on the
// same file receives every envelope sent after it was opened, its own
// included.
type Transport struct {
	db        *sql.DB
	path      string
	poll      time.Duration
	retention time.Duration
	lastSeq   int64
	handlers  transport.Handlers
	ready     atomic.Bool
	logger    *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open opens or creates the mailbox at path and starts polling it.
// Parent directories are created if needed.
func Open(path string, opts ...Option) (*Transport, error) {
	t := &Transport{
		path:      path,
		poll:      DefaultPollInterval,
		retention: DefaultRetention,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "sqlite-transport", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	t.db = db

	if err := t.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Only envelopes sent from now on are delivered
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM envelopes`).Scan(&t.lastSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading cursor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.ready.Store(true)
	go t.run(ctx)

	t.logger.Info("sqlite transport opened", "cursor", t.lastSeq)
	return t, nil
}

func (t *Transport) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS envelopes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_envelopes_created_at
			ON envelopes(created_at);
	`
	_, err := t.db.Exec(schema)
	return err
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.fetch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				t.logger.Warn("polling mailbox", "error", err)
			}
			if err := t.prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				t.logger.Warn("pruning mailbox", "error", err)
			}
		}
	}
}

type row struct {
	seq  int64
	data string
}

// fetch dispatches every row past the cursor, in order.
func (t *Transport) fetch(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx,
		`SELECT seq, data FROM envelopes WHERE seq > ? ORDER BY seq`, t.lastSeq)
	if err != nil {
		return err
	}

	// Collect first so handlers run without holding a connection
	var batch []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.data); err != nil {
			rows.Close()
			return err
		}
		batch = append(batch, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range batch {
		t.lastSeq = r.seq
		env, err := envelope.Decode([]byte(r.data))
		if err != nil {
			t.logger.Warn("discarding malformed envelope", "seq", r.seq, "error", err)
			continue
		}
		t.handlers.Dispatch(env)
	}
	return nil
}

func (t *Transport) prune(ctx context.Context) error {
	cutoff := time.Now().Add(-t.retention).UnixMilli()
	res, err := t.db.ExecContext(ctx, `DELETE FROM envelopes WHERE created_at < ?`, cutoff)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.logger.Debug("pruned mailbox", "rows", n)
	}
	return nil
}

// String implements fmt.Stringer.
func (t *Transport) String() string {
	return "sqlite:" + t.path
}

// Ready reports whether the mailbox is open.
func (t *Transport) Ready() bool {
	return t.ready.Load()
}

// Send appends env to the mailbox.
func (t *Transport) Send(ctx context.Context, env envelope.Envelope) error {
	if !t.ready.Load() {
		return transport.ErrClosed
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, data, created_at) VALUES (?, ?, ?)`,
		env.ID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("appending %s: %w", env.ID, err)
	}
	return nil
}

// Subscribe registers h for inbound envelopes.
func (t *Transport) Subscribe(h envelope.Handler) func() {
	return t.handlers.Subscribe(h)
}

// Close stops polling and closes the database. It is safe to call multiple times.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.ready.Store(false)
		t.cancel()
		<-t.done
		err = t.db.Close()
		t.logger.Info("sqlite transport closed")
	})
	return err
}
