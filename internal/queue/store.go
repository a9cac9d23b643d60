package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"finalcut/internal/config"
)

// Store manages job persistence backed by SQLite or Postgres.
type Store struct {
	db     *sql.DB
	driver string
	path   string
	now    func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for leases, retries, and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open connects to the job repository selected by cfg.Database.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "", config.DriverSQLite:
		return OpenSQLite(cfg.DatabasePath(), opts...)
	case config.DriverPostgres:
		return OpenPostgres(cfg.Database.DSN, opts...)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite job database at path.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return newStore(db, config.DriverSQLite, path, opts)
}

// OpenPostgres connects to a Postgres job database.
func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return newStore(db, config.DriverPostgres, "", opts)
}

func newStore(db *sql.DB, driver, path string, opts []Option) (*Store, error) {
	store := &Store{db: db, driver: driver, path: path, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ensureContext(ctx))
}

// Driver returns the configured driver name.
func (s *Store) Driver() string { return s.driver }

// Path returns the SQLite file path, or "" for Postgres.
func (s *Store) Path() string { return s.path }

// Now returns the store clock's current time in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	query = s.rebind(query)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// inTx runs fn inside a transaction, retrying the whole transaction when
// SQLite reports the database busy.
func (s *Store) inTx(ctx context.Context, fn func(tx *txn) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		tx := &txn{Tx: sqlTx, store: s, ctx: ctx}
		if err := fn(tx); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// txn binds a transaction to the store's placeholder style.
type txn struct {
	*sql.Tx
	store *Store
	ctx   context.Context
}

func (t *txn) exec(query string, args ...any) (sql.Result, error) {
	return t.ExecContext(t.ctx, t.store.rebind(query), args...)
}

func (t *txn) queryRow(query string, args ...any) *sql.Row {
	return t.QueryRowContext(t.ctx, t.store.rebind(query), args...)
}

func (t *txn) query(query string, args ...any) (*sql.Rows, error) {
	return t.QueryContext(t.ctx, t.store.rebind(query), args...)
}
