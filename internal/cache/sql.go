package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediagate/internal/db"
	"mediagate/internal/domain"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cache_entries_expires ON cache_entries (expires_at)`,
}

// SQLStore is a TTL cache persisted in libSQL, so entries survive restarts
// and can be shared by several gateway processes through a remote database.
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// SQLOption configures SQLStore.
type SQLOption func(*SQLStore)

// WithSQLClock injects a clock for deterministic tests.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQL connects to dsn and prepares the cache table.
func OpenSQL(ctx context.Context, dsn string, ttl time.Duration, opts ...SQLOption) (*SQLStore, error) {
	conn, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	s, err := NewSQLStore(ctx, conn, ttl, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore prepares the cache table on an existing connection.
func NewSQLStore(ctx context.Context, conn *sql.DB, ttl time.Duration, opts ...SQLOption) (*SQLStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := db.Migrate(ctx, conn, schema...); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	s := &SQLStore{db: conn, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.now().Add(s.ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLStore) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error { return s.db.Close() }

var _ domain.Cache = (*SQLStore)(nil)
