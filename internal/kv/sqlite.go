package kv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"kvrelay/internal/migrations"
	"kvrelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists entries in a single SQLite table. SQLite has no
// native expiry, so expired rows are filtered on read and removed by
// SweepExpired.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	scripts, err := migrations.All()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	for _, script := range scripts {
		if _, err := db.Exec(script); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	now := s.now()
	if value == nil {
		value = []byte{}
	}

	var expires sql.NullInt64
	if exp := expiresAt(now, opts.TTL); !exp.IsZero() {
		expires = sql.NullInt64{Int64: exp.UnixMilli(), Valid: true}
	}

	query := `
		INSERT INTO kv_entries (key, value, metadata, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			metadata = excluded.metadata,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, key, value, opts.Metadata, expires, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `
		SELECT value FROM kv_entries
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]ListEntry, error) {
	// LIMIT -1 means no limit in SQLite
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	// kv_entries.key uses BINARY collation, so range comparison on the
	// prefix matches Go's byte-wise ordering.
	query := `
		SELECT key, metadata FROM kv_entries
		WHERE key >= ? AND (? = '' OR key < ?)
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key ASC
		LIMIT ?
	`
	upper := prefixUpperBound(opts.Prefix)

	rows, err := s.db.QueryContext(ctx, query, opts.Prefix, upper, upper, s.now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %q: %w", opts.Prefix, err)
	}
	defer rows.Close()

	var entries []ListEntry
	for rows.Next() {
		var entry ListEntry
		if err := rows.Scan(&entry.Key, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan listed key: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listed keys: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SweepExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept entries: %w", err)
	}
	return int(removed), nil
}
