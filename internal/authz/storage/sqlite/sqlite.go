// Package sqlite is the reference storage.Adapter backed by SQLite,
// following the same database/sql + modernc.org/sqlite bootstrap used by
// the control plane's session and audit stores: WAL journal mode, a
// busy_timeout so concurrent writers queue instead of erroring, and a
// schema created on open.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/authrim-io/authrim/internal/authz/storage"
)

// Adapter wraps a *sql.DB as a storage.Adapter, adding a single
// kv_entries table for the KV surface.
type Adapter struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and ensures the KV
// table exists. The relational tables the components query are created by
// Bootstrap (schema.go).
func Open(path string) (*Adapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open authz db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv_entries: %w", err)
	}

	return &Adapter{db: db}, nil
}

// DB exposes the underlying handle so component-specific schema
// migrations (rebac tuples, policy rules, surs entries, …) can run their
// own CREATE TABLE IF NOT EXISTS against the same database file.
func (a *Adapter) DB() *sql.DB { return a.db }

// Close shuts down the underlying database handle.
func (a *Adapter) Close() error { return a.db.Close() }

// Query runs a read-only SELECT and maps rows to storage.Row by column name.
func (a *Adapter) Query(ctx context.Context, query string, params ...any) ([]storage.Row, error) {
	rows, err := a.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrWrap(err), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := storage.Row{}
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Execute runs a single write statement.
func (a *Adapter) Execute(ctx context.Context, stmt string, params ...any) (storage.ExecResult, error) {
	res, err := a.db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return storage.ExecResult{}, fmt.Errorf("%w: %v", storage.ErrWrap(err), err)
	}
	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return storage.ExecResult{Changes: changes, LastRowID: lastID}, nil
}

// KVGet fetches a value, treating an expired row as absent.
func (a *Adapter) KVGet(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullString
	)
	err := a.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_entries WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", storage.ErrWrap(err), err)
	}
	if expiresAt.Valid {
		exp, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil && time.Now().After(exp) {
			_, _ = a.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
			return nil, false, nil
		}
	}
	return value, true, nil
}

// KVPut upserts a value with an optional TTL (zero means no expiry).
func (a *Adapter) KVPut(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullString
	if ttl > 0 {
		expiresAt = sql.NullString{String: time.Now().Add(ttl).Format(time.RFC3339Nano), Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `INSERT INTO kv_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrWrap(err), err)
	}
	return nil
}

// KVDelete removes a key; deleting an absent key is not an error.
func (a *Adapter) KVDelete(ctx context.Context, key string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrWrap(err), err)
	}
	return nil
}

// KVKeys lists every non-expired key. Expired rows encountered along the
// way are opportunistically deleted, same as KVGet.
func (a *Adapter) KVKeys(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT key, expires_at FROM kv_entries`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrWrap(err), err)
	}
	defer rows.Close()

	now := time.Now()
	var keys []string
	var expired []string
	for rows.Next() {
		var key string
		var expiresAt sql.NullString
		if err := rows.Scan(&key, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			if exp, err := time.Parse(time.RFC3339Nano, expiresAt.String); err == nil && now.After(exp) {
				expired = append(expired, key)
				continue
			}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, key := range expired {
		_, _ = a.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
	}
	return keys, nil
}
