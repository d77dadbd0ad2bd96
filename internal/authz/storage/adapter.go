// Package storage defines the Storage Adapter contract: the opaque
// capability every other authz package depends on for relational queries
// and single-key KV access. No package under internal/authz may import a
// concrete database driver directly — only storage/sqlite and
// storage/memadapter are allowed to, and everything else goes through
// this interface.
package storage

import (
	"context"
	"time"
)

// Row is one result row, column name to value.
type Row map[string]any

// ExecResult reports the effect of a write statement.
type ExecResult struct {
	Changes   int64
	LastRowID int64
}

// Adapter is the capability surface the core consumes. Queries are
// read-only and side-effect free; Execute is atomic for a single
// statement. The adapter exposes no transactions — higher-level
// atomicity is achieved by single-statement, idempotent updates (see
// internal/authz/surs and internal/authz/rotation).
//
// Implementations do not inspect statement text and do not reject SQL
// that inlines caller-supplied values; every caller in this module passes
// values as positional params.
type Adapter interface {
	Query(ctx context.Context, query string, params ...any) ([]Row, error)
	Execute(ctx context.Context, stmt string, params ...any) (ExecResult, error)
	KVGet(ctx context.Context, key string) ([]byte, bool, error)
	KVPut(ctx context.Context, key string, value []byte, ttl time.Duration) error
	KVDelete(ctx context.Context, key string) error
	// KVKeys lists every live (non-expired) KV key, for rare bulk
	// scan-and-delete operations. O(n) over the KV table; not meant for
	// the request path.
	KVKeys(ctx context.Context) ([]string, error)
}
