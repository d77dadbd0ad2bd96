// Package surs implements the single-use request store backing Pushed
// Authorization Requests and authorization codes: a generic
// consume-or-fail key/value store whose atomicity rides on the storage
// adapter's single-writer guarantee, the same way session.Store leans on
// SQLite for atomic last-active bookkeeping.
package surs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/authrim-io/authrim/internal/authz/errs"
	"github.com/authrim-io/authrim/internal/authz/storage"
	"go.uber.org/zap"
)

const tableName = "single_use_entries"

// HealthCounts summarizes the store's current row population.
type HealthCounts struct {
	Total    int64
	Consumed int64
	Expired  int64
	Active   int64
}

// Store is a generic single-use key/value store: Store writes an entry,
// Consume atomically marks-and-returns it exactly once.
type Store struct {
	sa     storage.Adapter
	mu     sync.Mutex // serializes same-process Consume calls against memadapter, which has no row locking of its own
	logger *zap.Logger
}

// NewStore builds a Store over sa.
func NewStore(sa storage.Adapter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{sa: sa, logger: logger}
}

// Store inserts a new single-use entry under key, bound to clientID, with
// the given payload and TTL.
func (s *Store) Store(ctx context.Context, key, clientID string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.sa.Execute(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, client_id, data, created_at, expires_at, consumed) VALUES (?, ?, ?, ?, ?, ?)`, tableName),
		key, clientID, data, now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano), 0,
	)
	if err != nil {
		return fmt.Errorf("%w: store %s: %v", errs.ErrStorageFailure, key, err)
	}
	return nil
}

// Consume atomically marks key as consumed and returns its payload. It
// fails with ErrNotFound if no such key exists, ErrExpired if the entry's
// TTL has passed, or ErrSingleUseViolation if the entry was already
// consumed or belongs to a different client.
func (s *Store) Consume(ctx context.Context, key, clientID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.sa.Execute(ctx,
		fmt.Sprintf(`UPDATE %s SET consumed = ? WHERE key = ? AND client_id = ? AND consumed = ? AND expires_at > ?`, tableName),
		1, key, clientID, 0, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: consume %s: %v", errs.ErrStorageFailure, key, err)
	}
	if res.Changes > 0 {
		rows, err := s.sa.Query(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE key = ?`, tableName), key)
		if err != nil {
			return nil, fmt.Errorf("%w: read consumed %s: %v", errs.ErrStorageFailure, key, err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: %s", errs.ErrInternal, key)
		}
		data, _ := rows[0]["data"].([]byte)
		return data, nil
	}

	return nil, s.classifyConsumeFailure(ctx, key, clientID, now)
}

// classifyConsumeFailure distinguishes why the atomic UPDATE touched no
// rows: absent, expired, already consumed, or a client_id mismatch —
// logged with distinct reasons so audit trails can discriminate.
func (s *Store) classifyConsumeFailure(ctx context.Context, key, clientID, now string) error {
	rows, err := s.sa.Query(ctx, fmt.Sprintf(`SELECT client_id, consumed, expires_at FROM %s WHERE key = ?`, tableName), key)
	if err != nil {
		return fmt.Errorf("%w: classify %s: %v", errs.ErrStorageFailure, key, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", errs.ErrNotFound, key)
	}

	row := rows[0]
	expiresAt, _ := row["expires_at"].(string)
	if expiresAt <= now {
		return fmt.Errorf("%w: %s", errs.ErrExpired, key)
	}

	rowClientID, _ := row["client_id"].(string)
	if rowClientID != clientID {
		s.logger.Warn("surs: consume rejected, client_id mismatch",
			zap.String("key", key), zap.String("expected_client", rowClientID))
		return fmt.Errorf("%w: %s (client mismatch)", errs.ErrSingleUseViolation, key)
	}

	s.logger.Warn("surs: consume rejected, already consumed", zap.String("key", key))
	return fmt.Errorf("%w: %s (already consumed)", errs.ErrSingleUseViolation, key)
}

// Get reads an entry's payload without consuming it.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rows, err := s.sa.Query(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE key = ?`, tableName), key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", errs.ErrStorageFailure, key, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	data, _ := rows[0]["data"].([]byte)
	return data, true, nil
}

// Delete removes an entry outright (used for explicit cancellation).
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.sa.Execute(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, tableName), key)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", errs.ErrStorageFailure, key, err)
	}
	return nil
}

// Health reports coarse population counts, a cheap read-only
// introspection in the style of events.Bus.SubscriberCount.
func (s *Store) Health(ctx context.Context) (HealthCounts, error) {
	rows, err := s.sa.Query(ctx, fmt.Sprintf(`SELECT consumed, expires_at FROM %s`, tableName))
	if err != nil {
		return HealthCounts{}, fmt.Errorf("%w: health: %v", errs.ErrStorageFailure, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var hc HealthCounts
	for _, row := range rows {
		hc.Total++
		consumed, _ := row["consumed"].(int)
		expiresAt, _ := row["expires_at"].(string)
		switch {
		case consumed != 0:
			hc.Consumed++
		case expiresAt <= now:
			hc.Expired++
		default:
			hc.Active++
		}
	}
	return hc, nil
}
