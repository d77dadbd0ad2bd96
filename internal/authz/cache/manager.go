// Package cache implements the two-tier check-result cache: a process/edge
// tier backed by storage.Adapter's KV surface, and a request-scoped tier
// held only in memory for the lifetime of one Check/BatchCheck call.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/authrim-io/authrim/internal/authz/fingerprint"
	"github.com/authrim-io/authrim/internal/authz/policy/globmatch"
	"github.com/authrim-io/authrim/internal/authz/storage"
)

// DefaultTTL is applied when a caller does not specify one.
const DefaultTTL = 60 * time.Second

// Decision is the cached shape of a check outcome, generic over whatever
// path-step type the caller uses (ReBAC's rebac.PathStep or similar).
type Decision struct {
	Allowed    bool
	Path       any
	Generation uint64
}

type entry struct {
	Decision Decision
}

// Manager is the two-tier cache: durable tier via storage.Adapter's KV
// surface, plus a per-request in-memory scope (RequestScope) for
// de-duplicating repeated checks within one Check/BatchCheck call.
type Manager struct {
	sa         storage.Adapter
	generation uint64 // bumped via atomic ops
	defaultTTL time.Duration
}

// New builds a cache Manager over the given adapter.
func New(sa storage.Adapter, defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{sa: sa, defaultTTL: defaultTTL}
}

// RequestScope is the in-memory, per-call tier. It never touches the
// durable adapter. rebac.Evaluator.Check probes it at the top of each
// check and fills it afterwards, so checks that share one scope (such as
// the entries of one batch) evaluate each fingerprint once; the recursion
// inside a single check does not consult it.
type RequestScope struct {
	m sync.Map // fingerprint.Fingerprint -> Decision
}

// NewRequestScope creates a fresh request-scoped tier. Discard it when the
// call that created it returns.
func (m *Manager) NewRequestScope() *RequestScope {
	return &RequestScope{}
}

// Get checks the request scope first, falling back to nothing — callers
// compose RequestScope.Get then Manager.Get themselves when both tiers are
// in play; most callers only need Manager.Get directly.
func (rs *RequestScope) Get(fp fingerprint.Fingerprint) (Decision, bool) {
	v, ok := rs.m.Load(fp)
	if !ok {
		return Decision{}, false
	}
	return v.(Decision), true
}

// Put stores into the request scope only.
func (rs *RequestScope) Put(fp fingerprint.Fingerprint, d Decision) {
	rs.m.Store(fp, d)
}

func wireKey(fp fingerprint.Fingerprint) string {
	return "chk:" + fp.String()
}

func subjectIndexKey(tenant, subject string) string {
	return "idx:subject:" + tenant + ":" + subject
}

func objectIndexKey(tenant, objectType, objectID string) string {
	return "idx:object:" + tenant + ":" + objectType + ":" + objectID
}

// Get reads the durable tier. A stale generation is treated as a miss
// without deleting the underlying data, per the cache's "forced miss"
// semantics — an operator-triggered bump should not require a bulk delete.
func (m *Manager) Get(ctx context.Context, fp fingerprint.Fingerprint) (Decision, bool) {
	raw, ok, err := m.sa.KVGet(ctx, wireKey(fp))
	if err != nil || !ok {
		return Decision{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Decision{}, false
	}
	if e.Decision.Generation != m.Generation() {
		return Decision{}, false
	}
	return e.Decision, true
}

// Put writes the durable tier and updates the subject/object secondary
// indexes so a later InvalidateSubject/InvalidateObject call can find this
// entry by either axis.
func (m *Manager) Put(ctx context.Context, tenant, subject, relation, objectType, objectID string, fp fingerprint.Fingerprint, d Decision, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	d.Generation = m.Generation()

	raw, err := json.Marshal(entry{Decision: d})
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := m.sa.KVPut(ctx, wireKey(fp), raw, ttl); err != nil {
		return fmt.Errorf("cache: put entry: %w", err)
	}

	if err := m.appendIndex(ctx, subjectIndexKey(tenant, subject), fp, ttl); err != nil {
		return err
	}
	if err := m.appendIndex(ctx, objectIndexKey(tenant, objectType, objectID), fp, ttl); err != nil {
		return err
	}
	return nil
}

func (m *Manager) appendIndex(ctx context.Context, idxKey string, fp fingerprint.Fingerprint, ttl time.Duration) error {
	keys, _ := m.readIndex(ctx, idxKey)
	fpHex := fp.String()
	for _, k := range keys {
		if k == fpHex {
			return nil
		}
	}
	keys = append(keys, fpHex)
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("cache: marshal index %s: %w", idxKey, err)
	}
	if err := m.sa.KVPut(ctx, idxKey, raw, ttl); err != nil {
		return fmt.Errorf("cache: put index %s: %w", idxKey, err)
	}
	return nil
}

func (m *Manager) readIndex(ctx context.Context, idxKey string) ([]string, error) {
	raw, ok, err := m.sa.KVGet(ctx, idxKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// InvalidateSubject deletes every cached fingerprint recorded against
// (tenant, subject), then clears the index entry itself: read-then-delete,
// matching the durable-store invalidation idiom the rest of this module
// follows for secondary indexes.
func (m *Manager) InvalidateSubject(ctx context.Context, tenant, subject string) error {
	idxKey := subjectIndexKey(tenant, subject)
	keys, err := m.readIndex(ctx, idxKey)
	if err != nil {
		return fmt.Errorf("cache: read subject index: %w", err)
	}
	for _, k := range keys {
		_ = m.sa.KVDelete(ctx, "chk:"+k)
	}
	return m.sa.KVDelete(ctx, idxKey)
}

// InvalidateObject deletes every cached fingerprint recorded against
// (tenant, objectType, objectID).
func (m *Manager) InvalidateObject(ctx context.Context, tenant, objectType, objectID string) error {
	idxKey := objectIndexKey(tenant, objectType, objectID)
	keys, err := m.readIndex(ctx, idxKey)
	if err != nil {
		return fmt.Errorf("cache: read object index: %w", err)
	}
	for _, k := range keys {
		_ = m.sa.KVDelete(ctx, "chk:"+k)
	}
	return m.sa.KVDelete(ctx, idxKey)
}

// InvalidatePattern does a bulk KV scan-and-delete: every live key matching
// pattern (globmatch's single-wildcard syntax, e.g. "chk:*" or
// "idx:subject:acme:*") is removed. This is O(n) over the whole KV
// keyspace and is meant for rare admin/migration use, not the request
// path — same tradeoff the event bus makes for its own small scans.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := m.sa.KVKeys(ctx)
	if err != nil {
		return fmt.Errorf("cache: list keys: %w", err)
	}
	for _, k := range keys {
		if !globmatch.Match(pattern, k) {
			continue
		}
		if err := m.sa.KVDelete(ctx, k); err != nil {
			return fmt.Errorf("cache: delete %s: %w", k, err)
		}
	}
	return nil
}

// Invalidate deletes a single cached fingerprint directly.
func (m *Manager) Invalidate(ctx context.Context, fp fingerprint.Fingerprint) error {
	return m.sa.KVDelete(ctx, wireKey(fp))
}

// Generation returns the current cache generation.
func (m *Manager) Generation() uint64 {
	return atomic.LoadUint64(&m.generation)
}

// BumpGeneration forces every previously-cached entry to read as a miss on
// next Get, without deleting any stored data — an O(1) operator action.
func (m *Manager) BumpGeneration() {
	atomic.AddUint64(&m.generation, 1)
}
