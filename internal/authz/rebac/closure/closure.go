// Package closure maintains a materialized reflexive-transitive closure
// of subject-to-object ancestry for relations marked for materialization,
// so the evaluator can answer common inheritance queries in constant
// depth instead of recursing through tuple_to_userset chains.
package closure

import (
	"context"
	"fmt"
	"time"

	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/authrim-io/authrim/internal/authz/storage"
)

const tableName = "closure_entries"

// Store materializes and queries closure entries against a storage.Adapter.
type Store struct {
	sa           storage.Adapter
	materialized map[string]struct{} // "tenant\x00objectType\x00relation" -> marked
}

// New creates a closure store over the given adapter.
func New(sa storage.Adapter) *Store {
	return &Store{sa: sa, materialized: make(map[string]struct{})}
}

// MarkMaterialized flags (objectType, relation) within tenant as backed
// by the closure table, so the evaluator can take the O(1) shortcut.
func (s *Store) MarkMaterialized(tenant, objectType, relation string) {
	s.materialized[key(tenant, objectType, relation)] = struct{}{}
}

// IsMaterialized reports whether (objectType, relation) has a maintained
// closure within tenant.
func (s *Store) IsMaterialized(tenant, objectType, relation string) bool {
	_, ok := s.materialized[key(tenant, objectType, relation)]
	return ok
}

func key(tenant, objectType, relation string) string {
	return tenant + "\x00" + objectType + "\x00" + relation
}

// Ancestors reports whether (subjectType, subjectID) is an ancestor of
// (objectType, objectID) under relation, using the materialized table —
// a single indexed lookup rather than recursive traversal.
func (s *Store) Ancestors(ctx context.Context, tenant, subjectType, subjectID, relation, objectType, objectID string) (bool, error) {
	rows, err := s.sa.Query(ctx,
		fmt.Sprintf(`SELECT depth FROM %s WHERE tenant = ? AND ancestor_type = ? AND ancestor_id = ? AND descendant_type = ? AND descendant_id = ? AND relation = ?`, tableName),
		tenant, subjectType, subjectID, objectType, objectID, relation,
	)
	if err != nil {
		return false, fmt.Errorf("closure ancestors lookup: %w", err)
	}
	return len(rows) > 0, nil
}

// Put inserts or replaces a closure entry. Rebuilds call this repeatedly
// after recomputing ancestry from seed tuples.
func (s *Store) Put(ctx context.Context, entry model.ClosureEntry) error {
	_, err := s.sa.Execute(ctx,
		fmt.Sprintf(`INSERT INTO %s (tenant, ancestor_type, ancestor_id, descendant_type, descendant_id, relation, depth, generated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant, ancestor_type, ancestor_id, descendant_type, descendant_id, relation) DO UPDATE SET
				depth = excluded.depth, generated_at = excluded.generated_at`, tableName),
		entry.Tenant, entry.AncestorType, entry.AncestorID, entry.DescendantType, entry.DescendantID,
		entry.Relation, entry.Depth, entry.GeneratedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("closure put: %w", err)
	}
	return nil
}

// Rebuild recomputes the closure for (tenant, objectType, relation) from
// the current set of seed tuples linked by tupleset, materializing every
// reachable (ancestor, descendant) pair up to maxDepth. This is the
// periodic job a cron-style scheduler invokes (see
// internal/authz/rebac/closure/scheduler.go) whenever seed tuples change.
func (s *Store) Rebuild(ctx context.Context, tenant, objectType, relation, tuplesetRelation string, seeds []model.RelationshipTuple, maxDepth int) error {
	now := time.Now().UTC()

	byParent := make(map[string][]model.RelationshipTuple)
	for _, t := range seeds {
		if t.Relation != tuplesetRelation {
			continue
		}
		byParent[t.ToType+":"+t.ToID] = append(byParent[t.ToType+":"+t.ToID], t)
	}

	// walk returns every ancestor of (objType, objID) — including itself
	// at depth 0 — with its hop count, memoized per node so a shared
	// intermediate node's ancestor set is computed once and reused by
	// every node below it. Only entries within maxDepth hops are written.
	// inProgress breaks cycles in a malformed tupleset graph instead of
	// recursing forever.
	memo := make(map[string]map[string]int)
	inProgress := make(map[string]bool)

	var walk func(objType, objID string) (map[string]int, error)
	walk = func(objType, objID string) (map[string]int, error) {
		selfKey := objType + ":" + objID
		if cached, ok := memo[selfKey]; ok {
			return cached, nil
		}
		ancestors := map[string]int{selfKey: 0}
		if !inProgress[selfKey] {
			inProgress[selfKey] = true
			for _, child := range byParent[selfKey] {
				childAncestors, err := walk(child.FromType, child.FromID)
				if err != nil {
					delete(inProgress, selfKey)
					return nil, err
				}
				for aKey, aDepth := range childAncestors {
					if aKey == selfKey {
						continue // a cycle folding back on this node; keep its own depth-0 entry
					}
					d := aDepth + 1
					if existing, ok := ancestors[aKey]; !ok || d < existing {
						ancestors[aKey] = d
					}
				}
			}
			delete(inProgress, selfKey)
		}
		for aKey, d := range ancestors {
			if d > maxDepth {
				continue
			}
			aType, aID, _ := splitKey(aKey)
			if err := s.Put(ctx, model.ClosureEntry{
				Tenant: tenant, AncestorType: aType, AncestorID: aID,
				DescendantType: objType, DescendantID: objID, Relation: relation,
				Depth: d, GeneratedAt: now,
			}); err != nil {
				return nil, err
			}
		}
		memo[selfKey] = ancestors
		return ancestors, nil
	}

	roots := make(map[string]struct{})
	for _, t := range seeds {
		if t.Relation == tuplesetRelation {
			roots[t.ToType+":"+t.ToID] = struct{}{}
		}
	}
	for rootKey := range roots {
		objType, objID, _ := splitKey(rootKey)
		if _, err := walk(objType, objID); err != nil {
			return err
		}
	}
	s.MarkMaterialized(tenant, objectType, relation)
	return nil
}

func splitKey(k string) (string, string, bool) {
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return k[:i], k[i+1:], true
		}
	}
	return "", k, false
}
