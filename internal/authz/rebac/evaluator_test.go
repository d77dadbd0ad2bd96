package rebac

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/authrim-io/authrim/internal/authz/cache"
	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/authrim-io/authrim/internal/authz/rebac/closure"
	"github.com/authrim-io/authrim/internal/authz/storage"
	"github.com/authrim-io/authrim/internal/authz/storage/memadapter"
)

func seedTuple(sa *memadapter.Adapter, tenant, fromType, fromID, relation, toType, toID string) {
	sa.Seed("relationship_tuples", storage.Row{
		"tenant": tenant, "from_type": fromType, "from_id": fromID,
		"relation": relation, "to_type": toType, "to_id": toID,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func seedDefinition(t *testing.T, sa *memadapter.Adapter, tenant, objectType, relation string, expr any) {
	t.Helper()
	raw, err := json.Marshal(expr)
	if err != nil {
		t.Fatalf("marshal expression: %v", err)
	}
	sa.Seed("relation_definitions", storage.Row{
		"tenant": tenant, "object_type": objectType, "relation_name": relation, "expression": raw,
	})
}

func TestCheck_DirectTupleAllowed(t *testing.T) {
	sa := memadapter.New()
	seedTuple(sa, "t1", "user", "alice", "viewer", "document", "doc1")

	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed via direct tuple, got %+v", result)
	}
}

func TestCheck_NoTupleDenied(t *testing.T) {
	sa := memadapter.New()
	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "bob", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected denied, got %+v", result)
	}
}

func TestCheck_ContextualTupleWinsOverNoTuple(t *testing.T) {
	sa := memadapter.New()
	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "user:carol", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
		ContextTuples: []ContextTuple{{Subject: "user:carol", Relation: "viewer", Object: "document:doc1"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.ResolvedVia != "context" {
		t.Fatalf("expected contextual allow, got %+v", result)
	}
}

func TestCheck_Union(t *testing.T) {
	sa := memadapter.New()
	seedDefinition(t, sa, "t1", "document", "viewer", map[string]any{
		"type": "union",
		"children": []any{
			map[string]any{"type": "direct"},
			map[string]any{"type": "this"},
		},
	})
	seedTuple(sa, "t1", "user", "alice", "viewer", "document", "doc1")

	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed via union, got %+v", result)
	}
}

func TestCheck_IntersectionRequiresBoth(t *testing.T) {
	sa := memadapter.New()
	seedDefinition(t, sa, "t1", "document", "editor", map[string]any{
		"type":     "intersection",
		"children": []any{map[string]any{"type": "direct"}, map[string]any{"type": "this"}},
	})
	// only seed the tuple once — Direct and This resolve to the same
	// underlying lookup, so a single tuple satisfies both children.
	seedTuple(sa, "t1", "user", "alice", "editor", "document", "doc1")

	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "editor", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed via intersection, got %+v", result)
	}

	resultBob, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "bob", Relation: "editor", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultBob.Allowed {
		t.Fatalf("expected denied for bob, got %+v", resultBob)
	}
}

func TestCheck_Exclusion(t *testing.T) {
	sa := memadapter.New()
	seedDefinition(t, sa, "t1", "document", "can_view", map[string]any{
		"type":     "exclusion",
		"base":     map[string]any{"type": "direct"},
		"subtract": map[string]any{"type": "this"},
	})
	ev := New(sa, nil, nil)

	// base true (via first direct tuple), subtract also true via the
	// same lookup (This == Direct here) -> excluded.
	seedTuple(sa, "t1", "user", "alice", "can_view", "document", "doc1")
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "can_view", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected denied (base AND subtract both true), got %+v", result)
	}
}

func TestCheck_TupleToUserset(t *testing.T) {
	sa := memadapter.New()
	seedDefinition(t, sa, "t1", "document", "viewer", map[string]any{
		"type":                       "tuple_to_userset",
		"tupleset_relation":          "parent",
		"computed_userset_relation": "viewer",
	})
	// doc1's parent is folder1; alice is a direct viewer of folder1.
	seedTuple(sa, "t1", "folder", "folder1", "parent", "document", "doc1")
	seedTuple(sa, "t1", "user", "alice", "viewer", "folder", "folder1")

	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed via tuple_to_userset inheritance, got %+v", result)
	}
}

func TestCheck_ClosureShortcut(t *testing.T) {
	sa := memadapter.New()
	cs := closure.New(sa)
	now := time.Now().UTC()
	if err := cs.Put(context.Background(), model.ClosureEntry{
		Tenant: "t1", AncestorType: "user", AncestorID: "alice",
		DescendantType: "document", DescendantID: "doc1",
		Relation: "viewer", Depth: 1, GeneratedAt: now,
	}); err != nil {
		t.Fatalf("put closure entry: %v", err)
	}
	cs.MarkMaterialized("t1", "document", "viewer")

	ev := New(sa, cs, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "user:alice", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.ResolvedVia != "evaluated" {
		t.Fatalf("expected allowed via closure shortcut, got %+v", result)
	}
}

func TestCheck_CacheRoundTrip(t *testing.T) {
	sa := memadapter.New()
	seedTuple(sa, "t1", "user", "alice", "viewer", "document", "doc1")
	cm := cache.New(sa, time.Minute)

	ev := New(sa, nil, cm)
	first, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ResolvedVia != "evaluated" {
		t.Fatalf("expected first call evaluated, got %+v", first)
	}

	second, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ResolvedVia != "cache" || !second.Allowed {
		t.Fatalf("expected second call cached, got %+v", second)
	}
}

func TestCheck_DirectTupleRequiresMatchingRelation(t *testing.T) {
	sa := memadapter.New()
	seedTuple(sa, "t1", "user", "alice", "commenter", "document", "doc1")

	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "owner", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected a commenter tuple not to satisfy an owner check, got %+v", result)
	}
}

func TestCheck_ObjectTypeSplitFromCombinedObjectID(t *testing.T) {
	sa := memadapter.New()
	seedTuple(sa, "t1", "user", "alice", "viewer", "document", "doc1")

	ev := New(sa, nil, nil)
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "viewer", ObjectID: "document:doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected a combined \"type:id\" ObjectID to split and resolve, got %+v", result)
	}
}

func TestCheck_MaxDepthExceeded(t *testing.T) {
	sa := memadapter.New()
	// viewer is direct or inherited from the parent. doc1's parent is doc2,
	// doc2's parent is doc3, and alice is a direct viewer of doc3 only.
	// Each union + tuple_to_userset hop adds 2 to the depth, so reaching
	// doc3 from doc1 needs depth 4, past the limit of 3.
	seedDefinition(t, sa, "t1", "document", "viewer", map[string]any{
		"type": "union",
		"children": []any{
			map[string]any{"type": "direct"},
			map[string]any{
				"type":                      "tuple_to_userset",
				"tupleset_relation":         "parent",
				"computed_userset_relation": "viewer",
			},
		},
	})
	seedTuple(sa, "t1", "document", "doc2", "parent", "document", "doc1")
	seedTuple(sa, "t1", "document", "doc3", "parent", "document", "doc2")
	seedTuple(sa, "t1", "user", "alice", "viewer", "document", "doc3")

	ev := New(sa, nil, nil, WithMaxDepth(3))
	result, err := ev.Check(context.Background(), CheckRequest{
		Tenant: "t1", Subject: "alice", Relation: "viewer", ObjectType: "document", ObjectID: "doc1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected denied at max depth, got %+v", result)
	}
	hitLimit := false
	for _, step := range result.Path {
		if step.Marker == "max_depth_exceeded" {
			hitLimit = true
		}
	}
	if !hitLimit {
		t.Fatalf("expected a max_depth_exceeded path marker, got %+v", result.Path)
	}
}
