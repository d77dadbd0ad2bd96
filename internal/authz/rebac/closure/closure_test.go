package closure

import (
	"context"
	"testing"

	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/authrim-io/authrim/internal/authz/storage/memadapter"
)

func TestRebuild_TransitiveAncestryAcrossThreeLevels(t *testing.T) {
	sa := memadapter.New()
	s := New(sa)
	ctx := context.Background()

	// org1 is the parent of folder1, which is the parent of doc1.
	seeds := []model.RelationshipTuple{
		{FromType: "org", FromID: "org1", Relation: "parent", ToType: "folder", ToID: "folder1"},
		{FromType: "folder", FromID: "folder1", Relation: "parent", ToType: "document", ToID: "doc1"},
	}

	if err := s.Rebuild(ctx, "t1", "document", "viewer", "parent", seeds, 10); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	ok, err := s.Ancestors(ctx, "t1", "org", "org1", "viewer", "document", "doc1")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if !ok {
		t.Fatalf("expected org1 to be a two-hop ancestor of doc1, got no closure entry")
	}

	ok, err = s.Ancestors(ctx, "t1", "folder", "folder1", "viewer", "document", "doc1")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if !ok {
		t.Fatalf("expected folder1 to be a direct ancestor of doc1")
	}

	ok, err = s.Ancestors(ctx, "t1", "document", "doc1", "viewer", "document", "doc1")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if !ok {
		t.Fatalf("expected a reflexive self-edge for doc1")
	}
}

func TestRebuild_RespectsMaxDepth(t *testing.T) {
	sa := memadapter.New()
	s := New(sa)
	ctx := context.Background()

	seeds := []model.RelationshipTuple{
		{FromType: "org", FromID: "org1", Relation: "parent", ToType: "folder", ToID: "folder1"},
		{FromType: "folder", FromID: "folder1", Relation: "parent", ToType: "document", ToID: "doc1"},
	}

	if err := s.Rebuild(ctx, "t1", "document", "viewer", "parent", seeds, 1); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	ok, err := s.Ancestors(ctx, "t1", "folder", "folder1", "viewer", "document", "doc1")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if !ok {
		t.Fatalf("expected folder1 (one hop) to still be materialized at maxDepth 1")
	}

	ok, err = s.Ancestors(ctx, "t1", "org", "org1", "viewer", "document", "doc1")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if ok {
		t.Fatalf("expected org1 (two hops) to be cut off at maxDepth 1")
	}
}

func TestRebuild_CyclicTuplesetDoesNotHang(t *testing.T) {
	sa := memadapter.New()
	s := New(sa)
	ctx := context.Background()

	// doc1 and doc2 point at each other as "parent" — a malformed graph
	// that must not send Rebuild into infinite recursion.
	seeds := []model.RelationshipTuple{
		{FromType: "document", FromID: "doc1", Relation: "parent", ToType: "document", ToID: "doc2"},
		{FromType: "document", FromID: "doc2", Relation: "parent", ToType: "document", ToID: "doc1"},
	}

	if err := s.Rebuild(ctx, "t1", "document", "viewer", "parent", seeds, 10); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	ok, err := s.Ancestors(ctx, "t1", "document", "doc1", "viewer", "document", "doc2")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if !ok {
		t.Fatalf("expected doc1 to be recorded as an ancestor of doc2")
	}
}

func TestIsMaterialized(t *testing.T) {
	sa := memadapter.New()
	s := New(sa)

	if s.IsMaterialized("t1", "document", "viewer") {
		t.Fatalf("expected not materialized before any rebuild")
	}
	s.MarkMaterialized("t1", "document", "viewer")
	if !s.IsMaterialized("t1", "document", "viewer") {
		t.Fatalf("expected materialized after MarkMaterialized")
	}
}
