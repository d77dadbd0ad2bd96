package cache

import (
	"context"
	"testing"
	"time"

	"github.com/authrim-io/authrim/internal/authz/fingerprint"
	"github.com/authrim-io/authrim/internal/authz/storage/memadapter"
)

func testFingerprint(tenant, subject string) fingerprint.Fingerprint {
	return fingerprint.Build(tenant, subject, "viewer", "document", "doc1", nil)
}

func TestManager_PutGetRoundTrip(t *testing.T) {
	sa := memadapter.New()
	m := New(sa, time.Minute)
	fp := testFingerprint("t1", "alice")

	if err := m.Put(context.Background(), "t1", "alice", "viewer", "document", "doc1", fp, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	d, ok := m.Get(context.Background(), fp)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if !d.Allowed {
		t.Fatalf("expected allowed=true, got %+v", d)
	}
}

func TestManager_GetMissOnAbsentKey(t *testing.T) {
	sa := memadapter.New()
	m := New(sa, time.Minute)
	_, ok := m.Get(context.Background(), testFingerprint("t1", "nobody"))
	if ok {
		t.Fatalf("expected miss for never-stored fingerprint")
	}
}

func TestManager_BumpGenerationForcesMiss(t *testing.T) {
	sa := memadapter.New()
	m := New(sa, time.Minute)
	fp := testFingerprint("t1", "alice")

	if err := m.Put(context.Background(), "t1", "alice", "viewer", "document", "doc1", fp, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := m.Get(context.Background(), fp); !ok {
		t.Fatalf("expected hit before generation bump")
	}

	m.BumpGeneration()

	if _, ok := m.Get(context.Background(), fp); ok {
		t.Fatalf("expected miss after generation bump")
	}
}

func TestManager_InvalidateSubject(t *testing.T) {
	sa := memadapter.New()
	m := New(sa, time.Minute)
	fp1 := fingerprint.Build("t1", "alice", "viewer", "document", "doc1", nil)
	fp2 := fingerprint.Build("t1", "alice", "editor", "document", "doc2", nil)

	if err := m.Put(context.Background(), "t1", "alice", "viewer", "document", "doc1", fp1, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put fp1: %v", err)
	}
	if err := m.Put(context.Background(), "t1", "alice", "editor", "document", "doc2", fp2, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put fp2: %v", err)
	}

	if err := m.InvalidateSubject(context.Background(), "t1", "alice"); err != nil {
		t.Fatalf("invalidate subject: %v", err)
	}

	if _, ok := m.Get(context.Background(), fp1); ok {
		t.Fatalf("expected fp1 invalidated")
	}
	if _, ok := m.Get(context.Background(), fp2); ok {
		t.Fatalf("expected fp2 invalidated")
	}
}

func TestManager_InvalidateObjectLeavesOtherObjectsIntact(t *testing.T) {
	sa := memadapter.New()
	m := New(sa, time.Minute)
	fp1 := fingerprint.Build("t1", "alice", "viewer", "document", "doc1", nil)
	fp2 := fingerprint.Build("t1", "bob", "viewer", "document", "doc2", nil)

	if err := m.Put(context.Background(), "t1", "alice", "viewer", "document", "doc1", fp1, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put fp1: %v", err)
	}
	if err := m.Put(context.Background(), "t1", "bob", "viewer", "document", "doc2", fp2, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put fp2: %v", err)
	}

	if err := m.InvalidateObject(context.Background(), "t1", "document", "doc1"); err != nil {
		t.Fatalf("invalidate object: %v", err)
	}

	if _, ok := m.Get(context.Background(), fp1); ok {
		t.Fatalf("expected doc1 entry invalidated")
	}
	if _, ok := m.Get(context.Background(), fp2); !ok {
		t.Fatalf("expected doc2 entry to remain cached")
	}
}

func TestManager_InvalidatePattern(t *testing.T) {
	sa := memadapter.New()
	m := New(sa, time.Minute)
	fp1 := fingerprint.Build("t1", "alice", "viewer", "document", "doc1", nil)
	fp2 := fingerprint.Build("t2", "bob", "viewer", "document", "doc2", nil)

	if err := m.Put(context.Background(), "t1", "alice", "viewer", "document", "doc1", fp1, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put fp1: %v", err)
	}
	if err := m.Put(context.Background(), "t2", "bob", "viewer", "document", "doc2", fp2, Decision{Allowed: true}, time.Minute); err != nil {
		t.Fatalf("put fp2: %v", err)
	}

	if err := m.InvalidatePattern(context.Background(), "idx:subject:t1:*"); err != nil {
		t.Fatalf("invalidate pattern: %v", err)
	}

	keys, err := sa.KVKeys(context.Background())
	if err != nil {
		t.Fatalf("kv keys: %v", err)
	}
	for _, k := range keys {
		if k == "idx:subject:t1:alice" {
			t.Fatalf("expected idx:subject:t1:alice removed, still present in %v", keys)
		}
	}

	// the chk: entries themselves are untouched by an idx:-scoped pattern.
	if _, ok := m.Get(context.Background(), fp1); !ok {
		t.Fatalf("expected fp1 cache entry to survive an index-only pattern")
	}
	if _, ok := m.Get(context.Background(), fp2); !ok {
		t.Fatalf("expected fp2 untouched by a t1-scoped pattern")
	}

	if err := m.InvalidatePattern(context.Background(), "chk:*"); err != nil {
		t.Fatalf("invalidate pattern: %v", err)
	}
	if _, ok := m.Get(context.Background(), fp1); ok {
		t.Fatalf("expected fp1 removed by chk:* pattern")
	}
	if _, ok := m.Get(context.Background(), fp2); ok {
		t.Fatalf("expected fp2 removed by chk:* pattern")
	}
}

func TestRequestScope_PutGet(t *testing.T) {
	m := New(memadapter.New(), time.Minute)
	rs := m.NewRequestScope()
	fp := testFingerprint("t1", "alice")

	if _, ok := rs.Get(fp); ok {
		t.Fatalf("expected empty request scope to miss")
	}

	rs.Put(fp, Decision{Allowed: true})
	d, ok := rs.Get(fp)
	if !ok || !d.Allowed {
		t.Fatalf("expected request-scoped hit, got %+v ok=%v", d, ok)
	}
}
