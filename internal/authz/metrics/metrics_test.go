package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCacheHitRatio(t *testing.T) {
	r := NewRecorder()
	if got := r.CacheHitRatio(); got != 0 {
		t.Fatalf("expected 0 ratio with no samples, got %v", got)
	}

	r.RecordCacheHit()
	r.RecordCacheHit()
	r.RecordCacheHit()
	r.RecordCacheMiss()

	if got := r.CacheHitRatio(); got != 0.75 {
		t.Fatalf("expected 0.75 ratio, got %v", got)
	}
}

func TestMustRegister(t *testing.T) {
	r := NewRecorder()
	reg := prometheus.NewRegistry()
	r.MustRegister(reg)
}
