package telemetry

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAsLogr_DelegatesToZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	z := zap.New(core)

	log := AsLogr(z)
	log.Info("closure rebuild complete", "tenant", "t1", "entries", 42)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != "closure rebuild complete" {
		t.Fatalf("unexpected message: %q", entries[0].Message)
	}
}
