package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/authrim-io/authrim/internal/authz/errs"
	"github.com/authrim-io/authrim/internal/authz/events"
	"github.com/authrim-io/authrim/internal/authz/storage/memadapter"
)

func TestStore_IssueAndRotate(t *testing.T) {
	sa := memadapter.New()
	s := New(sa, nil, nil)
	ctx := context.Background()

	first := Token{TokenID: "t1", FamilyID: "t1", ClientID: "client1", Subject: "alice", IssuedAt: time.Now(), TTL: time.Hour}
	if err := s.Issue(ctx, first); err != nil {
		t.Fatalf("issue: %v", err)
	}

	result, err := s.Rotate(ctx, "t1", "client1", "alice", Token{TokenID: "t2", IssuedAt: time.Now(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if result.ReuseDetected {
		t.Fatalf("expected no reuse on first rotation, got %+v", result)
	}
}

func TestStore_RotateUnknownTokenFails(t *testing.T) {
	sa := memadapter.New()
	s := New(sa, nil, nil)
	_, err := s.Rotate(context.Background(), "nonexistent", "client1", "alice", Token{TokenID: "t2"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ReuseDetectionRevokesFamily(t *testing.T) {
	sa := memadapter.New()
	bus := events.NewBus(4)
	sub := bus.Subscribe("test")
	s := New(sa, bus, nil)
	ctx := context.Background()

	first := Token{TokenID: "t1", FamilyID: "t1", ClientID: "client1", Subject: "alice", IssuedAt: time.Now(), TTL: time.Hour}
	if err := s.Issue(ctx, first); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Rotate(ctx, "t1", "client1", "alice", Token{TokenID: "t2", IssuedAt: time.Now(), TTL: time.Hour}); err != nil {
		t.Fatalf("first rotate: %v", err)
	}

	// t1 is already consumed; presenting it again must revoke the family.
	result, err := s.Rotate(ctx, "t1", "client1", "alice", Token{TokenID: "t3", IssuedAt: time.Now(), TTL: time.Hour})
	if !errors.Is(err, errs.ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
	if !result.ReuseDetected || result.RevokedFamily != "t1" {
		t.Fatalf("expected revoked family t1, got %+v", result)
	}

	// t2, the legitimate successor, must now also be rejected — the whole
	// family was revoked.
	if _, err := s.Rotate(ctx, "t2", "client1", "alice", Token{TokenID: "t4"}); !errors.Is(err, errs.ErrReuseDetected) {
		t.Fatalf("expected t2 rotation to fail after family revocation, got %v", err)
	}

	select {
	case evt := <-sub:
		if evt.Type != events.RotationFamilyRevoked {
			t.Fatalf("expected RotationFamilyRevoked event, got %v", evt.Type)
		}
	default:
		t.Fatalf("expected a published reuse-detection event")
	}
}

func TestStore_RotateExpiredTokenFails(t *testing.T) {
	sa := memadapter.New()
	s := New(sa, nil, nil)
	ctx := context.Background()

	expired := Token{
		TokenID: "t1", FamilyID: "t1", ClientID: "client1", Subject: "alice",
		IssuedAt: time.Now().Add(-2 * time.Hour), TTL: time.Hour,
	}
	if err := s.Issue(ctx, expired); err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err := s.Rotate(ctx, "t1", "client1", "alice", Token{TokenID: "t2", IssuedAt: time.Now(), TTL: time.Hour})
	if !errors.Is(err, errs.ErrExpired) {
		t.Fatalf("expected ErrExpired for a token past its TTL, got %v", err)
	}
}

func TestStore_ConcurrentRotateOnlyOneWinner(t *testing.T) {
	sa := memadapter.New()
	s := New(sa, nil, nil)
	ctx := context.Background()

	first := Token{TokenID: "t1", FamilyID: "t1", ClientID: "client1", Subject: "alice", IssuedAt: time.Now(), TTL: time.Hour}
	if err := s.Issue(ctx, first); err != nil {
		t.Fatalf("issue: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	successes := make([]bool, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.Rotate(ctx, "t1", "client1", "alice", Token{TokenID: fmt.Sprintf("t2-%d", i), IssuedAt: time.Now(), TTL: time.Hour})
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	won := 0
	for _, ok := range successes {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one racing Rotate to succeed on a single-use token, got %d of %d", won, racers)
	}
}

func TestStore_Revoke(t *testing.T) {
	sa := memadapter.New()
	s := New(sa, nil, nil)
	ctx := context.Background()

	first := Token{TokenID: "t1", FamilyID: "t1", ClientID: "client1", Subject: "alice", IssuedAt: time.Now(), TTL: time.Hour}
	if err := s.Issue(ctx, first); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Revoke(ctx, "t1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Rotate(ctx, "t1", "client1", "alice", Token{TokenID: "t2"}); !errors.Is(err, errs.ErrReuseDetected) {
		t.Fatalf("expected revoked token to look consumed on reuse, got %v", err)
	}
}
