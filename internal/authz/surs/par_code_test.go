package surs

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/authrim-io/authrim/internal/authz/errs"
)

func TestParStore_PushThenConsume(t *testing.T) {
	p := NewParStore(newTestStore())
	ctx := context.Background()
	if err := p.Push(ctx, "urn:par:1", "client1", []byte("par-payload"), time.Minute); err != nil {
		t.Fatalf("push: %v", err)
	}
	data, err := p.Consume(ctx, "urn:par:1", "client1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if string(data) != "par-payload" {
		t.Fatalf("got %q, want %q", data, "par-payload")
	}
	if _, err := p.Consume(ctx, "urn:par:1", "client1"); !errors.Is(err, errs.ErrSingleUseViolation) {
		t.Fatalf("expected second consume to fail with ErrSingleUseViolation, got %v", err)
	}
}

func TestCodeStore_IssueThenExchange(t *testing.T) {
	c := NewCodeStore(newTestStore())
	ctx := context.Background()
	payload := CodePayload{
		ClientID:      "client1",
		Subject:       "alice",
		RedirectURI:   "https://app.example/callback",
		PKCEChallenge: "abc123",
		Scope:         []string{"openid", "profile"},
	}
	if err := c.Issue(ctx, "code1", payload, time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := c.Exchange(ctx, "code1", "client1")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !reflect.DeepEqual(got, payload) {
		t.Fatalf("got %+v, want %+v", got, payload)
	}
}

func TestCodeStore_ExchangeTwiceFails(t *testing.T) {
	c := NewCodeStore(newTestStore())
	ctx := context.Background()
	payload := CodePayload{ClientID: "client1", Subject: "alice"}
	if err := c.Issue(ctx, "code1", payload, time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := c.Exchange(ctx, "code1", "client1"); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if _, err := c.Exchange(ctx, "code1", "client1"); !errors.Is(err, errs.ErrSingleUseViolation) {
		t.Fatalf("expected second exchange to fail, got %v", err)
	}
}

func TestCodeStore_ExchangeWrongClient(t *testing.T) {
	c := NewCodeStore(newTestStore())
	ctx := context.Background()
	payload := CodePayload{ClientID: "client1", Subject: "alice"}
	if err := c.Issue(ctx, "code1", payload, time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := c.Exchange(ctx, "code1", "client2"); !errors.Is(err, errs.ErrSingleUseViolation) {
		t.Fatalf("expected wrong-client exchange to fail, got %v", err)
	}
}
