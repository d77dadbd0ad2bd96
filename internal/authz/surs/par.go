package surs

import (
	"context"
	"time"
)

// ParStore wraps Store with Pushed Authorization Request semantics, keyed
// by request_uri.
type ParStore struct {
	store *Store
}

// NewParStore builds a ParStore over the given single-use Store.
func NewParStore(store *Store) *ParStore {
	return &ParStore{store: store}
}

// Push stores a new PAR payload under requestURI, bound to clientID.
func (p *ParStore) Push(ctx context.Context, requestURI, clientID string, payload []byte, ttl time.Duration) error {
	return p.store.Store(ctx, requestURI, clientID, payload, ttl)
}

// Consume atomically consumes the PAR payload for requestURI, failing if
// it was already consumed, expired, or bound to a different client.
func (p *ParStore) Consume(ctx context.Context, requestURI, clientID string) ([]byte, error) {
	return p.store.Consume(ctx, requestURI, clientID)
}
