// Package rotation implements the refresh-token rotation store: each
// rotation consumes the presented token and issues a successor in the
// same family, detecting and revoking full families on reuse of an
// already-consumed token.
package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/authrim-io/authrim/internal/authz/errs"
	"github.com/authrim-io/authrim/internal/authz/events"
	"github.com/authrim-io/authrim/internal/authz/storage"
	"go.uber.org/zap"
)

const tableName = "refresh_tokens"

// Token is a single refresh token row.
type Token struct {
	TokenID       string
	FamilyID      string
	PreviousID    string
	ClientID      string
	Subject       string
	IssuedAt      time.Time
	TTL           time.Duration
	Consumed      bool
	ReuseDetected bool
}

// RotateResult reports the outcome of a Rotate call.
type RotateResult struct {
	ReuseDetected bool
	RevokedFamily string
}

// Store is the rotation store.
type Store struct {
	sa     storage.Adapter
	events *events.Bus
	logger *zap.Logger
}

// New builds a Store. bus may be nil, in which case reuse-detected events
// are simply not published.
func New(sa storage.Adapter, bus *events.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{sa: sa, events: bus, logger: logger}
}

// Issue inserts the first token of a new family (FamilyID == TokenID,
// PreviousID empty).
func (s *Store) Issue(ctx context.Context, t Token) error {
	_, err := s.sa.Execute(ctx,
		fmt.Sprintf(`INSERT INTO %s (token_id, family_id, previous_id, client_id, subject, issued_at, ttl_seconds, consumed, reuse_detected)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(token_id) DO NOTHING`, tableName),
		t.TokenID, t.FamilyID, t.PreviousID, t.ClientID, t.Subject,
		t.IssuedAt.UTC().Format(time.RFC3339Nano), int64(t.TTL.Seconds()), boolToInt(t.Consumed), boolToInt(t.ReuseDetected),
	)
	if err != nil {
		return fmt.Errorf("%w: issue %s: %v", errs.ErrStorageFailure, t.TokenID, err)
	}
	return nil
}

// Rotate consumes oldToken and issues newToken in the same family. It
// returns ErrReuseDetected (with RotateResult.ReuseDetected true and the
// whole family revoked) if oldToken was already consumed, ErrExpired if
// oldToken's TTL has passed, and ErrNotFound if oldToken does not match
// the given client/subject.
func (s *Store) Rotate(ctx context.Context, oldTokenID, clientID, subject string, newToken Token) (RotateResult, error) {
	rows, err := s.sa.Query(ctx,
		fmt.Sprintf(`SELECT family_id, consumed, issued_at, ttl_seconds FROM %s WHERE token_id = ? AND client_id = ? AND subject = ?`, tableName),
		oldTokenID, clientID, subject,
	)
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: rotate lookup %s: %v", errs.ErrStorageFailure, oldTokenID, err)
	}
	if len(rows) == 0 {
		return RotateResult{}, fmt.Errorf("%w: %s", errs.ErrNotFound, oldTokenID)
	}

	row := rows[0]
	familyID, _ := row["family_id"].(string)
	consumed, _ := row["consumed"].(int)

	if consumed != 0 {
		return s.revokeFamily(ctx, familyID, oldTokenID)
	}

	if expired(row) {
		return RotateResult{}, fmt.Errorf("%w: %s", errs.ErrExpired, oldTokenID)
	}

	res, err := s.sa.Execute(ctx,
		fmt.Sprintf(`UPDATE %s SET consumed = ? WHERE token_id = ? AND consumed = ?`, tableName),
		1, oldTokenID, 0,
	)
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: mark consumed %s: %v", errs.ErrStorageFailure, oldTokenID, err)
	}
	if res.Changes == 0 {
		// Lost the race: a concurrent Rotate already claimed this token
		// between our read and our CAS update. Treat it the same as the
		// already-consumed branch above — whoever raced us owns the family
		// now, and presenting oldTokenID again is reuse.
		return s.revokeFamily(ctx, familyID, oldTokenID)
	}

	newToken.FamilyID = familyID
	newToken.PreviousID = oldTokenID
	newToken.ClientID = clientID
	newToken.Subject = subject
	if err := s.Issue(ctx, newToken); err != nil {
		return RotateResult{}, err
	}
	return RotateResult{}, nil
}

// revokeFamily marks every token in familyID consumed, publishes a
// rotation.family_revoked event, and returns ErrReuseDetected.
func (s *Store) revokeFamily(ctx context.Context, familyID, detectedTokenID string) (RotateResult, error) {
	if _, err := s.sa.Execute(ctx,
		fmt.Sprintf(`UPDATE %s SET consumed = ?, reuse_detected = ? WHERE family_id = ?`, tableName),
		1, 1, familyID,
	); err != nil {
		return RotateResult{}, fmt.Errorf("%w: revoke family %s: %v", errs.ErrStorageFailure, familyID, err)
	}

	s.logger.Warn("rotation: reuse detected, family revoked",
		zap.String("family_id", familyID), zap.String("detected_token", detectedTokenID))

	if s.events != nil {
		s.events.Publish(events.Event{
			Type:    events.RotationFamilyRevoked,
			Summary: "refresh token family revoked after reuse detection",
			Detail:  map[string]string{"family_id": familyID, "detected_token": detectedTokenID},
		})
	}

	return RotateResult{ReuseDetected: true, RevokedFamily: familyID}, fmt.Errorf("%w: family %s", errs.ErrReuseDetected, familyID)
}

// Revoke marks every token in familyID consumed, without implying reuse.
func (s *Store) Revoke(ctx context.Context, familyID string) error {
	_, err := s.sa.Execute(ctx, fmt.Sprintf(`UPDATE %s SET consumed = ? WHERE family_id = ?`, tableName), 1, familyID)
	if err != nil {
		return fmt.Errorf("%w: revoke %s: %v", errs.ErrStorageFailure, familyID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expired reports whether the token row's issued_at + ttl_seconds has
// already passed. A row with a missing or malformed issued_at never
// expires by this check.
func expired(row storage.Row) bool {
	issuedAtStr, _ := row["issued_at"].(string)
	ttlSeconds, _ := row["ttl_seconds"].(int64)
	issuedAt, err := time.Parse(time.RFC3339Nano, issuedAtStr)
	if err != nil {
		return false
	}
	return time.Now().UTC().After(issuedAt.Add(time.Duration(ttlSeconds) * time.Second))
}
