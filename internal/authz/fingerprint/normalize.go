// Package fingerprint normalizes subject/object identifiers and builds
// the stable cache fingerprint shared by the ReBAC evaluator and the
// cache manager, per the layout the spec treats as a stability contract
// across reimplementations.
package fingerprint

import "strings"

// NormalizeSubject splits an optional "user:" or "<type>:" prefix from the
// id, returning the prefix as kind (empty when absent) and the bare id.
// Accepts both "user_123" and "user:user_123" / "type:id" forms.
func NormalizeSubject(raw string) (kind, id string) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return "", raw
}

// NormalizeObject splits a "type:id" form into its parts; if no colon is
// present, the whole string is treated as the id with an empty type.
func NormalizeObject(raw string) (objType, id string) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return "", raw
}

// SubjectEquals reports whether two subject references denote the same
// subject after normalization: ids must match, and kinds must agree
// whenever both sides supply one.
func SubjectEquals(a, b string) bool {
	aKind, aID := NormalizeSubject(a)
	bKind, bID := NormalizeSubject(b)
	if aKind != "" && bKind != "" && aKind != bKind {
		return false
	}
	return aID == bID
}

// ObjectEquals reports whether two object references denote the same
// object after normalization; explicit types must agree when both
// supply one.
func ObjectEquals(aType, aID, bType, bID string) bool {
	if aType != "" && bType != "" && aType != bType {
		return false
	}
	return aID == bID
}
