// Package httpapi is a thin demonstration router exercising check.Service
// end-to-end, so this module is importable (and runnable) without a real
// HTTP framework dependency — it is not the focus of testing. Key-scoped
// auth follows the same bcrypt-hashed, prefixed-key pattern as the
// control plane's auth.KeyStore, generalized with an authz:check /
// authz:batch permission pair plus authz:admin, which grants both.
package httpapi

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
	"golang.org/x/crypto/bcrypt"
)

// Permission scopes an API key's allowed operations against this router.
type Permission string

const (
	PermCheck      Permission = "authz:check"
	PermBatchCheck Permission = "authz:batch"
	PermAdmin      Permission = "authz:admin" // all permissions
)

// KeyPrefix identifies this module's keys, distinct from the control
// plane's "lgk_" prefix.
const KeyPrefix = "chk_"

// APIKey is a stored, bcrypt-hashed key.
type APIKey struct {
	ID          string
	Name        string
	KeyHash     string
	KeyPrefix   string
	Permissions []Permission
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	ExpiresAt   *time.Time
	Enabled     bool
}

// KeyStore manages check-API keys with SQLite backing.
type KeyStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewKeyStore opens (or creates) a SQLite-backed key store at dbPath.
func NewKeyStore(dbPath string) (*KeyStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open httpapi keys db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS check_api_keys (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		key_hash    TEXT NOT NULL,
		key_prefix  TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT '[]',
		created_at  TEXT NOT NULL,
		last_used   TEXT,
		expires_at  TEXT,
		enabled     INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		db.Close()
		return nil, err
	}
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_check_keys_prefix ON check_api_keys(key_prefix)`)

	return &KeyStore{db: db}, nil
}

// Create generates a new key, stores its bcrypt hash, and returns the
// plaintext key once (never recoverable afterward).
func (ks *KeyStore) Create(name string, permissions []Permission, expiresAt *time.Time) (*APIKey, string, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	plainKey := KeyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plainKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	key := &APIKey{
		ID:          uuid.NewString(),
		Name:        name,
		KeyHash:     string(hash),
		KeyPrefix:   plainKey[:len(KeyPrefix)+8],
		Permissions: permissions,
		CreatedAt:   now,
		Enabled:     true,
		ExpiresAt:   expiresAt,
	}

	var expiresStr sql.NullString
	if expiresAt != nil {
		expiresStr = sql.NullString{String: expiresAt.Format(time.RFC3339Nano), Valid: true}
	}

	_, err = ks.db.Exec(`INSERT INTO check_api_keys (id, name, key_hash, key_prefix, permissions, created_at, expires_at, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, permissionsToJSON(permissions),
		now.Format(time.RFC3339Nano), expiresStr)
	if err != nil {
		return nil, "", fmt.Errorf("store key: %w", err)
	}

	return key, plainKey, nil
}

// Validate checks a plaintext key, returning the APIKey if valid.
func (ks *KeyStore) Validate(plainKey string) (*APIKey, error) {
	prefixLen := len(KeyPrefix) + 8
	if len(plainKey) < prefixLen {
		return nil, fmt.Errorf("invalid key format")
	}
	prefix := plainKey[:prefixLen]

	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var (
		key                   APIKey
		permsJSON, createdAt  string
		lastUsed, expiresAt   sql.NullString
		enabled               int
	)
	err := ks.db.QueryRow(`SELECT id, name, key_hash, key_prefix, permissions, created_at, last_used, expires_at, enabled
		FROM check_api_keys WHERE key_prefix = ?`, prefix).Scan(
		&key.ID, &key.Name, &key.KeyHash, &key.KeyPrefix, &permsJSON,
		&createdAt, &lastUsed, &expiresAt, &enabled)
	if err != nil {
		return nil, fmt.Errorf("key not found")
	}

	key.Enabled = enabled == 1
	key.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	key.Permissions = jsonToPermissions(permsJSON)
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastUsed.String)
		key.LastUsedAt = &t
	}
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, expiresAt.String)
		key.ExpiresAt = &t
	}

	if !key.Enabled {
		return nil, fmt.Errorf("key disabled")
	}
	if key.ExpiresAt != nil && time.Now().UTC().After(*key.ExpiresAt) {
		return nil, fmt.Errorf("key expired")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plainKey)); err != nil {
		return nil, fmt.Errorf("invalid key")
	}

	now := time.Now().UTC()
	key.LastUsedAt = &now
	go func() {
		ks.mu.Lock()
		defer ks.mu.Unlock()
		ks.db.Exec(`UPDATE check_api_keys SET last_used = ? WHERE id = ?`, now.Format(time.RFC3339Nano), key.ID)
	}()

	return &key, nil
}

// Revoke disables a key.
func (ks *KeyStore) Revoke(id string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	res, err := ks.db.Exec(`UPDATE check_api_keys SET enabled = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

// Close shuts down the store.
func (ks *KeyStore) Close() error { return ks.db.Close() }

// HasPermission reports whether key grants perm (PermAdmin grants all).
func HasPermission(key *APIKey, perm Permission) bool {
	if key == nil {
		return false
	}
	for _, p := range key.Permissions {
		if p == PermAdmin || p == perm {
			return true
		}
	}
	return false
}

func permissionsToJSON(perms []Permission) string {
	if len(perms) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func jsonToPermissions(raw string) []Permission {
	if raw == "" || raw == "[]" {
		return nil
	}
	var perms []Permission
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return nil
	}
	return perms
}
