package sqlite

import "fmt"

// Bootstrap creates every component table this module's packages query
// against, idempotently. Each package documents the schema it expects
// (rebac tuples/definitions/closure, surs entries, rotation tokens); this
// function exists so cmd/authrimcheck and integration tests can stand up
// a complete schema in one call instead of wiring each package's own
// migration helper (none of the component packages run DDL themselves —
// they assume the schema already exists, matching storage.Adapter's
// "no transactions, no migrations" contract).
func (a *Adapter) Bootstrap() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relationship_tuples (
			tenant     TEXT NOT NULL,
			from_type  TEXT NOT NULL,
			from_id    TEXT NOT NULL,
			relation   TEXT NOT NULL,
			to_type    TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (tenant, from_type, from_id, relation, to_type, to_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationship_tuples_object
			ON relationship_tuples (tenant, to_type, to_id, relation)`,
		`CREATE TABLE IF NOT EXISTS relation_definitions (
			tenant        TEXT NOT NULL,
			object_type   TEXT NOT NULL,
			relation_name TEXT NOT NULL,
			expression    BLOB NOT NULL,
			PRIMARY KEY (tenant, object_type, relation_name)
		)`,
		`CREATE TABLE IF NOT EXISTS closure_entries (
			tenant          TEXT NOT NULL,
			ancestor_type   TEXT NOT NULL,
			ancestor_id     TEXT NOT NULL,
			descendant_type TEXT NOT NULL,
			descendant_id   TEXT NOT NULL,
			relation        TEXT NOT NULL,
			depth           INTEGER NOT NULL,
			generated_at    TEXT NOT NULL,
			PRIMARY KEY (tenant, ancestor_type, ancestor_id, descendant_type, descendant_id, relation)
		)`,
		`CREATE TABLE IF NOT EXISTS single_use_entries (
			key        TEXT PRIMARY KEY,
			client_id  TEXT NOT NULL,
			data       BLOB NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			token_id       TEXT PRIMARY KEY,
			family_id      TEXT NOT NULL,
			previous_id    TEXT,
			client_id      TEXT NOT NULL,
			subject        TEXT NOT NULL,
			issued_at      TEXT NOT NULL,
			ttl_seconds    INTEGER NOT NULL,
			consumed       INTEGER NOT NULL DEFAULT 0,
			reuse_detected INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_family ON refresh_tokens (family_id)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
