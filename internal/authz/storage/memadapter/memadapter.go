// Package memadapter is an in-memory storage.Adapter test double. It
// understands a small, fixed shape of SQL (SELECT/INSERT/UPDATE/DELETE
// with ANDed equality/comparison WHERE clauses, no joins or aggregates)
// — exactly what the rest of internal/authz issues — so unit tests across
// this module can run without a real database, mirroring the teacher's
// habit of plain table-driven tests with no mocking framework.
package memadapter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/authrim-io/authrim/internal/authz/storage"
)

// Adapter is a mutex-guarded, in-process storage.Adapter.
type Adapter struct {
	mu     sync.Mutex
	tables map[string][]storage.Row
	kv     map[string]kvEntry
}

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means never
}

// New returns an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{
		tables: make(map[string][]storage.Row),
		kv:     make(map[string]kvEntry),
	}
}

// Seed inserts rows directly into a table, bypassing SQL parsing. Tests
// use this to set up fixture state without round-tripping through a
// hand-written INSERT statement.
func (a *Adapter) Seed(table string, rows ...storage.Row) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tables[table] = append(a.tables[table], rows...)
}

var (
	reSelect = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(\w+)\s*(?:WHERE\s+(.+?))?\s*$`)
	reInsert = regexp.MustCompile(`(?is)^\s*INSERT\s+INTO\s+(\w+)\s*\(([^)]*)\)\s*VALUES\s*\(([^)]*)\)`)
	reUpdate = regexp.MustCompile(`(?is)^\s*UPDATE\s+(\w+)\s+SET\s+(.+?)\s*(?:WHERE\s+(.+?))?\s*$`)
	reDelete = regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\s+(\w+)\s*(?:WHERE\s+(.+?))?\s*$`)
)

// Query executes a SELECT against an in-memory table.
func (a *Adapter) Query(_ context.Context, query string, params ...any) ([]storage.Row, error) {
	m := reSelect.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("memadapter: unsupported query: %s", query)
	}
	cols := splitCSV(m[1])
	table := m[2]
	where := m[3]

	a.mu.Lock()
	defer a.mu.Unlock()

	clauses, err := parseWhere(where, params)
	if err != nil {
		return nil, err
	}

	var out []storage.Row
	for _, row := range a.tables[table] {
		if !matches(row, clauses) {
			continue
		}
		if len(cols) == 1 && strings.TrimSpace(cols[0]) == "*" {
			out = append(out, cloneRow(row))
			continue
		}
		projected := storage.Row{}
		for _, c := range cols {
			c = strings.TrimSpace(c)
			projected[c] = row[c]
		}
		out = append(out, projected)
	}
	return out, nil
}

// Execute runs INSERT/UPDATE/DELETE against an in-memory table.
func (a *Adapter) Execute(_ context.Context, stmt string, params ...any) (storage.ExecResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case reInsert.MatchString(stmt):
		return a.execInsert(stmt, params)
	case reUpdate.MatchString(stmt):
		return a.execUpdate(stmt, params)
	case reDelete.MatchString(stmt):
		return a.execDelete(stmt, params)
	default:
		return storage.ExecResult{}, fmt.Errorf("memadapter: unsupported statement: %s", stmt)
	}
}

func (a *Adapter) execInsert(stmt string, params []any) (storage.ExecResult, error) {
	m := reInsert.FindStringSubmatch(stmt)
	table := m[1]
	cols := splitCSV(m[2])
	placeholders := splitCSV(m[3])
	if len(placeholders) != len(params) {
		return storage.ExecResult{}, fmt.Errorf("memadapter: insert param count mismatch: %d placeholders, %d params", len(placeholders), len(params))
	}

	conflictCols, conflictUpdate := parseUpsert(stmt)
	row := storage.Row{}
	for i, c := range cols {
		row[strings.TrimSpace(c)] = params[i]
	}

	if len(conflictCols) > 0 {
		for i, existing := range a.tables[table] {
			if conflictMatch(existing, row, conflictCols) {
				if conflictUpdate {
					a.tables[table][i] = row
				}
				return storage.ExecResult{Changes: 1}, nil
			}
		}
	}

	a.tables[table] = append(a.tables[table], row)
	return storage.ExecResult{Changes: 1}, nil
}

func (a *Adapter) execUpdate(stmt string, params []any) (storage.ExecResult, error) {
	m := reUpdate.FindStringSubmatch(stmt)
	table := m[1]
	assignments := splitCSV(m[2])
	whereClause := m[3]

	nSet := len(assignments)
	setParams := params[:nSet]
	whereParams := params[nSet:]

	clauses, err := parseWhere(whereClause, whereParams)
	if err != nil {
		return storage.ExecResult{}, err
	}

	var changed int64
	for i, row := range a.tables[table] {
		if !matches(row, clauses) {
			continue
		}
		updated := cloneRow(row)
		for j, assign := range assignments {
			col := strings.TrimSpace(strings.SplitN(assign, "=", 2)[0])
			updated[col] = setParams[j]
		}
		a.tables[table][i] = updated
		changed++
	}
	return storage.ExecResult{Changes: changed}, nil
}

func (a *Adapter) execDelete(stmt string, params []any) (storage.ExecResult, error) {
	m := reDelete.FindStringSubmatch(stmt)
	table := m[1]
	whereClause := m[2]

	clauses, err := parseWhere(whereClause, params)
	if err != nil {
		return storage.ExecResult{}, err
	}

	var kept []storage.Row
	var changed int64
	for _, row := range a.tables[table] {
		if matches(row, clauses) {
			changed++
			continue
		}
		kept = append(kept, row)
	}
	a.tables[table] = kept
	return storage.ExecResult{Changes: changed}, nil
}

// KVGet returns a stored value, honoring TTL.
func (a *Adapter) KVGet(_ context.Context, key string) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(a.kv, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// KVPut stores a value with an optional TTL (zero means no expiry).
func (a *Adapter) KVPut(_ context.Context, key string, value []byte, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	a.kv[key] = kvEntry{value: value, expiresAt: expiresAt}
	return nil
}

// KVDelete removes a key; deleting an absent key is not an error.
func (a *Adapter) KVDelete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.kv, key)
	return nil
}

// KVKeys lists every non-expired key, deleting expired ones along the way.
func (a *Adapter) KVKeys(_ context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(a.kv))
	for k, entry := range a.kv {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(a.kv, k)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

type whereClause struct {
	col string
	op  string
	val any
}

func parseWhere(where string, params []any) ([]whereClause, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil, nil
	}
	parts := strings.Split(where, " AND ")
	if len(parts) != len(params) {
		return nil, fmt.Errorf("memadapter: where clause param count mismatch: %d clauses, %d params", len(parts), len(params))
	}
	clauses := make([]whereClause, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		op := "="
		for _, candidate := range []string{">=", "<=", "!=", ">", "<", "="} {
			if idx := strings.Index(p, " "+candidate+" "); idx >= 0 {
				op = candidate
				p = strings.TrimSpace(p[:idx])
				break
			}
			if strings.HasSuffix(p, candidate+" ?") {
				op = candidate
				p = strings.TrimSpace(strings.TrimSuffix(p, candidate+" ?"))
				break
			}
		}
		clauses = append(clauses, whereClause{col: p, op: op, val: params[i]})
	}
	return clauses, nil
}

func matches(row storage.Row, clauses []whereClause) bool {
	for _, c := range clauses {
		if !compare(row[c.col], c.op, c.val) {
			return false
		}
	}
	return true
}

func compare(got any, op string, want any) bool {
	switch op {
	case "=":
		return equalValues(got, want)
	case "!=":
		return !equalValues(got, want)
	}
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		switch op {
		case ">":
			return gf > wf
		case ">=":
			return gf >= wf
		case "<":
			return gf < wf
		case "<=":
			return gf <= wf
		}
	}
	gt, gtok := toTime(got)
	wt, wtok := toTime(want)
	if gtok && wtok {
		switch op {
		case ">":
			return gt.After(wt)
		case ">=":
			return !gt.Before(wt)
		case "<":
			return gt.Before(wt)
		case "<=":
			return !gt.After(wt)
		}
	}
	return false
}

func equalValues(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func cloneRow(row storage.Row) storage.Row {
	out := make(storage.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

var reOnConflict = regexp.MustCompile(`(?is)ON\s+CONFLICT\s*\(([^)]*)\)\s*DO\s+(UPDATE|NOTHING)`)

func parseUpsert(stmt string) (cols []string, doUpdate bool) {
	m := reOnConflict.FindStringSubmatch(stmt)
	if m == nil {
		return nil, false
	}
	return splitCSV(m[1]), strings.EqualFold(m[2], "UPDATE")
}

func conflictMatch(existing, incoming storage.Row, cols []string) bool {
	for _, c := range cols {
		c = strings.TrimSpace(c)
		if !equalValues(existing[c], incoming[c]) {
			return false
		}
	}
	return true
}
