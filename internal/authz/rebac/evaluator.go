// Package rebac implements the bounded-depth recursive evaluator over the
// relation-algebra tree: a Zanzibar-style relationship-based access
// control check, using storage.Adapter for direct tuples, a closure.Store
// for materialized shortcuts, and a cache.Manager for memoization.
package rebac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/authrim-io/authrim/internal/authz/cache"
	"github.com/authrim-io/authrim/internal/authz/errs"
	"github.com/authrim-io/authrim/internal/authz/fingerprint"
	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/authrim-io/authrim/internal/authz/rebac/closure"
	"github.com/authrim-io/authrim/internal/authz/rebac/parser"
	"github.com/authrim-io/authrim/internal/authz/storage"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds recursive evaluation absent an explicit config.
const DefaultMaxDepth = 5

// DefaultCacheTTL is the TTL applied to cached check results.
const DefaultCacheTTL = 60 * time.Second

// ContextTuple is a per-request, non-persisted relationship considered
// during a check and given precedence over stored tuples.
type ContextTuple struct {
	Subject  string // "type:id" or bare id
	Relation string
	Object   string // "type:id" or bare id
}

// CheckRequest is the input to a single ReBAC check.
type CheckRequest struct {
	Tenant        string
	Subject       string // "type:id" or bare id
	Relation      string
	ObjectType    string
	ObjectID      string
	ContextTuples []ContextTuple
	// Scope, when set, is consulted before and populated after the
	// durable cache tier, so a caller evaluating many checks in one
	// batch can de-duplicate repeated (subject, relation, object)
	// lookups without round-tripping the durable store each time.
	Scope *cache.RequestScope
}

// PathStep annotates one step of evaluation for audit/debug surfaces.
type PathStep struct {
	Marker string
	Detail string
}

// Result is the outcome of a ReBAC check.
type Result struct {
	Allowed     bool
	ResolvedVia string // "context" | "cache" | "evaluated"
	Path        []PathStep
}

// Evaluator evaluates ReBAC checks against a storage.Adapter, using an
// optional closure.Store for materialized shortcuts and cache.Manager for
// memoization.
type Evaluator struct {
	sa       storage.Adapter
	closure  *closure.Store
	cache    *cache.Manager
	maxDepth int
	cacheTTL time.Duration
	logger   *zap.Logger
}

// Option configures an Evaluator at construction time.
type Option func(*Evaluator)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(d int) Option { return func(e *Evaluator) { e.maxDepth = d } }

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option { return func(e *Evaluator) { e.cacheTTL = ttl } }

// WithLogger overrides the no-op default logger.
func WithLogger(l *zap.Logger) Option { return func(e *Evaluator) { e.logger = l } }

// New builds a ReBAC Evaluator. closureStore and cacheMgr may be nil, in
// which case the closure shortcut and result caching are both skipped.
func New(sa storage.Adapter, closureStore *closure.Store, cacheMgr *cache.Manager, opts ...Option) *Evaluator {
	e := &Evaluator{
		sa:       sa,
		closure:  closureStore,
		cache:    cacheMgr,
		maxDepth: DefaultMaxDepth,
		cacheTTL: DefaultCacheTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type visitKey struct {
	node       string // a stable string id for the expression node being visited
	objectType string
	objectID   string
}

// Check runs a ReBAC authorization check per the algorithm in the spec:
// contextual-tuple scan, cache probe, relation-definition lookup, bounded
// DFS evaluation (with a closure shortcut where materialized), then cache
// store.
func (e *Evaluator) Check(ctx context.Context, req CheckRequest) (Result, error) {
	subjKind, subjID := fingerprint.NormalizeSubject(req.Subject)
	objType, objID := req.ObjectType, req.ObjectID
	if objType == "" {
		objType, objID = fingerprint.NormalizeObject(req.ObjectID)
	}

	// 1. Contextual-tuple scan — first match wins, takes precedence over
	// everything including a cached deny.
	for _, t := range req.ContextTuples {
		tObjType, tObjID := fingerprint.NormalizeObject(t.Object)
		if t.Relation != req.Relation {
			continue
		}
		if !fingerprint.SubjectEquals(req.Subject, t.Subject) {
			continue
		}
		if !fingerprint.ObjectEquals(objType, objID, tObjType, tObjID) {
			continue
		}
		return Result{
			Allowed:     true,
			ResolvedVia: "context",
			Path:        []PathStep{{Marker: "contextual_tuple"}},
		}, nil
	}

	// 2. Cache probe: request scope first (cheapest, no adapter round
	// trip), then the durable tier.
	fp := e.fingerprint(req)
	if req.Scope != nil {
		if cached, ok := req.Scope.Get(fp); ok {
			path, _ := cached.Path.([]PathStep)
			return Result{Allowed: cached.Allowed, ResolvedVia: "cache", Path: path}, nil
		}
	}
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, fp); ok {
			// The durable tier round-trips through JSON, so Path comes back
			// untyped; decode it into []PathStep again.
			var path []PathStep
			if raw, err := json.Marshal(cached.Path); err == nil {
				_ = json.Unmarshal(raw, &path)
			}
			cached.Path = path
			if req.Scope != nil {
				req.Scope.Put(fp, cached)
			}
			return Result{Allowed: cached.Allowed, ResolvedVia: "cache", Path: path}, nil
		}
	}

	// 3-7. Evaluate.
	result, err := e.evaluate(ctx, req.Tenant, subjKind, subjID, req.Relation, objType, objID)
	if err != nil {
		return Result{}, err
	}
	result.ResolvedVia = "evaluated"

	// 8. Cache store (never on storage_failure, which already returned above).
	decision := cache.Decision{Allowed: result.Allowed, Path: result.Path}
	if e.cache != nil {
		e.cache.Put(ctx, req.Tenant, subjID, req.Relation, objType, objID, fp, decision, e.cacheTTL)
	}
	if req.Scope != nil {
		req.Scope.Put(fp, decision)
	}

	return result, nil
}

func (e *Evaluator) fingerprint(req CheckRequest) fingerprint.Fingerprint {
	tuples := make([]fingerprint.ContextTuple, len(req.ContextTuples))
	for i, t := range req.ContextTuples {
		sKind, sID := fingerprint.NormalizeSubject(t.Subject)
		oKind, oID := fingerprint.NormalizeObject(t.Object)
		tuples[i] = fingerprint.ContextTuple{FromType: sKind, FromID: sID, Relation: t.Relation, ToType: oKind, ToID: oID}
	}
	return fingerprint.Build(req.Tenant, req.Subject, req.Relation, req.ObjectType, req.ObjectID, tuples)
}

func (e *Evaluator) evaluate(ctx context.Context, tenant, subjKind, subjID, relation, objType, objID string) (Result, error) {
	visited := make(map[visitKey]bool)
	allowed, path, err := e.evalRelation(ctx, tenant, subjKind, subjID, relation, objType, objID, 0, visited)
	if err != nil {
		return Result{}, err
	}
	return Result{Allowed: allowed, Path: path}, nil
}

// evalRelation resolves whether subject has relation on (objType, objID),
// consulting the closure shortcut first, then the relation definition.
func (e *Evaluator) evalRelation(ctx context.Context, tenant, subjKind, subjID, relation, objType, objID string, depth int, visited map[visitKey]bool) (bool, []PathStep, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}
	if depth >= e.maxDepth {
		return false, []PathStep{{Marker: "max_depth_exceeded"}}, nil
	}

	vk := visitKey{node: "relation:" + relation, objectType: objType, objectID: objID}
	if visited[vk] {
		return false, nil, nil
	}
	visited[vk] = true

	if e.closure != nil && e.closure.IsMaterialized(tenant, objType, relation) {
		ok, err := e.closure.Ancestors(ctx, tenant, subjKind, subjID, relation, objType, objID)
		if err != nil {
			return false, nil, fmt.Errorf("%w: %v", errs.ErrStorageFailure, err)
		}
		return ok, []PathStep{{Marker: "closure_shortcut"}}, nil
	}

	def, err := e.loadDefinition(ctx, tenant, objType, relation)
	if err != nil {
		return false, nil, err
	}

	return e.evalNode(ctx, tenant, subjKind, subjID, relation, objType, objID, def, depth, visited)
}

func (e *Evaluator) loadDefinition(ctx context.Context, tenant, objType, relation string) (*model.Expression, error) {
	rows, err := e.sa.Query(ctx,
		`SELECT expression FROM relation_definitions WHERE tenant = ? AND object_type = ? AND relation_name = ?`,
		tenant, objType, relation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageFailure, err)
	}
	if len(rows) == 0 {
		return &model.Expression{Kind: model.KindDirect}, nil
	}

	raw, _ := rows[0]["expression"].([]byte)
	if raw == nil {
		if s, ok := rows[0]["expression"].(string); ok {
			raw = []byte(s)
		}
	}
	expr, perr := parser.Parse(raw, 0)
	if perr != nil {
		e.logger.Warn("relation definition parse failed, degrading to direct",
			zap.String("tenant", tenant), zap.String("object_type", objType),
			zap.String("relation", relation), zap.Error(perr))
		return &model.Expression{Kind: model.KindDirect}, nil
	}
	return expr, nil
}

func (e *Evaluator) evalNode(ctx context.Context, tenant, subjKind, subjID, relation, objType, objID string, node *model.Expression, depth int, visited map[visitKey]bool) (bool, []PathStep, error) {
	switch node.Kind {
	case model.KindDirect, model.KindThis:
		ok, err := e.directTuple(ctx, tenant, subjKind, subjID, relation, objType, objID)
		if err != nil {
			return false, nil, err
		}
		return ok, []PathStep{{Marker: "direct"}}, nil

	case model.KindUnion:
		var path []PathStep
		for _, child := range node.Children {
			ok, childPath, err := e.evalNode(ctx, tenant, subjKind, subjID, relation, objType, objID, child, depth+1, visited)
			path = append(path, childPath...)
			if err != nil {
				return false, path, err
			}
			if ok {
				return true, path, nil
			}
		}
		return false, path, nil

	case model.KindIntersection:
		var path []PathStep
		for _, child := range node.Children {
			ok, childPath, err := e.evalNode(ctx, tenant, subjKind, subjID, relation, objType, objID, child, depth+1, visited)
			path = append(path, childPath...)
			if err != nil {
				return false, path, err
			}
			if !ok {
				return false, path, nil
			}
		}
		return true, path, nil

	case model.KindExclusion:
		baseOK, basePath, err := e.evalNode(ctx, tenant, subjKind, subjID, relation, objType, objID, node.Base, depth+1, visited)
		path := basePath
		if err != nil {
			return false, path, err
		}
		if !baseOK {
			return false, path, nil
		}
		subOK, subPath, err := e.evalNode(ctx, tenant, subjKind, subjID, relation, objType, objID, node.Subtract, depth+1, visited)
		path = append(path, subPath...)
		if err != nil {
			return false, path, err
		}
		return !subOK, path, nil

	case model.KindTupleToUserset:
		rows, err := e.sa.Query(ctx,
			`SELECT from_type, from_id FROM relationship_tuples WHERE tenant = ? AND relation = ? AND to_type = ? AND to_id = ?`,
			tenant, node.TuplesetRelation, objType, objID)
		if err != nil {
			return false, nil, fmt.Errorf("%w: %v", errs.ErrStorageFailure, err)
		}
		var path []PathStep
		for _, row := range rows {
			xType, _ := row["from_type"].(string)
			xID, _ := row["from_id"].(string)
			ok, childPath, err := e.evalRelation(ctx, tenant, subjKind, subjID, node.ComputedUserset, xType, xID, depth+1, visited)
			path = append(path, childPath...)
			if err != nil {
				return false, path, err
			}
			if ok {
				return true, path, nil
			}
		}
		return false, path, nil

	default:
		return false, nil, nil
	}
}

func (e *Evaluator) directTuple(ctx context.Context, tenant, subjKind, subjID, relation, objType, objID string) (bool, error) {
	query := `SELECT 1 FROM relationship_tuples WHERE tenant = ? AND from_id = ? AND relation = ? AND to_type = ? AND to_id = ?`
	params := []any{tenant, subjID, relation, objType, objID}
	if subjKind != "" {
		query = `SELECT 1 FROM relationship_tuples WHERE tenant = ? AND from_type = ? AND from_id = ? AND relation = ? AND to_type = ? AND to_id = ?`
		params = []any{tenant, subjKind, subjID, relation, objType, objID}
	}
	rows, err := e.sa.Query(ctx, query, params...)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrStorageFailure, err)
	}
	return len(rows) > 0, nil
}

