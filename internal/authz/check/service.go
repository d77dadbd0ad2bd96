// Package check implements the Unified Check Service: the single entry
// point that combines ReBAC evaluation and policy decisions into one
// authorization verdict, with no ambient/global config — every dependency
// and setting is threaded through NewService's constructor.
package check

import (
	"context"
	"fmt"
	"time"

	"github.com/authrim-io/authrim/internal/authz/cache"
	"github.com/authrim-io/authrim/internal/authz/errs"
	"github.com/authrim-io/authrim/internal/authz/metrics"
	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/authrim-io/authrim/internal/authz/permission"
	"github.com/authrim-io/authrim/internal/authz/policy"
	"github.com/authrim-io/authrim/internal/authz/rebac"
	"github.com/authrim-io/authrim/internal/authz/storage"
	"github.com/authrim-io/authrim/internal/authz/telemetry"
	"go.uber.org/zap"
)

// CombinationMode selects how ReBAC and policy verdicts combine into one
// decision.
type CombinationMode string

const (
	// AllowIfAnyAllow allows iff (ReBAC allowed OR policy allowed) AND
	// policy did not explicitly deny. This is the package default.
	AllowIfAnyAllow CombinationMode = "allow_if_any_allow"
	// AllowIfAllAndNoDeny allows iff ReBAC allowed AND policy allowed AND
	// policy did not explicitly deny.
	AllowIfAllAndNoDeny CombinationMode = "allow_if_all_and_no_deny"
)

// Config is threaded through NewService; there is no package-level or
// ambient configuration anywhere in this package.
type Config struct {
	Enabled         bool
	CombinationMode CombinationMode
	StrictMode      bool // storage errors become a deny decision instead of bubbling
	DefaultTTL      time.Duration
	MaxBatchSize    int
}

// DefaultConfig returns sane defaults: enabled, AllowIfAnyAllow, non-strict,
// 60s TTL, batch cap 100.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		CombinationMode: AllowIfAnyAllow,
		StrictMode:      false,
		DefaultTTL:      60 * time.Second,
		MaxBatchSize:    100,
	}
}

// ReBACRequest is the optional ReBAC portion of a CheckRequest.
type ReBACRequest struct {
	Relation      string
	ObjectType    string
	ObjectID      string
	ContextTuples []rebac.ContextTuple
}

// CheckRequest is one unified authorization check.
type CheckRequest struct {
	Tenant          string
	Subject         model.Subject
	Permission      string // "<resource>:<id?>:<action>"
	ReBAC           *ReBACRequest
	ResourceContext model.Resource
	Environment     model.Environment
	Timestamp       time.Time
}

// CheckResult is the unified verdict.
type CheckResult struct {
	Allowed     bool
	ResolvedVia []string
}

// BatchRequest evaluates multiple checks sharing one request-scoped cache
// tier.
type BatchRequest struct {
	Entries    []CheckRequest
	StopOnDeny bool
}

// BatchResult is the outcome of BatchCheck.
type BatchResult struct {
	Results  []CheckResult
	HaltedAt *int
}

// Service is the Unified Check Service.
type Service struct {
	rebac   *rebac.Evaluator
	policy  *policy.Engine
	sa      storage.Adapter
	cache   *cache.Manager
	cfg     Config
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// NewService builds a Service. metrics may be nil, in which case no
// metrics are recorded.
func NewService(re *rebac.Evaluator, pe *policy.Engine, sa storage.Adapter, cm *cache.Manager, cfg Config, rec *metrics.Recorder, logger *zap.Logger) *Service {
	if cfg.CombinationMode == "" {
		cfg.CombinationMode = AllowIfAnyAllow
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rebac: re, policy: pe, sa: sa, cache: cm, cfg: cfg, metrics: rec, logger: logger}
}

// Check runs one unified authorization check, evaluated under its own
// fresh request-scoped cache tier.
func (s *Service) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	return s.checkWithScope(ctx, req, s.cache.NewRequestScope())
}

// checkWithScope runs one unified authorization check under the given
// request-scoped cache tier, letting BatchCheck share one scope across
// every entry in a batch.
func (s *Service) checkWithScope(ctx context.Context, req CheckRequest, scope *cache.RequestScope) (CheckResult, error) {
	ctx, span := telemetry.StartCheckSpan(ctx, req.Tenant, req.Permission)

	if !s.cfg.Enabled {
		span.End()
		return CheckResult{}, fmt.Errorf("%w: unified check service disabled", errs.ErrFeatureDisabled)
	}

	if req.Permission != "" {
		if _, err := permission.Parse(req.Permission); err != nil {
			telemetry.EndCheckSpan(span, false, nil)
			return CheckResult{}, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
		}
	}

	var resolvedVia []string
	rebacAllowed := false
	policyAllowed := false
	policyDenied := false

	if req.ReBAC != nil {
		rctx, rspan := telemetry.StartReBACSpan(ctx, req.ReBAC.Relation)
		result, err := s.rebac.Check(rctx, rebac.CheckRequest{
			Tenant:        req.Tenant,
			Subject:       req.Subject.ID,
			Relation:      req.ReBAC.Relation,
			ObjectType:    req.ReBAC.ObjectType,
			ObjectID:      req.ReBAC.ObjectID,
			ContextTuples: req.ReBAC.ContextTuples,
			Scope:         scope,
		})
		rspan.End()
		if err != nil {
			telemetry.EndCheckSpan(span, false, nil)
			if s.cfg.StrictMode && errs.IsStorageError(err) {
				return CheckResult{Allowed: false, ResolvedVia: []string{"storage_error"}}, nil
			}
			return CheckResult{}, err
		}
		rebacAllowed = result.Allowed
		resolvedVia = append(resolvedVia, result.ResolvedVia)
	}

	if s.policy != nil {
		ts := req.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		pctx := model.PolicyContext{
			Subject:     req.Subject,
			Resource:    req.ResourceContext,
			Environment: req.Environment,
			Timestamp:   ts,
		}
		if p, err := permission.Parse(req.Permission); err == nil {
			pctx.Action = p.Action
		}

		_, pspan := telemetry.StartPolicySpan(ctx)
		decision := s.policy.Evaluate(ctx, pctx)
		telemetry.EndPolicySpan(pspan, decision.DecidedBy, decision.Allowed)

		policyAllowed = decision.Allowed
		policyDenied = !decision.Allowed && decision.DecidedBy != "default"
		resolvedVia = append(resolvedVia, "policy:"+decision.DecidedBy)
	}

	allowed := s.combine(rebacAllowed, policyAllowed, policyDenied, req.ReBAC != nil)
	if len(resolvedVia) == 0 {
		resolvedVia = []string{"default"}
	}

	if s.metrics != nil {
		via := resolvedVia[0]
		s.metrics.ChecksTotal.WithLabelValues(via, boolLabel(allowed)).Inc()
	}

	telemetry.EndCheckSpan(span, allowed, resolvedVia)
	return CheckResult{Allowed: allowed, ResolvedVia: resolvedVia}, nil
}

func (s *Service) combine(rebacAllowed, policyAllowed, policyDenied, hasRebac bool) bool {
	if policyDenied {
		return false
	}
	switch s.cfg.CombinationMode {
	case AllowIfAllAndNoDeny:
		if hasRebac {
			return rebacAllowed && policyAllowed
		}
		return policyAllowed
	default: // AllowIfAnyAllow
		return rebacAllowed || policyAllowed
	}
}

// BatchCheck evaluates req.Entries in order, sharing one request-scoped
// cache tier. It rejects batches over Config.MaxBatchSize before
// evaluating anything.
func (s *Service) BatchCheck(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if len(req.Entries) > s.cfg.MaxBatchSize {
		return BatchResult{}, fmt.Errorf("%w: batch size %d exceeds max %d", errs.ErrInvalidRequest, len(req.Entries), s.cfg.MaxBatchSize)
	}

	if s.metrics != nil {
		s.metrics.BatchSize.Observe(float64(len(req.Entries)))
	}

	scope := s.cache.NewRequestScope()
	results := make([]CheckResult, 0, len(req.Entries))
	for i, entry := range req.Entries {
		result, err := s.checkWithScope(ctx, entry, scope)
		if err != nil {
			return BatchResult{}, err
		}
		results = append(results, result)
		if req.StopOnDeny && !result.Allowed {
			idx := i
			return BatchResult{Results: results, HaltedAt: &idx}, nil
		}
	}
	return BatchResult{Results: results}, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
