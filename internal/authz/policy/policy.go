// Package policy implements the deny-by-default, priority-ordered policy
// decision engine: an ordered list of rules, each gated by an ANDed set of
// typed conditions, generalizing internal/api/rbac.Engine's deterministic
// resolution to the full condition vocabulary.
package policy

import (
	"context"
	"sort"
	"sync"

	"github.com/authrim-io/authrim/internal/authz/model"
)

// Effect is the outcome a Rule produces once its conditions hold.
type Effect = model.Effect

const (
	EffectAllow = model.EffectAllow
	EffectDeny  = model.EffectDeny
)

// Condition is a single evaluable predicate attached to a Rule.
type Condition interface {
	Evaluate(ctx context.Context, pc model.PolicyContext) bool
}

// ConditionFunc adapts a plain function to the Condition interface.
type ConditionFunc func(ctx context.Context, pc model.PolicyContext) bool

// Evaluate calls f.
func (f ConditionFunc) Evaluate(ctx context.Context, pc model.PolicyContext) bool { return f(ctx, pc) }

// Rule is one entry in the engine's ordered rule list.
type Rule struct {
	ID          string
	Name        string
	Description string
	Priority    int32
	Effect      Effect
	Conditions  []Condition
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed   bool
	DecidedBy string // rule ID, or "default"
	Reason    string
}

// Engine holds an ordered, priority-sorted rule set and evaluates the
// first rule whose conditions all hold.
type Engine struct {
	mu              sync.RWMutex
	rules           []ruleEntry
	defaultDecision Effect
}

type ruleEntry struct {
	rule  Rule
	order int
}

// New creates an Engine. defaultDecision is returned when no rule's
// conditions hold; it defaults to EffectDeny (deny-by-default) if the
// zero value is passed.
func New(defaultDecision Effect) *Engine {
	if defaultDecision == "" {
		defaultDecision = EffectDeny
	}
	return &Engine{defaultDecision: defaultDecision}
}

// AddRule inserts r, keeping rules ordered by descending priority, ties
// broken by insertion order (sort.SliceStable guarantees ties preserve
// the order they were added in).
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, ruleEntry{rule: r, order: len(e.rules)})
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].rule.Priority > e.rules[j].rule.Priority
	})
}

// Rules returns a snapshot of the current rule order, for inspection.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	for i, re := range e.rules {
		out[i] = re.rule
	}
	return out
}

// Evaluate scans rules in priority order and returns the first whose
// conditions all hold (AND, short-circuit on first false). No match
// returns the engine's default decision.
func (e *Engine) Evaluate(ctx context.Context, pc model.PolicyContext) Decision {
	e.mu.RLock()
	rules := make([]ruleEntry, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	for _, re := range rules {
		if ctx.Err() != nil {
			break
		}
		if allConditionsHold(ctx, re.rule.Conditions, pc) {
			return Decision{
				Allowed:   re.rule.Effect == EffectAllow,
				DecidedBy: re.rule.ID,
				Reason:    re.rule.Name,
			}
		}
	}

	return Decision{
		Allowed:   e.defaultDecision == EffectAllow,
		DecidedBy: "default",
		Reason:    "no matching rule",
	}
}

func allConditionsHold(ctx context.Context, conds []Condition, pc model.PolicyContext) bool {
	for _, c := range conds {
		if !c.Evaluate(ctx, pc) {
			return false
		}
	}
	return true
}
