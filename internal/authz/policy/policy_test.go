package policy

import (
	"context"
	"testing"

	"github.com/authrim-io/authrim/internal/authz/model"
)

func allowAlways(_ context.Context, _ model.PolicyContext) bool { return true }
func denyAlways(_ context.Context, _ model.PolicyContext) bool  { return false }

func TestEngine_DefaultDenyWhenNoRuleMatches(t *testing.T) {
	e := New(EffectDeny)
	e.AddRule(Rule{ID: "r1", Priority: 10, Effect: EffectAllow, Conditions: []Condition{ConditionFunc(denyAlways)}})

	d := e.Evaluate(context.Background(), model.PolicyContext{})
	if d.Allowed {
		t.Fatalf("expected deny-by-default, got %+v", d)
	}
	if d.DecidedBy != "default" {
		t.Fatalf("expected DecidedBy=default, got %q", d.DecidedBy)
	}
}

func TestEngine_FirstMatchWins(t *testing.T) {
	e := New(EffectDeny)
	e.AddRule(Rule{ID: "low", Priority: 1, Effect: EffectAllow, Conditions: []Condition{ConditionFunc(allowAlways)}})
	e.AddRule(Rule{ID: "high", Priority: 100, Effect: EffectDeny, Conditions: []Condition{ConditionFunc(allowAlways)}})

	d := e.Evaluate(context.Background(), model.PolicyContext{})
	if d.Allowed {
		t.Fatalf("expected the higher-priority deny rule to win, got %+v", d)
	}
	if d.DecidedBy != "high" {
		t.Fatalf("expected DecidedBy=high, got %q", d.DecidedBy)
	}
}

func TestEngine_TiesBrokenByInsertionOrder(t *testing.T) {
	e := New(EffectDeny)
	e.AddRule(Rule{ID: "first", Priority: 5, Effect: EffectAllow, Conditions: []Condition{ConditionFunc(allowAlways)}})
	e.AddRule(Rule{ID: "second", Priority: 5, Effect: EffectDeny, Conditions: []Condition{ConditionFunc(allowAlways)}})

	d := e.Evaluate(context.Background(), model.PolicyContext{})
	if d.DecidedBy != "first" {
		t.Fatalf("expected the first-inserted equal-priority rule to win, got %q", d.DecidedBy)
	}
}

func TestEngine_AllConditionsMustHold(t *testing.T) {
	e := New(EffectDeny)
	e.AddRule(Rule{
		ID: "r1", Priority: 10, Effect: EffectAllow,
		Conditions: []Condition{ConditionFunc(allowAlways), ConditionFunc(denyAlways)},
	})

	d := e.Evaluate(context.Background(), model.PolicyContext{})
	if d.Allowed {
		t.Fatalf("expected rule to be skipped when one condition fails, got %+v", d)
	}
	if d.DecidedBy != "default" {
		t.Fatalf("expected fallthrough to default, got %q", d.DecidedBy)
	}
}

func TestEngine_RulesSnapshotIsOrderedByPriority(t *testing.T) {
	e := New(EffectDeny)
	e.AddRule(Rule{ID: "a", Priority: 1})
	e.AddRule(Rule{ID: "b", Priority: 50})
	e.AddRule(Rule{ID: "c", Priority: 25})

	rules := e.Rules()
	if len(rules) != 3 || rules[0].ID != "b" || rules[1].ID != "c" || rules[2].ID != "a" {
		t.Fatalf("expected priority-descending order [b c a], got %v", rules)
	}
}
