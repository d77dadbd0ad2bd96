// Package model defines the entities shared by the ReBAC evaluator, policy
// engine, cache manager, and single-use stores. The relationship,
// definition, closure and role entities carry a Tenant field; callers are
// expected to pass a non-empty tenant on every call that touches
// persistent state.
package model

import "time"

// RelationshipTuple is a stored subject-relation-object fact. The 6-tuple
// excluding CreatedAt is unique per tenant; tuples are immutable and
// updated via delete+insert.
type RelationshipTuple struct {
	Tenant    string
	FromType  string
	FromID    string
	Relation  string
	ToType    string
	ToID      string
	CreatedAt time.Time
}

// ExpressionKind discriminates a RelationExpression node.
type ExpressionKind string

const (
	KindDirect         ExpressionKind = "direct"
	KindUnion          ExpressionKind = "union"
	KindIntersection   ExpressionKind = "intersection"
	KindExclusion      ExpressionKind = "exclusion"
	KindTupleToUserset ExpressionKind = "tuple_to_userset"
	KindThis           ExpressionKind = "this"
)

// Expression is a parsed relation-algebra node. Only the fields relevant
// to Kind are populated; the rest are zero.
type Expression struct {
	Kind     ExpressionKind
	Children []*Expression // union, intersection

	Base     *Expression // exclusion
	Subtract *Expression // exclusion

	TuplesetRelation string // tuple_to_userset
	ComputedUserset  string // tuple_to_userset
}

// RelationDefinition binds a relation expression to an object type. A
// missing definition for (ObjectType, RelationName) is treated as Direct
// by every evaluator — callers never need to synthesize a placeholder.
type RelationDefinition struct {
	Tenant         string
	ObjectType     string
	RelationName   string
	Expression     *Expression
	UsersetRewrite bool
}

// ClosureEntry is one materialized reflexive-transitive ancestry edge.
// Depth 0 entries are self-edges for reflexive relations.
type ClosureEntry struct {
	Tenant         string
	AncestorType   string
	AncestorID     string
	DescendantType string
	DescendantID   string
	Relation       string
	Depth          int
	GeneratedAt    time.Time
}

// RoleScope bounds the blast radius of a role assignment.
type RoleScope string

const (
	ScopeGlobal   RoleScope = "global"
	ScopeOrg      RoleScope = "org"
	ScopeResource RoleScope = "resource"
)

// Role is a named bundle of permission strings, unique per tenant.
type Role struct {
	ID          string
	Tenant      string
	Name        string
	Permissions map[string]struct{}
	CreatedAt   time.Time
}

// RoleAssignment binds a user to a role within a scope. An assignment is
// active iff ExpiresAt is nil or in the future.
type RoleAssignment struct {
	User        string
	Role        string
	Scope       RoleScope
	ScopeTarget string
	ExpiresAt   *time.Time
}

// Active reports whether the assignment has not expired as of now.
func (a RoleAssignment) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Effect is the outcome a PolicyRule produces when its conditions hold.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// PolicyRule is one entry in the policy engine's ordered rule list.
type PolicyRule struct {
	ID          string
	Name        string
	Description string
	Priority    int32
	Effect      Effect
	Conditions  []Condition
}

// Condition is a single evaluable predicate attached to a PolicyRule.
// The condition kinds in package policy implement policy.Condition, whose
// Evaluate also takes a context.Context, not this interface.
type Condition interface {
	Evaluate(ctx PolicyContext) bool
}

// Attribute is a single verified user attribute, with optional expiry.
type Attribute struct {
	Name      string
	Value     string
	ExpiresAt *time.Time
}

// Subject describes the principal a policy check is evaluated for.
type Subject struct {
	ID         string
	Type       string
	OrgID      string
	Roles      []RoleAssignment
	Attributes []Attribute
	Relationships []Relationship
}

// Relationship is a lightweight relation fact surfaced to policy
// conditions such as has_relationship (distinct from a stored
// RelationshipTuple, which belongs to the ReBAC subsystem).
type Relationship struct {
	ToID      string
	ToType    string
	ExpiresAt *time.Time
}

// Resource describes the object a policy check is evaluated against.
type Resource struct {
	Type    string
	ID      string
	OwnerID string
	OrgID   string
	Attributes map[string]string
}

// RequestCount is one named counter a rate condition can inspect.
type RequestCount struct {
	Key   string
	Count int64
}

// Environment carries ambient facts (geo, rate counters) for predicates.
type Environment struct {
	IP             string
	Country        string
	RequestCounts  []RequestCount
	PlanTier       string
}

// PolicyContext is the full input to PolicyRule evaluation.
type PolicyContext struct {
	Subject     Subject
	Resource    Resource
	Action      string
	Environment Environment
	Timestamp   time.Time
}

// ParRequest is a Pushed Authorization Request awaiting consumption.
type ParRequest struct {
	RequestURI string
	ClientID   string
	Payload    []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Consumed   bool
}

// AuthCode is an OAuth authorization code awaiting exchange.
type AuthCode struct {
	Code           string
	ClientID       string
	Subject        string
	RedirectURI    string
	PKCEChallenge  string
	Scope          []string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Consumed       bool
}

// RefreshToken is one member of a rotation family.
type RefreshToken struct {
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
