package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/authrim-io/authrim/internal/authz/policy/globmatch"
	"github.com/authrim-io/authrim/internal/authz/policy/iprange"
)

// ConditionKind discriminates a condition's wire shape and construction.
type ConditionKind string

const (
	KindHasRole          ConditionKind = "has_role"
	KindHasAnyRole       ConditionKind = "has_any_role"
	KindHasAllRoles      ConditionKind = "has_all_roles"
	KindIsResourceOwner  ConditionKind = "is_resource_owner"
	KindSameOrganization ConditionKind = "same_organization"
	KindHasRelationship  ConditionKind = "has_relationship"
	KindUserTypeIs       ConditionKind = "user_type_is"
	KindPlanAllows       ConditionKind = "plan_allows"
	KindAttributeEquals  ConditionKind = "attribute_equals"
	KindAttributeExists  ConditionKind = "attribute_exists"
	KindAttributeIn      ConditionKind = "attribute_in"
	KindTimeInRange      ConditionKind = "time_in_range"
	KindDayOfWeek        ConditionKind = "day_of_week"
	KindValidDuring       ConditionKind = "valid_during"
	KindNumericGT        ConditionKind = "numeric_gt"
	KindNumericGTE       ConditionKind = "numeric_gte"
	KindNumericLT        ConditionKind = "numeric_lt"
	KindNumericLTE       ConditionKind = "numeric_lte"
	KindNumericEQ        ConditionKind = "numeric_eq"
	KindNumericBetween   ConditionKind = "numeric_between"
	KindCountryIn        ConditionKind = "country_in"
	KindCountryNotIn     ConditionKind = "country_not_in"
	KindIPInRange        ConditionKind = "ip_in_range"
	KindRequestCountLT   ConditionKind = "request_count_lt"
	KindRequestCountLTE  ConditionKind = "request_count_lte"
	KindRequestCountGT   ConditionKind = "request_count_gt"
	KindRequestCountGTE  ConditionKind = "request_count_gte"
)

// ErrUnknownConditionKind is returned by Build when no builder is
// registered for the requested kind.
var ErrUnknownConditionKind = fmt.Errorf("policy: unknown condition kind")

// Builder constructs a Condition from its wire parameters.
type Builder func(params json.RawMessage) (Condition, error)

var registry = map[ConditionKind]Builder{}

func register(kind ConditionKind, b Builder) { registry[kind] = b }

// Build constructs a Condition for kind from params, returning
// ErrUnknownConditionKind for an unregistered kind — unknown kinds are
// always a construction-time error, never silently skipped.
func Build(kind ConditionKind, params json.RawMessage) (Condition, error) {
	b, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionKind, kind)
	}
	return b(params)
}

func init() {
	register(KindHasRole, buildHasRole)
	register(KindHasAnyRole, buildHasAnyRole)
	register(KindHasAllRoles, buildHasAllRoles)
	register(KindIsResourceOwner, buildIsResourceOwner)
	register(KindSameOrganization, buildSameOrganization)
	register(KindHasRelationship, buildHasRelationship)
	register(KindUserTypeIs, buildUserTypeIs)
	register(KindPlanAllows, buildPlanAllows)
	register(KindAttributeEquals, buildAttributeEquals)
	register(KindAttributeExists, buildAttributeExists)
	register(KindAttributeIn, buildAttributeIn)
	register(KindTimeInRange, buildTimeInRange)
	register(KindDayOfWeek, buildDayOfWeek)
	register(KindValidDuring, buildValidDuring)
	register(KindNumericGT, buildNumeric(func(a, b float64) bool { return a > b }))
	register(KindNumericGTE, buildNumeric(func(a, b float64) bool { return a >= b }))
	register(KindNumericLT, buildNumeric(func(a, b float64) bool { return a < b }))
	register(KindNumericLTE, buildNumeric(func(a, b float64) bool { return a <= b }))
	register(KindNumericEQ, buildNumeric(func(a, b float64) bool { return a == b }))
	register(KindNumericBetween, buildNumericBetween)
	register(KindCountryIn, buildCountryIn)
	register(KindCountryNotIn, buildCountryNotIn)
	register(KindIPInRange, buildIPInRange)
	register(KindRequestCountLT, buildRequestCount(func(a, b int64) bool { return a < b }))
	register(KindRequestCountLTE, buildRequestCount(func(a, b int64) bool { return a <= b }))
	register(KindRequestCountGT, buildRequestCount(func(a, b int64) bool { return a > b }))
	register(KindRequestCountGTE, buildRequestCount(func(a, b int64) bool { return a >= b }))
}

// --- role conditions ---

type roleParams struct {
	Role        string          `json:"role"`
	Roles       []string        `json:"roles"`
	Scope       model.RoleScope `json:"scope"`
	ScopeTarget string          `json:"scope_target"`
}

func hasRoleMatching(pc model.PolicyContext, name string, scope model.RoleScope, scopeTarget string) bool {
	for _, ra := range pc.Subject.Roles {
		if ra.Role != name || !ra.Active(pc.Timestamp) {
			continue
		}
		if scope == model.ScopeGlobal {
			if ra.Scope != model.ScopeGlobal {
				continue
			}
			return true
		}
		if ra.Scope != scope {
			continue
		}
		if scopeTarget != "" && ra.ScopeTarget != scopeTarget {
			continue
		}
		return true
	}
	return false
}

func buildHasRole(params json.RawMessage) (Condition, error) {
	var p roleParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("has_role: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		return hasRoleMatching(pc, p.Role, p.Scope, p.ScopeTarget)
	}), nil
}

func buildHasAnyRole(params json.RawMessage) (Condition, error) {
	var p roleParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("has_any_role: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		for _, name := range p.Roles {
			if hasRoleMatching(pc, name, p.Scope, p.ScopeTarget) {
				return true
			}
		}
		return false
	}), nil
}

func buildHasAllRoles(params json.RawMessage) (Condition, error) {
	var p roleParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("has_all_roles: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		for _, name := range p.Roles {
			if !hasRoleMatching(pc, name, p.Scope, p.ScopeTarget) {
				return false
			}
		}
		return len(p.Roles) > 0
	}), nil
}

// --- ownership / org / relationship ---

func buildIsResourceOwner(params json.RawMessage) (Condition, error) {
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		return pc.Resource.OwnerID != "" && pc.Resource.OwnerID == pc.Subject.ID
	}), nil
}

func buildSameOrganization(params json.RawMessage) (Condition, error) {
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		return pc.Subject.OrgID != "" && pc.Subject.OrgID == pc.Resource.OrgID
	}), nil
}

type relationshipParams struct {
	Relation string `json:"relation"` // unused directly — model.Relationship has no named kind field; retained for forward compat
	ToType   string `json:"to_type"`
}

func buildHasRelationship(params json.RawMessage) (Condition, error) {
	var p relationshipParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("has_relationship: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		for _, r := range pc.Subject.Relationships {
			if p.ToType != "" && r.ToType != p.ToType {
				continue
			}
			if r.ToID != pc.Resource.ID {
				continue
			}
			if r.ExpiresAt != nil && r.ExpiresAt.Before(pc.Timestamp) {
				continue
			}
			return true
		}
		return false
	}), nil
}

type userTypeParams struct {
	Type string `json:"type"`
}

func buildUserTypeIs(params json.RawMessage) (Condition, error) {
	var p userTypeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("user_type_is: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		return pc.Subject.Type == p.Type
	}), nil
}

type planParams struct {
	Plans []string `json:"plans"`
}

func buildPlanAllows(params json.RawMessage) (Condition, error) {
	var p planParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("plan_allows: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		for _, tier := range p.Plans {
			if tier == pc.Environment.PlanTier {
				return true
			}
		}
		return false
	}), nil
}

// --- attribute conditions ---

type attributeEqualsParams struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	CheckExpiry *bool  `json:"checkExpiry"`
}

// checkExpiry reports whether expiry should be enforced, defaulting to
// true when the field is unset.
func checkExpiry(p *bool) bool {
	return p == nil || *p
}

func lookupAttribute(pc model.PolicyContext, name string, enforceExpiry bool) (model.Attribute, bool) {
	for _, a := range pc.Subject.Attributes {
		if a.Name != name {
			continue
		}
		if enforceExpiry && a.ExpiresAt != nil && a.ExpiresAt.Before(pc.Timestamp) {
			continue
		}
		return a, true
	}
	return model.Attribute{}, false
}

func buildAttributeEquals(params json.RawMessage) (Condition, error) {
	var p attributeEqualsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("attribute_equals: %w", err)
	}
	enforceExpiry := checkExpiry(p.CheckExpiry)
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		a, ok := lookupAttribute(pc, p.Name, enforceExpiry)
		return ok && a.Value == p.Value
	}), nil
}

type attributeExistsParams struct {
	Name        string `json:"name"`
	CheckExpiry *bool  `json:"checkExpiry"`
}

func buildAttributeExists(params json.RawMessage) (Condition, error) {
	var p attributeExistsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("attribute_exists: %w", err)
	}
	enforceExpiry := checkExpiry(p.CheckExpiry)
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		_, ok := lookupAttribute(pc, p.Name, enforceExpiry)
		return ok
	}), nil
}

type attributeInParams struct {
	Name        string   `json:"name"`
	Values      []string `json:"values"`
	CheckExpiry *bool    `json:"checkExpiry"`
}

func buildAttributeIn(params json.RawMessage) (Condition, error) {
	var p attributeInParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("attribute_in: %w", err)
	}
	enforceExpiry := checkExpiry(p.CheckExpiry)
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		a, ok := lookupAttribute(pc, p.Name, enforceExpiry)
		if !ok {
			return false
		}
		for _, v := range p.Values {
			if v == a.Value {
				return true
			}
		}
		return false
	}), nil
}

// --- time conditions ---

type timeRangeParams struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	TZ        string `json:"tz"`
}

// loadLocation resolves an IANA timezone name, falling back to UTC for an
// empty name or one time.LoadLocation doesn't recognize.
func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func buildTimeInRange(params json.RawMessage) (Condition, error) {
	var p timeRangeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("time_in_range: %w", err)
	}
	loc := loadLocation(p.TZ)
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		h := pc.Timestamp.In(loc).Hour()
		if p.StartHour <= p.EndHour {
			return h >= p.StartHour && h < p.EndHour
		}
		// wraps midnight, e.g. start=22 end=6
		return h >= p.StartHour || h < p.EndHour
	}), nil
}

type dayOfWeekParams struct {
	Days []time.Weekday `json:"days"`
	TZ   string         `json:"tz"`
}

func buildDayOfWeek(params json.RawMessage) (Condition, error) {
	var raw struct {
		Days []int  `json:"days"`
		TZ   string `json:"tz"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, fmt.Errorf("day_of_week: %w", err)
	}
	days := make(map[time.Weekday]struct{}, len(raw.Days))
	for _, d := range raw.Days {
		days[time.Weekday(d)] = struct{}{}
	}
	loc := loadLocation(raw.TZ)
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		_, ok := days[pc.Timestamp.In(loc).Weekday()]
		return ok
	}), nil
}

type validDuringParams struct {
	NotBefore *time.Time `json:"not_before"`
	NotAfter  *time.Time `json:"not_after"`
}

func buildValidDuring(params json.RawMessage) (Condition, error) {
	var p validDuringParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("valid_during: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		if p.NotBefore != nil && pc.Timestamp.Before(*p.NotBefore) {
			return false
		}
		if p.NotAfter != nil && pc.Timestamp.After(*p.NotAfter) {
			return false
		}
		return true
	}), nil
}

// --- numeric conditions ---

type numericParams struct {
	Attribute string  `json:"attribute"`
	Value     float64 `json:"value"`
}

func numericAttributeValue(pc model.PolicyContext, name string) (float64, bool) {
	a, ok := lookupAttribute(pc, name, true)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(a.Value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func buildNumeric(cmp func(a, b float64) bool) Builder {
	return func(params json.RawMessage) (Condition, error) {
		var p numericParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("numeric condition: %w", err)
		}
		return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
			got, ok := numericAttributeValue(pc, p.Attribute)
			return ok && cmp(got, p.Value)
		}), nil
	}
}

type numericBetweenParams struct {
	Attribute string  `json:"attribute"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

func buildNumericBetween(params json.RawMessage) (Condition, error) {
	var p numericBetweenParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("numeric_between: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		got, ok := numericAttributeValue(pc, p.Attribute)
		return ok && got >= p.Min && got <= p.Max
	}), nil
}

// --- geo conditions ---

type countryListParams struct {
	Countries []string `json:"countries"`
}

func buildCountryIn(params json.RawMessage) (Condition, error) {
	var p countryListParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("country_in: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		subject := strings.ToUpper(pc.Environment.Country)
		for _, c := range p.Countries {
			if strings.ToUpper(c) == subject {
				return true
			}
		}
		return false
	}), nil
}

func buildCountryNotIn(params json.RawMessage) (Condition, error) {
	var p countryListParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("country_not_in: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		subject := strings.ToUpper(pc.Environment.Country)
		for _, c := range p.Countries {
			if strings.ToUpper(c) == subject {
				return false
			}
		}
		return true
	}), nil
}

type ipRangeParams struct {
	CIDR string `json:"cidr"`
}

func buildIPInRange(params json.RawMessage) (Condition, error) {
	var p ipRangeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("ip_in_range: %w", err)
	}
	return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
		return iprange.Contains(pc.Environment.IP, p.CIDR)
	}), nil
}

// --- rate/request-count conditions ---

type requestCountParams struct {
	KeyPattern string `json:"key_pattern"` // globmatch pattern, e.g. "login:*"
	Value      int64  `json:"value"`
}

func buildRequestCount(cmp func(a, b int64) bool) Builder {
	return func(params json.RawMessage) (Condition, error) {
		var p requestCountParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("request_count condition: %w", err)
		}
		return ConditionFunc(func(_ context.Context, pc model.PolicyContext) bool {
			for _, rc := range pc.Environment.RequestCounts {
				if globmatch.Match(p.KeyPattern, rc.Key) && cmp(rc.Count, p.Value) {
					return true
				}
			}
			return false
		}), nil
	}
}
