// Package policy implements attribute-based access control for investment
// actions. The engine is pure: it consumes principal and resource attributes,
// never touches storage, and the same inputs always produce the same decision.
package policy

import "fmt"

// Rule names, stable for audit records and API error payloads.
const (
	RuleTenantIsolation = "tenant_isolation"
	RuleRiskCheck       = "risk_check"
	RuleAccreditation   = "accreditation"
)

// Principal carries the attributes of the acting user.
type Principal struct {
	ID            string
	TenantID      string
	RiskTolerance int
	Accredited    bool
}

// Resource carries the attributes of the asset being acted on.
type Resource struct {
	ID                    string
	TenantID              string
	RiskLevel             int
	AccreditationRequired bool
}

// Decision is the result of evaluating all rules.
type Decision struct {
	Allowed bool
	// Rule is the first failing rule when Allowed is false.
	Rule   string
	Reason string
}

// CrossTenantAccessError signals a tenant isolation violation.
type CrossTenantAccessError struct {
	PrincipalTenant string
	ResourceTenant  string
}

func (e *CrossTenantAccessError) Error() string {
	return "access denied: resource belongs to a different tenant"
}

func (e *CrossTenantAccessError) Rule() string { return RuleTenantIsolation }

// RiskToleranceExceededError signals that the asset is riskier than the
// principal's tolerance allows.
type RiskToleranceExceededError struct {
	Tolerance int
	RiskLevel int
}

func (e *RiskToleranceExceededError) Error() string {
	return fmt.Sprintf("risk tolerance %d is below asset risk level %d", e.Tolerance, e.RiskLevel)
}

func (e *RiskToleranceExceededError) Rule() string { return RuleRiskCheck }

// AccreditationRequiredError signals that the asset is restricted to
// accredited investors.
type AccreditationRequiredError struct{}

func (e *AccreditationRequiredError) Error() string {
	return "asset is only available to accredited investors"
}

func (e *AccreditationRequiredError) Rule() string { return RuleAccreditation }

// Denial is implemented by every policy error; it exposes the failing rule so
// callers can surface an actionable message without unwrapping each type.
type Denial interface {
	error
	Rule() string
}

// AccessRule evaluates one access control requirement. It returns nil to
// allow and a Denial describing the violation otherwise.
type AccessRule func(p Principal, r Resource) Denial

func tenantIsolation(p Principal, r Resource) Denial {
	if p.TenantID != r.TenantID {
		return &CrossTenantAccessError{PrincipalTenant: p.TenantID, ResourceTenant: r.TenantID}
	}
	return nil
}

func riskCheck(p Principal, r Resource) Denial {
	if p.RiskTolerance < r.RiskLevel {
		return &RiskToleranceExceededError{Tolerance: p.RiskTolerance, RiskLevel: r.RiskLevel}
	}
	return nil
}

func accreditation(p Principal, r Resource) Denial {
	if r.AccreditationRequired && !p.Accredited {
		return &AccreditationRequiredError{}
	}
	return nil
}

// Engine evaluates access rules in a fixed order, denying on the first
// failure.
type Engine struct {
	rules []AccessRule
}

// NewEngine returns an engine with the standard rule set: tenant isolation,
// then risk check, then accreditation.
func NewEngine() *Engine {
	return &Engine{rules: []AccessRule{tenantIsolation, riskCheck, accreditation}}
}

// Authorize evaluates all rules for the given action. The action is recorded
// on the decision path but does not change rule semantics; every mutating
// action is gated identically.
func (e *Engine) Authorize(p Principal, r Resource, action string) (Decision, error) {
	for _, rule := range e.rules {
		if denial := rule(p, r); denial != nil {
			return Decision{Allowed: false, Rule: denial.Rule(), Reason: denial.Error()}, denial
		}
	}
	return Decision{Allowed: true}, nil
}
