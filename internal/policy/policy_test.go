package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeAllows(t *testing.T) {
	engine := NewEngine()

	p := Principal{ID: "u1", TenantID: "t1", RiskTolerance: 3, Accredited: false}
	r := Resource{ID: "a1", TenantID: "t1", RiskLevel: 2, AccreditationRequired: false}

	decision, err := engine.Authorize(p, r, "invest")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Rule)
}

func TestAuthorizeDeniesCrossTenant(t *testing.T) {
	engine := NewEngine()

	p := Principal{ID: "u1", TenantID: "t1", RiskTolerance: 5, Accredited: true}
	r := Resource{ID: "a1", TenantID: "t2", RiskLevel: 1}

	decision, err := engine.Authorize(p, r, "invest")
	require.Error(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RuleTenantIsolation, decision.Rule)

	var denial *CrossTenantAccessError
	require.True(t, errors.As(err, &denial))
	assert.Equal(t, "t1", denial.PrincipalTenant)
	assert.Equal(t, "t2", denial.ResourceTenant)
}

func TestAuthorizeDeniesRiskExceeded(t *testing.T) {
	engine := NewEngine()

	// a regular investor must not reach above their tolerance
	p := Principal{ID: "u1", TenantID: "t1", RiskTolerance: 3}
	r := Resource{ID: "a1", TenantID: "t1", RiskLevel: 4}

	decision, err := engine.Authorize(p, r, "invest")
	require.Error(t, err)
	assert.Equal(t, RuleRiskCheck, decision.Rule)

	var denial *RiskToleranceExceededError
	require.True(t, errors.As(err, &denial))
	assert.Equal(t, 3, denial.Tolerance)
	assert.Equal(t, 4, denial.RiskLevel)
}

func TestAuthorizeDeniesUnaccredited(t *testing.T) {
	engine := NewEngine()

	// accreditation gates the asset regardless of risk level
	p := Principal{ID: "u1", TenantID: "t1", RiskTolerance: 4, Accredited: false}
	for _, riskLevel := range []int{1, 2, 3, 4} {
		r := Resource{ID: "a1", TenantID: "t1", RiskLevel: riskLevel, AccreditationRequired: true}

		decision, err := engine.Authorize(p, r, "invest")
		require.Error(t, err)
		assert.Equal(t, RuleAccreditation, decision.Rule)
	}
}

func TestRuleOrderTenantBeforeRisk(t *testing.T) {
	engine := NewEngine()

	// both tenant and risk fail; the tenant rule must win
	p := Principal{ID: "u1", TenantID: "t1", RiskTolerance: 1}
	r := Resource{ID: "a1", TenantID: "t2", RiskLevel: 5, AccreditationRequired: true}

	decision, err := engine.Authorize(p, r, "invest")
	require.Error(t, err)
	assert.Equal(t, RuleTenantIsolation, decision.Rule)
}

func TestAuthorizeDeterministic(t *testing.T) {
	engine := NewEngine()

	p := Principal{ID: "u1", TenantID: "t1", RiskTolerance: 2}
	r := Resource{ID: "a1", TenantID: "t1", RiskLevel: 4}

	first, errFirst := engine.Authorize(p, r, "invest")
	second, errSecond := engine.Authorize(p, r, "invest")
	assert.Equal(t, first, second)
	assert.Equal(t, errFirst, errSecond)
}
