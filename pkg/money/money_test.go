package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUnitsForExactDivision(t *testing.T) {
	units, err := UnitsFor(dec("1000.00"), dec("100.00"))
	require.NoError(t, err)
	assert.True(t, units.Equal(dec("10")), "got %s", units)
}

func TestUnitsForTruncatesTowardZero(t *testing.T) {
	// 10 / 3 = 3.33333333... -> truncated at 8 places, never rounded up
	units, err := UnitsFor(dec("10.00"), dec("3.00"))
	require.NoError(t, err)
	assert.True(t, units.Equal(dec("3.33333333")), "got %s", units)

	// the truncated quantity never costs more than was paid
	cost := units.Mul(dec("3.00"))
	assert.True(t, cost.LessThanOrEqual(dec("10.00")))
}

func TestUnitsForNeverRoundsUpAtTheLastPlace(t *testing.T) {
	// true quotient 0.999999999999999999...: a rounded division would tick
	// the eighth place up to a full unit the buyer did not pay for
	price := dec("1.000000000000000001")
	units, err := UnitsFor(dec("1.00"), price)
	require.NoError(t, err)
	assert.True(t, units.Equal(dec("0.99999999")), "got %s", units)
	assert.True(t, units.Mul(price).LessThanOrEqual(dec("1.00")))
}

func TestUnitsForRejectsBadPrice(t *testing.T) {
	_, err := UnitsFor(dec("10.00"), decimal.Zero)
	require.Error(t, err)

	_, err = UnitsFor(dec("10.00"), dec("-5"))
	require.Error(t, err)
}

func TestValidAmount(t *testing.T) {
	assert.True(t, ValidAmount(dec("0.01")))
	assert.True(t, ValidAmount(dec("1000")))
	assert.False(t, ValidAmount(decimal.Zero))
	assert.False(t, ValidAmount(dec("-1")))
	assert.False(t, ValidAmount(dec("1.001")), "sub-cent precision rejected")
	assert.False(t, ValidAmount(MaxAmount.Add(dec("0.01"))))
}

func TestRoundMoney(t *testing.T) {
	assert.True(t, RoundMoney(dec("1.005")).Equal(dec("1.01")))
	assert.True(t, RoundMoney(dec("1.004")).Equal(dec("1.00")))
}
