// Package money provides decimal arithmetic helpers for monetary amounts and
// fractional share quantities. All money movement in the system goes through
// these precisions so that amounts compare exactly.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MoneyPlaces is the number of decimal places carried for currency amounts.
	MoneyPlaces = 2
	// UnitPlaces is the number of decimal places carried for fractional units.
	UnitPlaces = 8
)

// MaxAmount is the largest amount any single posting may carry.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// RoundMoney normalizes a currency amount to 2 decimal places.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}

// UnitsFor computes how many fractional units an amount buys at the given unit
// price. The division truncates toward zero so an investor never receives more
// value than paid for. The quotient is taken as an exact integer count of
// 10^-8 units; a rounded division could tick up across the last decimal place
// when the true quotient sits just below a unit multiple.
func UnitsFor(amount, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if unitPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("unit price must be positive, got %s", unitPrice)
	}
	q, _ := amount.Mul(decimal.New(1, UnitPlaces)).QuoRem(unitPrice, 0)
	return q.Shift(-UnitPlaces), nil
}

// ValidAmount reports whether an amount is usable for a posting: positive,
// within range, and no finer than the money precision.
func ValidAmount(amount decimal.Decimal) bool {
	if amount.Sign() <= 0 || amount.GreaterThan(MaxAmount) {
		return false
	}
	return amount.Equal(amount.Truncate(MoneyPlaces))
}

// FormatUnits renders a unit quantity without trailing zeros, for messages.
func FormatUnits(units decimal.Decimal) string {
	return units.Truncate(UnitPlaces).String()
}
