// Package invest implements the one transactional use case of the system:
// "principal P invests amount M in asset A", executed all-or-nothing. The
// coordinator is the single place where lower-component errors are translated
// into the composite result callers see.
package invest

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the stable classification of a failed operation.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindPolicyDenied          Kind = "policy_denied"
	KindInsufficientInventory Kind = "insufficient_inventory"
	KindInsufficientFunds     Kind = "insufficient_funds"
	KindInvalidAmount         Kind = "invalid_amount"
	// KindInternal marks invariant breaches and wiring faults: bugs, not
	// business rejections. They are logged and audited, never swallowed.
	KindInternal Kind = "internal"
)

// Error is the composite result of a failed operation. Rule is set for policy
// denials so callers can surface which check failed.
type Error struct {
	Kind   Kind
	Rule   string
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Rule, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, cause error) *Error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// Receipt is the successful result of an investment or divestment.
type Receipt struct {
	TransactionID string
	Units         decimal.Decimal
	Amount        decimal.Decimal
}
