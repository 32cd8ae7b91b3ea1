// Package events publishes investment lifecycle events for downstream
// consumers (analytics, notifications). Publishing is best-effort: the
// transactional core never fails because a broker is down.
package events

import (
	"context"
	"time"
)

// InvestmentCompleted is emitted after an investment commits.
type InvestmentCompleted struct {
	TransactionID string    `json:"transaction_id"`
	TenantID      string    `json:"tenant_id"`
	PrincipalID   string    `json:"principal_id"`
	AssetID       string    `json:"asset_id"`
	AssetSymbol   string    `json:"asset_symbol"`
	Units         string    `json:"units"`
	Amount        string    `json:"amount"`
	Kind          string    `json:"kind"` // INVESTMENT or DIVESTMENT
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	PublishInvestment(ctx context.Context, event InvestmentCompleted) error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishInvestment(context.Context, InvestmentCompleted) error { return nil }
