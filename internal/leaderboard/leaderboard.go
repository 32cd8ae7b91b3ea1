// Package leaderboard ranks principals within a tenant by unrealized profit
// and loss. Standings live in a Redis sorted set per tenant so reads stay
// cheap; Refresh recomputes scores from holdings and current catalog prices.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/example/equishard/internal/catalog"
	"github.com/example/equishard/internal/holdings"
	"github.com/example/equishard/internal/identity"
)

// Standing is one ranked row. ProfitLoss is the sum over open positions of
// units times the spread between current price and average cost.
type Standing struct {
	Rank        int64           `json:"rank"`
	PrincipalID string          `json:"principal_id"`
	Username    string          `json:"username"`
	ProfitLoss  decimal.Decimal `json:"profit_loss"`
}

// NotRankedError signals that the principal has no standing yet, usually
// because Refresh has not run since they joined.
type NotRankedError struct {
	PrincipalID string
}

func (e *NotRankedError) Error() string {
	return fmt.Sprintf("principal %s is not ranked", e.PrincipalID)
}

type Service struct {
	redis    *redis.Client
	identity identity.Store
	holdings holdings.Store
	assets   catalog.Store
	logger   *slog.Logger
}

func NewService(client *redis.Client, identityStore identity.Store, holdingStore holdings.Store, assetStore catalog.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		redis:    client,
		identity: identityStore,
		holdings: holdingStore,
		assets:   assetStore,
		logger:   logger,
	}
}

func key(tenantID string) string {
	return "leaderboard:" + tenantID
}

// profitLoss values a principal's open positions at current catalog prices.
func (s *Service) profitLoss(ctx context.Context, walletAccountID string, prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	positions, err := s.holdings.Holdings(ctx, walletAccountID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, h := range positions {
		price, ok := prices[h.AssetID]
		if !ok {
			// delisted asset, position carries no mark
			continue
		}
		total = total.Add(h.Units.Mul(price.Sub(h.AverageCost)))
	}
	return total, nil
}

// Refresh recomputes every principal's score for the tenant and writes the
// full sorted set in one pipeline.
func (s *Service) Refresh(ctx context.Context, tenantID string) error {
	assets, err := s.assets.Assets(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(assets))
	for _, a := range assets {
		prices[a.ID] = a.UnitPrice
	}

	principals, err := s.identity.Principals(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list principals: %w", err)
	}

	pipe := s.redis.Pipeline()
	for _, p := range principals {
		pl, err := s.profitLoss(ctx, p.WalletAccountID, prices)
		if err != nil {
			return fmt.Errorf("failed to value positions for principal %s: %w", p.ID, err)
		}
		score, _ := pl.Float64()
		pipe.ZAdd(ctx, key(tenantID), redis.Z{Score: score, Member: p.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write standings: %w", err)
	}
	return nil
}

// Top returns the best n standings for the tenant, highest profit first.
func (s *Service) Top(ctx context.Context, tenantID string, n int64) ([]Standing, error) {
	if n <= 0 {
		n = 10
	}

	rows, err := s.redis.ZRevRangeWithScores(ctx, key(tenantID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read standings: %w", err)
	}

	standings := make([]Standing, 0, len(rows))
	for i, row := range rows {
		principalID, _ := row.Member.(string)
		standing := Standing{
			Rank:        int64(i) + 1,
			PrincipalID: principalID,
			ProfitLoss:  decimal.NewFromFloat(row.Score).Round(2),
		}
		if p, err := s.identity.Principal(ctx, principalID); err == nil {
			standing.Username = p.Username
		}
		standings = append(standings, standing)
	}
	return standings, nil
}

// Rank returns one principal's standing.
func (s *Service) Rank(ctx context.Context, tenantID, principalID string) (Standing, error) {
	rank, err := s.redis.ZRevRank(ctx, key(tenantID), principalID).Result()
	if errors.Is(err, redis.Nil) {
		return Standing{}, &NotRankedError{PrincipalID: principalID}
	}
	if err != nil {
		return Standing{}, fmt.Errorf("failed to read rank: %w", err)
	}

	score, err := s.redis.ZScore(ctx, key(tenantID), principalID).Result()
	if err != nil {
		return Standing{}, fmt.Errorf("failed to read score: %w", err)
	}

	standing := Standing{
		Rank:        rank + 1,
		PrincipalID: principalID,
		ProfitLoss:  decimal.NewFromFloat(score).Round(2),
	}
	if p, err := s.identity.Principal(ctx, principalID); err == nil {
		standing.Username = p.Username
	}
	return standing, nil
}
