// Package api exposes the investment engine over HTTP. Authentication is the
// gateway's job: requests arrive with the authenticated principal in the
// X-Principal-ID header, and everything behind that header is scoped to the
// principal's tenant.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/example/equishard/internal/catalog"
	"github.com/example/equishard/internal/holdings"
	"github.com/example/equishard/internal/identity"
	"github.com/example/equishard/internal/invest"
	"github.com/example/equishard/internal/leaderboard"
	"github.com/example/equishard/internal/security"
)

const PrincipalIDHeader = "X-Principal-ID"

// Coordinator is the slice of the invest coordinator the handlers need.
type Coordinator interface {
	Invest(ctx context.Context, principalID, assetID string, amount decimal.Decimal) (*invest.Receipt, error)
	Sell(ctx context.Context, principalID, assetID string, units decimal.Decimal) (*invest.Receipt, error)
	GrantFunds(ctx context.Context, principalID string, amount decimal.Decimal) (string, error)
	Balance(ctx context.Context, principalID string) (decimal.Decimal, error)
	Positions(ctx context.Context, principalID string) ([]*holdings.Holding, error)
}

// Ranker serves tenant leaderboards.
type Ranker interface {
	Refresh(ctx context.Context, tenantID string) error
	Top(ctx context.Context, tenantID string, n int64) ([]leaderboard.Standing, error)
}

type Dependencies struct {
	Logger      *slog.Logger
	Coordinator Coordinator
	Identity    identity.Store
	Assets      catalog.Store
	Leaderboard Ranker

	RateLimiter  *security.RedisTokenBucket
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	investV, err := security.NewJSONSchemaValidator(investSchema)
	if err != nil {
		return nil, err
	}
	sellV, err := security.NewJSONSchemaValidator(sellSchema)
	if err != nil {
		return nil, err
	}
	grantV, err := security.NewJSONSchemaValidator(grantSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimit(deps.RateLimiter, rateLimitKeyByPrincipal))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(requirePrincipal)

		r.With(investV.Middleware).Post("/invest", handleInvest(deps))
		r.With(sellV.Middleware).Post("/sell", handleSell(deps))
		r.With(grantV.Middleware).Post("/funds/grant", handleGrantFunds(deps))

		r.Get("/balance", handleBalance(deps))
		r.Get("/holdings", handleHoldings(deps))
		r.Get("/assets", handleListAssets(deps))
		r.Get("/leaderboard", handleLeaderboard(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func principalID(r *http.Request) string {
	return r.Header.Get(PrincipalIDHeader)
}

// requirePrincipal rejects requests the gateway let through without an
// identity header.
func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principalID(r) == "" {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "missing_principal")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKeyByPrincipal(r *http.Request) string {
	pid := principalID(r)
	if pid == "" {
		return ""
	}
	return "principal:" + pid
}
