package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/example/equishard/internal/identity"
	"github.com/example/equishard/internal/invest"
	"github.com/example/equishard/internal/leaderboard"
	"github.com/example/equishard/internal/security"
)

type investRequest struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type sellRequest struct {
	AssetID string `json:"asset_id"`
	Units   string `json:"units"`
}

type grantRequest struct {
	Amount string `json:"amount"`
}

type receiptResponse struct {
	CorrelationID string `json:"correlation_id"`
	TransactionID string `json:"transaction_id"`
	Units         string `json:"units"`
	Amount        string `json:"amount"`
}

type grantResponse struct {
	CorrelationID string `json:"correlation_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
}

type balanceResponse struct {
	CorrelationID string `json:"correlation_id"`
	PrincipalID   string `json:"principal_id"`
	Balance       string `json:"balance"`
}

type holdingView struct {
	AssetID     string `json:"asset_id"`
	Units       string `json:"units"`
	AverageCost string `json:"average_cost"`
}

type holdingsResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Holdings      []holdingView `json:"holdings"`
}

type assetView struct {
	ID                    string `json:"id"`
	Symbol                string `json:"symbol"`
	Name                  string `json:"name"`
	UnitPrice             string `json:"unit_price"`
	RiskLevel             int    `json:"risk_level"`
	AccreditationRequired bool   `json:"accreditation_required"`
	AvailableUnits        string `json:"available_units"`
}

type assetsResponse struct {
	CorrelationID string      `json:"correlation_id"`
	Assets        []assetView `json:"assets"`
}

type leaderboardResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	Standings     []leaderboard.Standing `json:"standings"`
}

// writeInvestError maps the coordinator's error taxonomy onto HTTP statuses.
// Policy denials carry the failing rule through to the payload.
func writeInvestError(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *invest.Error
	if !errors.As(err, &cerr) {
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	status := http.StatusInternalServerError
	switch cerr.Kind {
	case invest.KindNotFound:
		status = http.StatusNotFound
	case invest.KindPolicyDenied:
		status = http.StatusForbidden
	case invest.KindInvalidAmount:
		status = http.StatusBadRequest
	case invest.KindInsufficientFunds, invest.KindInsufficientInventory:
		status = http.StatusConflict
	}

	detail := cerr.Detail
	if cerr.Kind == invest.KindInternal {
		// internal details stay in the logs
		detail = ""
	}
	security.WriteJSONErrorDetail(w, r, status, string(cerr.Kind), cerr.Rule, detail)
}

func handleInvest(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req investRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
			return
		}

		receipt, err := deps.Coordinator.Invest(r.Context(), principalID(r), req.AssetID, amount)
		if err != nil {
			writeInvestError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, receiptResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			TransactionID: receipt.TransactionID,
			Units:         receipt.Units.String(),
			Amount:        receipt.Amount.StringFixed(2),
		})
	}
}

func handleSell(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sellRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		units, err := decimal.NewFromString(req.Units)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
			return
		}

		receipt, err := deps.Coordinator.Sell(r.Context(), principalID(r), req.AssetID, units)
		if err != nil {
			writeInvestError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, receiptResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			TransactionID: receipt.TransactionID,
			Units:         receipt.Units.String(),
			Amount:        receipt.Amount.StringFixed(2),
		})
	}
}

func handleGrantFunds(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
			return
		}

		txID, err := deps.Coordinator.GrantFunds(r.Context(), principalID(r), amount)
		if err != nil {
			writeInvestError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, grantResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			TransactionID: txID,
			Amount:        amount.StringFixed(2),
		})
	}
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid := principalID(r)
		balance, err := deps.Coordinator.Balance(r.Context(), pid)
		if err != nil {
			writeInvestError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			PrincipalID:   pid,
			Balance:       balance.StringFixed(2),
		})
	}
}

func handleHoldings(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positions, err := deps.Coordinator.Positions(r.Context(), principalID(r))
		if err != nil {
			writeInvestError(w, r, err)
			return
		}

		views := make([]holdingView, 0, len(positions))
		for _, h := range positions {
			views = append(views, holdingView{
				AssetID:     h.AssetID,
				Units:       h.Units.String(),
				AverageCost: h.AverageCost.StringFixed(2),
			})
		}

		writeJSON(w, r, http.StatusOK, holdingsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Holdings:      views,
		})
	}
}

func handleListAssets(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := deps.Identity.Principal(r.Context(), principalID(r))
		if err != nil {
			var notFound *identity.NotFoundError
			if errors.As(err, &notFound) {
				security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
				return
			}
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		assets, err := deps.Assets.Assets(r.Context(), principal.TenantID)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		views := make([]assetView, 0, len(assets))
		for _, a := range assets {
			views = append(views, assetView{
				ID:                    a.ID,
				Symbol:                a.Symbol,
				Name:                  a.Name,
				UnitPrice:             a.UnitPrice.StringFixed(2),
				RiskLevel:             a.RiskLevel,
				AccreditationRequired: a.AccreditationRequired,
				AvailableUnits:        a.AvailableUnits.String(),
			})
		}

		writeJSON(w, r, http.StatusOK, assetsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Assets:        views,
		})
	}
}

func handleLeaderboard(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Leaderboard == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "leaderboard_unavailable")
			return
		}

		principal, err := deps.Identity.Principal(r.Context(), principalID(r))
		if err != nil {
			var notFound *identity.NotFoundError
			if errors.As(err, &notFound) {
				security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
				return
			}
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		limit := int64(10)
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil && i > 0 && i <= 100 {
				limit = i
			}
		}

		if err := deps.Leaderboard.Refresh(r.Context(), principal.TenantID); err != nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "leaderboard_unavailable")
			return
		}
		standings, err := deps.Leaderboard.Top(r.Context(), principal.TenantID, limit)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "leaderboard_unavailable")
			return
		}

		writeJSON(w, r, http.StatusOK, leaderboardResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Standings:     standings,
		})
	}
}
