// Package security provides the HTTP-edge protections shared by every route:
// correlation IDs, body size limits, request validation, and rate limiting.
// Authentication itself happens at the gateway; handlers trust the identity
// headers it injects.
package security

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

const CorrelationIDHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// CorrelationID attaches a correlation id to the request context, minting one
// when the caller did not supply it, and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" {
			cid = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), correlationIDKey{}, cid)
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ErrorResponse is the uniform error payload. Rule is set only for policy
// denials so clients can tell which access rule fired.
type ErrorResponse struct {
	Error         string `json:"error"`
	Rule          string `json:"rule,omitempty"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorDetail(w, r, status, code, "", "")
}

func WriteJSONErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, rule, detail string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         code,
		Rule:          rule,
		Detail:        detail,
		CorrelationID: cid,
	})
}

// BodySizeLimit caps request bodies so a runaway payload fails with 413
// instead of exhausting memory. A non-positive limit disables the cap.
func BodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
