// Package admin guards operator-only routes such as the approval simulator.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	request "keygate/pkg/platform/middleware/request"
)

// HeaderOpsToken carries the operator token.
const HeaderOpsToken = "X-Ops-Token"

// RequireOpsToken rejects requests whose X-Ops-Token does not match expected.
// An empty expected token closes the route entirely.
func RequireOpsToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderOpsToken)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "ops token mismatch",
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"ops token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
