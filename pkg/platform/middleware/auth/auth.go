// Package auth authenticates session tokens issued by the account service.
//
// The middleware only establishes who the caller is. Handlers read the
// Principal once and pass the caller's identity and attributes to services as
// explicit arguments; services never look them up from context.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "keygate/pkg/domain"
	request "keygate/pkg/platform/middleware/request"
)

// TokenValidator validates a bearer token and returns the caller.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Principal, error)
}

// Principal is the authenticated caller and the attributes the account
// service vouched for at token issuance.
type Principal struct {
	UserID     id.UserID
	Role       string
	Department string
	Clearance  string
	TokenID    string
}

type contextKeyPrincipal struct{}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal{}).(Principal)
	return p, ok
}

// WithPrincipal injects a caller. Used by handler tests that skip the middleware.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal{}, p)
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + desc + `"}`))
}

func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			principal, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, *principal)))
		})
	}
}
