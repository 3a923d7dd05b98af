package testutil

import (
	"net/http"

	authmw "keygate/pkg/platform/middleware/auth"
	"keygate/pkg/requestcontext"
)

// WithPrincipal attaches an authenticated caller to the request context,
// as the auth middleware would after validating a session token.
func WithPrincipal(req *http.Request, p authmw.Principal) *http.Request {
	return req.WithContext(authmw.WithPrincipal(req.Context(), p))
}

// WithRequestID attaches a request ID, as the request middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
