// Package middleware throttles authenticated callers per endpoint class.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"keygate/internal/ratelimit/metrics"
	"keygate/internal/ratelimit/models"
	dErrors "keygate/pkg/domain-errors"
	"keygate/pkg/platform/httputil"
	authmw "keygate/pkg/platform/middleware/auth"
	"keygate/pkg/platform/middleware/request"
	"keygate/pkg/requestcontext"
)

// Store admits or refuses one hit against a bucket.
type Store interface {
	Allow(ctx context.Context, key string, limit models.Limit, now time.Time) (*models.Result, error)
}

type Middleware struct {
	store    Store
	limits   map[models.Class]models.Limit
	classify func(*http.Request) models.Class
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Middleware)

func WithLimit(class models.Class, limit models.Limit) Option {
	return func(m *Middleware) {
		if limit.Requests > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func WithClassifier(fn func(*http.Request) models.Class) Option {
	return func(m *Middleware) {
		if fn != nil {
			m.classify = fn
		}
	}
}

func New(store Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store: store,
		limits: map[models.Class]models.Limit{
			models.ClassSensitive: {Requests: 10, Window: time.Minute},
			models.ClassStandard:  {Requests: 120, Window: time.Minute},
		},
		classify: Classify,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify marks the signature and release endpoints as sensitive and
// exempts status polling.
func Classify(r *http.Request) models.Class {
	path := r.URL.Path
	switch r.Method {
	case http.MethodPost:
		if path == "/access/verify-signature" || path == "/access/release" {
			return models.ClassSensitive
		}
	case http.MethodGet:
		if strings.HasPrefix(path, "/access/requests/") && strings.HasSuffix(path, "/status") {
			return models.ClassExempt
		}
	}
	return models.ClassStandard
}

// Limit must run after authentication; unauthenticated requests are keyed
// by client IP.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		class := m.classify(r)
		limit, ok := m.limits[class]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		caller := requestcontext.ClientIP(ctx)
		if p, ok := authmw.PrincipalFrom(ctx); ok {
			caller = p.UserID.String()
		}

		result, err := m.store.Allow(ctx, models.Key(class, caller), limit, requestcontext.Now(ctx))
		if err != nil {
			m.metrics.IncrementStoreError()
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"error", err,
				"class", class,
				"request_id", request.GetRequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}
		m.metrics.IncrementDecision(string(class), result.Allowed)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"class", class,
				"retry_after", result.RetryAfter,
				"request_id", request.GetRequestID(ctx),
			)
			h.Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later").
				WithDetail("retry_after", strconv.Itoa(result.RetryAfter)))
			return
		}
		next.ServeHTTP(w, r)
	})
}
