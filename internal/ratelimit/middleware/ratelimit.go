// Package middleware enforces per-client request budgets on the public API.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"certify/internal/ratelimit/models"
	"certify/internal/ratelimit/store/bucket"
	"certify/pkg/platform/circuit"
	"certify/pkg/platform/middleware/request"
	"certify/pkg/requestcontext"
)

// Limiter checks requests against a primary store (usually Redis) and falls
// back to a local store while the primary is unhealthy.
type Limiter struct {
	primary  bucket.Store
	fallback bucket.Store
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	disabled bool
}

type Option func(*Limiter)

func WithLimits(limits map[models.EndpointClass]models.Limit) Option {
	return func(l *Limiter) {
		for class, limit := range limits {
			if limit.RequestsPerWindow > 0 && limit.Window > 0 {
				l.limits[class] = limit
			}
		}
	}
}

func WithFallback(store bucket.Store) Option {
	return func(l *Limiter) {
		l.fallback = store
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(l *Limiter) {
		l.breaker = b
	}
}

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(l *Limiter) {
		l.disabled = disabled
	}
}

func New(primary bucket.Store, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		primary:  primary,
		fallback: bucket.New(),
		breaker:  circuit.New("ratelimit"),
		limits:   models.DefaultLimits(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RateLimit returns middleware enforcing the limit configured for class.
// Authenticated callers are keyed by principal, everyone else by client IP.
func (l *Limiter) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			limit := l.limits[class]
			key := models.NewClientKey(class, clientKey(r))

			result, degraded, err := l.check(ctx, key, limit)
			if err != nil {
				l.logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if !result.Allowed {
				l.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
					"key", key,
				)
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) check(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, bool, error) {
	if l.primary == nil {
		res, err := l.fallback.AllowN(ctx, key, 1, limit.RequestsPerWindow, limit.Window)
		return res, false, err
	}
	if l.breaker.Allow() {
		res, err := l.primary.AllowN(ctx, key, 1, limit.RequestsPerWindow, limit.Window)
		if err == nil {
			if _, change := l.breaker.RecordSuccess(); change.Closed {
				l.logger.InfoContext(ctx, "rate limit store recovered")
			}
			return res, false, nil
		}
		useFallback, change := l.breaker.RecordFailure()
		if change.Opened {
			l.logger.WarnContext(ctx, "rate limit store unhealthy, using local fallback", "error", err)
		}
		if !useFallback {
			return nil, false, err
		}
	}
	res, err := l.fallback.AllowN(ctx, key, 1, limit.RequestsPerWindow, limit.Window)
	return res, true, err
}

func clientKey(r *http.Request) string {
	if p := requestcontext.Principal(r.Context()); p != "" {
		return "principal:" + string(p)
	}
	return "ip:" + request.ClientIP(r)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
