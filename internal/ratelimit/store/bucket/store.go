package bucket

import (
	"context"
	"math"
	"time"

	"certify/internal/ratelimit/models"
)

// Store counts requests in a sliding window.
type Store interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.RateLimitResult, error)
}

func denied(limit int, resetAt, now time.Time) *models.RateLimitResult {
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(resetAt, now),
	}
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
