package models

import (
	"fmt"
	"time"
)

// EndpointClass groups routes that share a limit.
type EndpointClass string

const (
	ClassRead   EndpointClass = "read"
	ClassVerify EndpointClass = "verify"
	ClassBatch  EndpointClass = "batch"
	ClassWrite  EndpointClass = "write"
)

// Limit is a sliding-window allowance.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// DefaultLimits are per client per minute.
func DefaultLimits() map[EndpointClass]Limit {
	return map[EndpointClass]Limit{
		ClassRead:   {RequestsPerWindow: 600, Window: time.Minute},
		ClassVerify: {RequestsPerWindow: 120, Window: time.Minute},
		ClassBatch:  {RequestsPerWindow: 10, Window: time.Minute},
		ClassWrite:  {RequestsPerWindow: 60, Window: time.Minute},
	}
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RateLimitExceededResponse is the 429 body.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// NewClientKey builds the bucket key for a client (an IP or a principal) on a class.
func NewClientKey(class EndpointClass, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", class, client)
}
