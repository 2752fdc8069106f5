package testutil

import (
	"net/http"

	"certify/pkg/domain"
	"certify/pkg/requestcontext"
)

// WithPrincipal adds an authenticated identity to the request context, as the
// auth middleware would after validating a bearer token.
func WithPrincipal(req *http.Request, principal domain.Identity) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), principal))
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
