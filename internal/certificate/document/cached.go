package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
	"certify/pkg/platform/circuit"
)

const (
	cacheKeyPrefix  = "certify:doc:"
	DefaultCacheTTL = 10 * time.Minute
)

// Cached is a read-through Redis decorator over a primary Store. Redis
// errors never fail a request; a circuit breaker skips Redis while it is down.
type Cached struct {
	primary Store
	client  redis.UniversalClient
	ttl     time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type CachedOption func(*Cached)

func WithTTL(ttl time.Duration) CachedOption {
	return func(c *Cached) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCacheBreaker(b *circuit.Breaker) CachedOption {
	return func(c *Cached) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithCacheLogger(logger *slog.Logger) CachedOption {
	return func(c *Cached) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCached(primary Store, client redis.UniversalClient, opts ...CachedOption) *Cached {
	c := &Cached{
		primary: primary,
		client:  client,
		ttl:     DefaultCacheTTL,
		breaker: circuit.New("document-cache"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(code domain.CertCode) string {
	return cacheKeyPrefix + domain.NormalizeCertCode(code.String()).String()
}

func (c *Cached) Get(ctx context.Context, code domain.CertCode) (models.StoredCertificate, error) {
	if c.breaker.Allow() {
		raw, err := c.client.Get(ctx, cacheKey(code)).Bytes()
		switch {
		case err == nil:
			c.recordSuccess(ctx)
			var cert models.StoredCertificate
			if jsonErr := json.Unmarshal(raw, &cert); jsonErr == nil {
				return cert, nil
			}
			c.logger.WarnContext(ctx, "discarding undecodable cached document", "code", code)
		case errors.Is(err, redis.Nil):
			c.recordSuccess(ctx)
		default:
			c.recordFailure(ctx, err)
		}
	}

	cert, err := c.primary.Get(ctx, code)
	if err != nil {
		return models.StoredCertificate{}, err
	}
	c.fill(ctx, code, cert)
	return cert, nil
}

func (c *Cached) Put(ctx context.Context, code domain.CertCode, cert models.StoredCertificate) error {
	if err := c.primary.Put(ctx, code, cert); err != nil {
		return err
	}
	cert.Code = domain.NormalizeCertCode(code.String())
	c.fill(ctx, code, cert)
	return nil
}

func (c *Cached) fill(ctx context.Context, code domain.CertCode, cert models.StoredCertificate) {
	if !c.breaker.Allow() {
		return
	}
	raw, err := json.Marshal(cert)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to encode document for cache", "code", code, "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(code), raw, c.ttl).Err(); err != nil {
		c.recordFailure(ctx, err)
		return
	}
	c.recordSuccess(ctx)
}

func (c *Cached) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "document cache circuit opened", "error", err)
		return
	}
	c.logger.DebugContext(ctx, "document cache error", "error", fmt.Sprint(err))
}

func (c *Cached) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "document cache circuit closed")
	}
}
