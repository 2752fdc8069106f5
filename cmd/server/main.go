package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certify/internal/certificate/canonical"
	"certify/internal/certificate/document"
	"certify/internal/certificate/handler"
	"certify/internal/certificate/issuance"
	"certify/internal/certificate/ledger"
	"certify/internal/certificate/metadata"
	"certify/internal/certificate/metrics"
	"certify/internal/certificate/registry"
	"certify/internal/certificate/signature"
	"certify/internal/certificate/verification"
	jwttoken "certify/internal/jwt_token"
	ratelimitmw "certify/internal/ratelimit/middleware"
	ratelimit "certify/internal/ratelimit/models"
	"certify/internal/ratelimit/store/bucket"
	"certify/internal/platform/config"
	"certify/internal/platform/httpserver"
	"certify/internal/platform/kafka"
	"certify/internal/platform/logger"
	platformmetrics "certify/internal/platform/metrics"
	"certify/internal/platform/postgres"
	"certify/internal/platform/redis"
	"certify/pkg/domain"
	"certify/pkg/platform/audit"
	"certify/pkg/platform/audit/publisher"
	auditmemory "certify/pkg/platform/audit/store/memory"
	auditpostgres "certify/pkg/platform/audit/store/postgres"
	"certify/pkg/platform/audit/store/stream"
	"certify/pkg/platform/httputil"
	authmw "certify/pkg/platform/middleware/auth"
	"certify/pkg/platform/middleware/request"
	"certify/pkg/platform/middleware/requesttime"
	txcontext "certify/pkg/platform/tx"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/certificate.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	srv := httpserver.New(cfg.Addr, app.router)
	go func() {
		log.Info("starting certify", "addr", cfg.Addr, "canonical_mode", cfg.CanonicalMode, "network", cfg.Network)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

type app struct {
	router  http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{}
	if cfg.IsProduction() && cfg.RootAdmin == config.DevRootAdmin {
		return nil, errors.New("ROOT_ADMIN_IDENTITY must be set in production")
	}

	mode, err := canonical.ParseMode(cfg.CanonicalMode)
	if err != nil {
		return nil, err
	}
	encoder := canonical.New(canonical.WithMode(mode))
	certMetrics := metrics.New()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
	}

	auditor, err := buildAudit(ctx, cfg, db, log, a)
	if err != nil {
		return nil, err
	}

	certLedger, err := buildLedger(cfg, a)
	if err != nil {
		return nil, err
	}

	root, err := domain.ParseIdentity(cfg.RootAdmin)
	if err != nil {
		return nil, fmt.Errorf("ROOT_ADMIN_IDENTITY: %w", err)
	}
	var admins []domain.Identity
	for _, raw := range cfg.Admins {
		id, err := domain.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_IDENTITIES: %w", err)
		}
		admins = append(admins, id)
	}
	reg, err := registry.New(ctx, certLedger, root,
		registry.WithLogger(log),
		registry.WithAuditPublisher(auditor),
		registry.WithMetrics(certMetrics),
		registry.WithAdmins(admins...),
	)
	if err != nil {
		return nil, err
	}

	cache, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable; caching and shared rate limits disabled", "error", err)
	}
	if cache != nil {
		a.closers = append(a.closers, func() { _ = cache.Close() })
	}

	docs, err := buildDocuments(ctx, cfg, db, cache, log)
	if err != nil {
		return nil, err
	}

	keyring, err := signature.KeyringFromHex(cfg.IssuerKeys, signature.WithSignerEncoder(encoder))
	if err != nil {
		return nil, fmt.Errorf("ISSUER_PRIVATE_KEYS: %w", err)
	}
	if len(keyring.Identities()) == 0 {
		log.Warn("no issuer keys configured; issuance will be refused")
	}

	sigVerifier := signature.NewVerifier(signature.WithEncoder(encoder), signature.WithConcurrency(cfg.BatchConcurrency))
	issuer := issuance.New(reg, docs, keyring,
		issuance.WithLogger(log),
		issuance.WithMetrics(certMetrics),
		issuance.WithEncoder(encoder),
		issuance.WithBuilder(metadata.NewBuilder(metadata.WithNetwork(cfg.Network))),
	)
	orchestrator := verification.New(docs, reg,
		verification.WithLogger(log),
		verification.WithAuditPublisher(auditor),
		verification.WithMetrics(certMetrics),
		verification.WithEncoder(encoder),
		verification.WithConcurrency(cfg.BatchConcurrency),
	)
	h := handler.New(reg, issuer, orchestrator, sigVerifier, log, certMetrics, auditor,
		handler.WithRateLimiter(buildLimiter(cfg.RateLimit, cache, log)),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	httpMetrics := platformmetrics.NewHTTP()

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(log))
	r.Use(request.Logger(log, httpMetrics))
	r.Use(requesttime.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok", "certificates": reg.Len()}
		if cache != nil {
			body["redis"] = "ok"
			if err := cache.Health(r.Context()); err != nil {
				body["redis"] = "unavailable"
			}
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", promhttp.Handler())
	h.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log))
		h.RegisterAdmin(r)
	})

	a.router = r
	return a, nil
}

func buildLedger(cfg config.Server, a *app) (ledger.Ledger, error) {
	if cfg.LedgerDSN == "" {
		return ledger.NewMemory(), nil
	}
	l, err := ledger.OpenSQLite(cfg.LedgerDSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = l.Close() })
	return l, nil
}

func buildDocuments(ctx context.Context, cfg config.Server, db *sql.DB, cache *redis.Client, log *slog.Logger) (document.Store, error) {
	var store document.Store = document.NewMemory()
	if db != nil {
		pg := document.NewPostgres(db)
		if err := txcontext.RunInTx(ctx, db, pg.EnsureSchema); err != nil {
			return nil, fmt.Errorf("document schema: %w", err)
		}
		store = pg
	}
	if cache == nil {
		return store, nil
	}
	return document.NewCached(store, cache.Client,
		document.WithTTL(cfg.Redis.CacheTTL),
		document.WithCacheLogger(log),
	), nil
}

func buildLimiter(cfg config.RateLimitConfig, cache *redis.Client, log *slog.Logger) *ratelimitmw.Limiter {
	var primary bucket.Store
	if cache != nil {
		primary = bucket.NewRedis(cache.Client)
	}
	return ratelimitmw.New(primary, log,
		ratelimitmw.WithDisabled(cfg.Disabled),
		ratelimitmw.WithLimits(map[ratelimit.EndpointClass]ratelimit.Limit{
			ratelimit.ClassRead:   {RequestsPerWindow: cfg.Read, Window: cfg.Window},
			ratelimit.ClassVerify: {RequestsPerWindow: cfg.Verify, Window: cfg.Window},
			ratelimit.ClassBatch:  {RequestsPerWindow: cfg.Batch, Window: cfg.Window},
			ratelimit.ClassWrite:  {RequestsPerWindow: cfg.Write, Window: cfg.Window},
		}),
	)
}

func buildAudit(ctx context.Context, cfg config.Server, db *sql.DB, log *slog.Logger, a *app) (*publisher.Publisher, error) {
	var store audit.Store = auditmemory.NewInMemoryStore()
	if db != nil {
		pg := auditpostgres.New(db)
		if err := txcontext.RunInTx(ctx, db, pg.EnsureSchema); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		store = pg
	}

	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithAsyncBuffer(cfg.AuditBuffer),
	}
	producer, err := kafka.NewProducer(ctx, cfg.Kafka, log)
	if err != nil {
		log.Warn("audit stream disabled", "error", err)
	} else if producer != nil {
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replicas); err != nil {
			log.Warn("audit topic bootstrap failed", "topic", cfg.Kafka.Topic, "error", err)
		}
		opts = append(opts, publisher.WithSink(stream.NewSink(producer, cfg.Kafka.Topic, stream.WithLogger(log))))
		a.closers = append(a.closers, func() { producer.Close(context.Background()) })
	}

	pub := publisher.NewPublisher(store, opts...)
	// Registered after the producer so the buffer drains before the client closes.
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}
