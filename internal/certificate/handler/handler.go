package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"certify/internal/certificate/issuance"
	"certify/internal/certificate/metrics"
	"certify/internal/certificate/models"
	"certify/internal/certificate/signature"
	"certify/internal/certificate/verification"
	ratelimit "certify/internal/ratelimit/models"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
	"certify/pkg/platform/audit"
	"certify/pkg/platform/httputil"
	"certify/pkg/requestcontext"
)

// Registry is the query and role surface of the certificate registry.
type Registry interface {
	GetCertificateByHash(hash domain.CertHash) (models.CertificateRecord, error)
	GetAllCertificates() []models.CertificateRecord
	GetStudentCertificates(student domain.Identity) []models.CertificateRecord
	GetStudentCertificateByHash(student domain.Identity, hash domain.CertHash) (models.CertificateRecord, error)
	GetStudentCertificateByCourseType(student domain.Identity, courseType string) ([]models.CertificateRecord, int)
	GetStudentCertificateByCourseLevel(student domain.Identity, level string) ([]models.CertificateRecord, int)
	GetStudentCertificateByCourseName(student domain.Identity, keyword string) ([]models.CertificateRecord, error)
	GetStudentCertificatesByDate(student domain.Identity, from, to time.Time) ([]models.CertificateRecord, error)
	AdminSearchByCourseType(caller domain.Identity, courseType string) ([]models.CertificateRecord, error)
	AdminSearchByCourseLevel(caller domain.Identity, level string) ([]models.CertificateRecord, error)
	AdminSearchByCourseName(caller domain.Identity, keyword string) ([]models.CertificateRecord, error)
	AdminSearchByStudentName(caller domain.Identity, keyword string) ([]models.CertificateRecord, error)
	AdminSearchByDate(caller domain.Identity, from, to time.Time) ([]models.CertificateRecord, error)
	HasRole(principal domain.Identity, role models.Role) bool
	GrantRole(ctx context.Context, caller, principal domain.Identity, role models.Role) error
	RevokeRole(ctx context.Context, caller, principal domain.Identity, role models.Role) error
}

type Issuer interface {
	Issue(ctx context.Context, caller domain.Identity, req issuance.Request) (*issuance.Issued, error)
}

type Verifier interface {
	VerifyCertificateByCode(ctx context.Context, code string) (*verification.Outcome, error)
	VerifyMany(ctx context.Context, codes []string) verification.Report
}

type SignatureChecker interface {
	VerifySignature(doc any) signature.Result
	VerifyBatchSignatures(ctx context.Context, docs []json.RawMessage) signature.BatchResult
}

// RateLimiter returns middleware enforcing the budget of an endpoint class.
type RateLimiter interface {
	RateLimit(class ratelimit.EndpointClass) func(http.Handler) http.Handler
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, subject string) ([]audit.Event, error)
}

// Handler serves the certificate HTTP API.
type Handler struct {
	registry   Registry
	issuer     Issuer
	verifier   Verifier
	signatures SignatureChecker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	auditor    AuditPublisher
	limiter    RateLimiter
}

type Option func(*Handler)

// WithRateLimiter applies per-class request budgets to the routes.
func WithRateLimiter(l RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

func New(registry Registry, issuer Issuer, verifier Verifier, signatures SignatureChecker, logger *slog.Logger, m *metrics.Metrics, auditor AuditPublisher, opts ...Option) *Handler {
	h := &Handler{
		registry:   registry,
		issuer:     issuer,
		verifier:   verifier,
		signatures: signatures,
		logger:     logger,
		metrics:    m,
		auditor:    auditor,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) limit(class ratelimit.EndpointClass) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter.RateLimit(class)
}

// Register mounts the public endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.limit(ratelimit.ClassRead))
		r.Get("/certificates", h.HandleListCertificates)
		r.Get("/certificates/{hash}", h.HandleGetCertificate)
		r.Route("/students/{identity}/certificates", func(r chi.Router) {
			r.Get("/", h.HandleStudentCertificates)
			r.Get("/type/{type}", h.HandleStudentByType)
			r.Get("/level/{level}", h.HandleStudentByLevel)
			r.Get("/search", h.HandleStudentSearch)
			r.Get("/date", h.HandleStudentByDate)
			r.Get("/{hash}", h.HandleStudentCertificate)
		})
	})
	r.With(h.limit(ratelimit.ClassVerify)).Get("/verify/{code}", h.HandleVerify)
	r.With(h.limit(ratelimit.ClassVerify)).Post("/signatures/verify", h.HandleVerifySignature)
	r.With(h.limit(ratelimit.ClassBatch)).Post("/verify/batch", h.HandleVerifyBatch)
	r.With(h.limit(ratelimit.ClassBatch)).Post("/signatures/verify-batch", h.HandleVerifySignatures)
}

// RegisterAdmin mounts the endpoints that act on behalf of the authenticated
// principal. The router must already carry the auth middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Use(h.limit(ratelimit.ClassWrite))
	r.Post("/certificates", h.HandleIssue)
	r.Route("/admin", func(r chi.Router) {
		r.Get("/certificates/type/{type}", h.HandleAdminByType)
		r.Get("/certificates/level/{level}", h.HandleAdminByLevel)
		r.Get("/certificates/search", h.HandleAdminSearch)
		r.Get("/certificates/date", h.HandleAdminByDate)
		r.Post("/roles/grant", h.HandleGrantRole)
		r.Post("/roles/revoke", h.HandleRevokeRole)
		r.Get("/audit", h.HandleAuditTrail)
	})
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	caller, ok := h.requirePrincipal(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[IssueCertificateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	issued, err := h.issuer.Issue(ctx, caller, req.toRequest())
	if err != nil {
		h.logger.WarnContext(ctx, "certificate issuance failed",
			"request_id", requestID,
			"caller", caller,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate issued via api",
		"request_id", requestID,
		"caller", caller,
		"cert_code", issued.CertCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, issued)
}

func (h *Handler) HandleListCertificates(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, listResponse(h.registry.GetAllCertificates()))
}

func (h *Handler) HandleGetCertificate(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.registry.GetCertificateByHash(hash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleStudentCertificates(w http.ResponseWriter, r *http.Request) {
	student, ok := studentParam(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(h.registry.GetStudentCertificates(student)))
}

func (h *Handler) HandleStudentCertificate(w http.ResponseWriter, r *http.Request) {
	student, ok := studentParam(w, r)
	if !ok {
		return
	}
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.registry.GetStudentCertificateByHash(student, hash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleStudentByType(w http.ResponseWriter, r *http.Request) {
	student, ok := studentParam(w, r)
	if !ok {
		return
	}
	records, _ := h.registry.GetStudentCertificateByCourseType(student, chi.URLParam(r, "type"))
	httputil.WriteJSON(w, http.StatusOK, listResponse(records))
}

func (h *Handler) HandleStudentByLevel(w http.ResponseWriter, r *http.Request) {
	student, ok := studentParam(w, r)
	if !ok {
		return
	}
	records, _ := h.registry.GetStudentCertificateByCourseLevel(student, chi.URLParam(r, "level"))
	httputil.WriteJSON(w, http.StatusOK, listResponse(records))
}

func (h *Handler) HandleStudentSearch(w http.ResponseWriter, r *http.Request) {
	student, ok := studentParam(w, r)
	if !ok {
		return
	}
	records, err := h.registry.GetStudentCertificateByCourseName(student, r.URL.Query().Get("course"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(records))
}

func (h *Handler) HandleStudentByDate(w http.ResponseWriter, r *http.Request) {
	student, ok := studentParam(w, r)
	if !ok {
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.registry.GetStudentCertificatesByDate(student, from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(records))
}

func (h *Handler) HandleAdminByType(w http.ResponseWriter, r *http.Request) {
	h.adminQuery(w, r, func(caller domain.Identity) ([]models.CertificateRecord, error) {
		return h.registry.AdminSearchByCourseType(caller, chi.URLParam(r, "type"))
	})
}

func (h *Handler) HandleAdminByLevel(w http.ResponseWriter, r *http.Request) {
	h.adminQuery(w, r, func(caller domain.Identity) ([]models.CertificateRecord, error) {
		return h.registry.AdminSearchByCourseLevel(caller, chi.URLParam(r, "level"))
	})
}

// HandleAdminSearch searches by ?course= or ?student= (student name).
func (h *Handler) HandleAdminSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.adminQuery(w, r, func(caller domain.Identity) ([]models.CertificateRecord, error) {
		if name := q.Get("student"); strings.TrimSpace(name) != "" {
			return h.registry.AdminSearchByStudentName(caller, name)
		}
		return h.registry.AdminSearchByCourseName(caller, q.Get("course"))
	})
}

func (h *Handler) HandleAdminByDate(w http.ResponseWriter, r *http.Request) {
	h.adminQuery(w, r, func(caller domain.Identity) ([]models.CertificateRecord, error) {
		from, to, err := parseDateRange(r)
		if err != nil {
			return nil, err
		}
		return h.registry.AdminSearchByDate(caller, from, to)
	})
}

func (h *Handler) adminQuery(w http.ResponseWriter, r *http.Request, query func(domain.Identity) ([]models.CertificateRecord, error)) {
	ctx := r.Context()
	caller, ok := h.requirePrincipal(w, ctx)
	if !ok {
		return
	}
	records, err := query(caller)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			h.logger.WarnContext(ctx, "admin query denied",
				"request_id", requestcontext.RequestID(ctx),
				"caller", caller,
				"path", r.URL.Path,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(records))
}

func (h *Handler) HandleGrantRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, "grant", h.registry.GrantRole)
}

func (h *Handler) HandleRevokeRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, "revoke", h.registry.RevokeRole)
}

func (h *Handler) roleChange(w http.ResponseWriter, r *http.Request, action string, change func(context.Context, domain.Identity, domain.Identity, models.Role) error) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := h.requirePrincipal(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RoleChangeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := change(ctx, caller, req.parsedPrincipal, req.parsedRole); err != nil {
		h.logger.WarnContext(ctx, "role change failed",
			"request_id", requestID,
			"caller", caller,
			"action", action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RoleChangeResponse{
		Principal: req.parsedPrincipal.String(),
		Role:      req.parsedRole.String(),
		Action:    action,
	})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	outcome, err := h.verifier.VerifyCertificateByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "certificate verification failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

func (h *Handler) HandleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyBatchRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.verifier.VerifyMany(ctx, req.Codes))
}

func (h *Handler) HandleVerifySignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifySignatureRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	result := h.signatures.VerifySignature(req.Document)
	h.metrics.IncrementSignatureCheck(string(result.Kind))
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleVerifySignatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[VerifySignaturesBatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	h.metrics.ObserveBatchSize(len(req.Documents))
	result := h.signatures.VerifyBatchSignatures(ctx, req.Documents)
	for _, item := range result.Results {
		h.metrics.IncrementSignatureCheck(string(item.Result.Kind))
	}
	if h.auditor != nil {
		if err := h.auditor.Emit(ctx, audit.Event{
			Subject:   "signatures",
			Action:    string(audit.EventSignaturesVerified),
			Decision:  decisionFor(result),
			RequestID: requestID,
		}); err != nil {
			h.logger.WarnContext(ctx, "failed to emit audit event",
				"request_id", requestID,
				"event", string(audit.EventSignaturesVerified),
				"error", err,
			)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleAuditTrail lists audit events for ?subject= (a hash, code or identity).
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requirePrincipal(w, ctx)
	if !ok {
		return
	}
	if !h.registry.HasRole(caller, models.RoleAdmin) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "caller does not hold the ADMIN role"))
		return
	}
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	if subject == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "subject is required"))
		return
	}
	if h.auditor == nil {
		httputil.WriteJSON(w, http.StatusOK, AuditTrailResponse{Subject: subject, Events: []AuditEntry{}})
		return
	}
	events, err := h.auditor.List(ctx, subject)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"request_id", requestcontext.RequestID(ctx),
			"subject", subject,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, auditTrail(subject, events))
}

func decisionFor(result signature.BatchResult) string {
	if result.InvalidCount == 0 {
		return "all_valid"
	}
	return "has_invalid"
}

func (h *Handler) requirePrincipal(w http.ResponseWriter, ctx context.Context) (domain.Identity, bool) {
	principal := requestcontext.Principal(ctx)
	if principal.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return principal, true
}

func studentParam(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	student, err := parseStudent(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return student, true
}
