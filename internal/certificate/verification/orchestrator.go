// Package verification resolves a certificate code to its stored document
// and registry record and decides whether the certificate can be trusted.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"certify/internal/certificate/canonical"
	"certify/internal/certificate/document"
	"certify/internal/certificate/metrics"
	"certify/internal/certificate/models"
	"certify/internal/certificate/signature"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
	audit "certify/pkg/platform/audit"
	"certify/pkg/platform/sentinel"
	"certify/pkg/requestcontext"
)

// RecordSource looks up registry records by hash.
type RecordSource interface {
	GetCertificateByHash(hash domain.CertHash) (models.CertificateRecord, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Orchestrator struct {
	documents   document.Store
	records     RecordSource
	verifier    *signature.Verifier
	encoder     *canonical.Encoder
	concurrency int
	logger      *slog.Logger
	auditor     AuditPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(o *Orchestrator) {
		o.auditor = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithEncoder must match the encoder used at issuance.
func WithEncoder(enc *canonical.Encoder) Option {
	return func(o *Orchestrator) {
		if enc != nil {
			o.encoder = enc
		}
	}
}

// WithConcurrency bounds VerifyMany.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func New(documents document.Store, records RecordSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		documents:   documents,
		records:     records,
		encoder:     canonical.New(),
		concurrency: 8,
		logger:      slog.Default(),
		tracer:      otel.Tracer("certify/verification"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.verifier = signature.NewVerifier(signature.WithEncoder(o.encoder))
	return o
}

// VerifyCertificateByCode returns the trust verdict for code. It fails with
// CodeNotFound when either the document or the record is missing; every
// other failure is reported on the Outcome.
func (o *Orchestrator) VerifyCertificateByCode(ctx context.Context, code string) (outcome *Outcome, err error) {
	normalized, err := domain.ParseCertCode(code)
	if err != nil {
		return nil, err
	}
	ctx, span := o.tracer.Start(ctx, "verification.VerifyCertificateByCode",
		trace.WithAttributes(attribute.String("cert_code", normalized.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("status", string(outcome.Status)))
		}
		span.End()
	}()

	stored, err := o.documents.Get(ctx, normalized)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, ReasonNotFound)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "document store unavailable")
	}
	record, err := o.records.GetCertificateByHash(stored.CertHash)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, ReasonNotFound)
		}
		return nil, err
	}

	outcome = o.evaluate(stored, record)
	outcome.Code = normalized
	outcome.CheckedAt = requestcontext.Now(ctx).UTC()

	o.metrics.IncrementVerification(string(outcome.Status), len(outcome.Warnings))
	o.logAudit(ctx, normalized, outcome)
	return outcome, nil
}

// evaluate runs the checks in fixed order: signature, anchor, revocation.
func (o *Orchestrator) evaluate(stored models.StoredCertificate, record models.CertificateRecord) *Outcome {
	out := &Outcome{Record: &record}

	var meta models.CertificateMetadata
	if err := json.Unmarshal(stored.Document, &meta); err != nil {
		return reject(out, StatusInvalid, ReasonInvalidDocument)
	}
	out.Metadata = &meta

	if meta.Signature != nil {
		res := o.verifier.VerifySignature(json.RawMessage(stored.Document))
		o.metrics.IncrementSignatureCheck(string(res.Kind))
		out.Signature = &res
		if !res.IsValid {
			return reject(out, StatusInvalid, res.Reason)
		}
		// The document names its own issuer, so the signer must also match the anchored record.
		if !signature.IsTrustedSigner(meta.Signature, meta.Issuer.Identity.String()) ||
			!signature.IsTrustedSigner(meta.Signature, record.Issuer.String()) {
			return reject(out, StatusInvalid, ReasonUntrustedSigner)
		}
	}

	if meta.Anchor == nil {
		return reject(out, StatusInvalid, ReasonAnchorMissing)
	}
	if !meta.Anchor.ContentHash.Equal(record.Hash) {
		return reject(out, StatusInvalid, ReasonAnchorMismatch)
	}

	if meta.Validity.IsRevoked {
		return reject(out, StatusRevoked, ReasonRevoked)
	}

	out.Status = StatusValid
	out.Warnings = o.crossCheck(meta, record)
	out.TrustLevel = TrustTrusted
	if len(out.Warnings) > 0 {
		out.TrustLevel = TrustWarning
	}
	return out
}

func reject(out *Outcome, status Status, reason string) *Outcome {
	out.Status = status
	out.Reason = reason
	out.TrustLevel = TrustRejected
	return out
}

// crossCheck compares record fields with the document. Disagreements are
// reported but do not change the verdict.
func (o *Orchestrator) crossCheck(meta models.CertificateMetadata, record models.CertificateRecord) []string {
	var warnings []string
	if !meta.Owner.Identity.Equal(record.Student) {
		warnings = append(warnings, "student identity differs between record and metadata")
	}
	if !sameText(meta.Owner.Name, record.StudentName) {
		warnings = append(warnings, "student name differs between record and metadata")
	}
	if !sameText(meta.Course.Name, record.CourseName) {
		warnings = append(warnings, "course name differs between record and metadata")
	}
	if !meta.Issuer.Identity.Equal(record.Issuer) {
		warnings = append(warnings, "issuer identity differs between record and metadata")
	}
	canon, err := o.encoder.Encode(meta.Draft())
	if err != nil || !canonical.MatchesURI(record.MetadataURI, canon) {
		warnings = append(warnings, "record metadata URI does not address the stored document")
	}
	return warnings
}

func sameText(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// VerifyMany verifies codes concurrently. Lookup failures become rejected
// outcomes so one bad code never fails the batch.
func (o *Orchestrator) VerifyMany(ctx context.Context, codes []string) Report {
	ctx, span := o.tracer.Start(ctx, "verification.VerifyMany",
		trace.WithAttributes(attribute.Int("count", len(codes))))
	defer span.End()
	o.metrics.ObserveBatchSize(len(codes))

	outcomes := make([]Outcome, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, code := range codes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = failed(code, "Verification cancelled")
				return nil
			}
			out, err := o.VerifyCertificateByCode(gctx, code)
			if err != nil {
				outcomes[i] = failed(code, dErrors.Message(err))
				return nil
			}
			outcomes[i] = *out
			return nil
		})
	}
	_ = g.Wait()

	return Report{Outcomes: outcomes, Summary: summarize(outcomes)}
}

func failed(code string, reason string) Outcome {
	return Outcome{
		Code:       domain.NormalizeCertCode(code),
		Status:     StatusInvalid,
		Reason:     reason,
		TrustLevel: TrustRejected,
	}
}

func summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, out := range outcomes {
		switch out.TrustLevel {
		case TrustTrusted:
			s.Trusted++
		case TrustWarning:
			s.Warning++
		default:
			s.Rejected++
		}
	}
	if s.Total > 0 {
		s.HealthScore = int(math.Round(100 * float64(s.Trusted) / float64(s.Total)))
	}
	return s
}

func (o *Orchestrator) logAudit(ctx context.Context, code domain.CertCode, out *Outcome) {
	o.logger.InfoContext(ctx, string(audit.EventCertificateVerified),
		"cert_code", code,
		"status", out.Status,
		"trust_level", out.TrustLevel,
		"reason", out.Reason,
		"warnings", len(out.Warnings),
		"log_type", "audit",
	)
	if o.auditor == nil {
		return
	}
	if err := o.auditor.Emit(ctx, audit.Event{
		Subject:   code.String(),
		Action:    string(audit.EventCertificateVerified),
		Decision:  string(out.Status),
		Reason:    out.Reason,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		o.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}
