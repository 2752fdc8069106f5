// Package registry holds the certificate records anchored on the ledger,
// their lookup indices and the role table that gates mutation.
//
// Writers are serialized by writeMu, and the role check for a write happens
// under it too. The ledger round trip happens while
// holding writeMu only; the in-memory append and index update happen under
// stateMu so readers never see a half-appended record.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certify/internal/certificate/ledger"
	"certify/internal/certificate/metrics"
	"certify/internal/certificate/models"
	"certify/pkg/attrs"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
	audit "certify/pkg/platform/audit"
	"certify/pkg/platform/sentinel"
	"certify/pkg/platform/validation"
	"certify/pkg/requestcontext"
)

//go:generate mockgen -source=registry.go -destination=mocks/registry-mocks.go -package=mocks AuditPublisher

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Registry is the authoritative, append-only set of certificate records.
type Registry struct {
	ledger  ledger.Ledger
	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
	tracer  trace.Tracer

	writeMu sync.Mutex
	nonce   uint64

	stateMu       sync.RWMutex
	records       []models.CertificateRecord
	byHash        map[domain.CertHash]int
	byStudent     map[domain.Identity][]int
	byCourseType  map[string][]int
	byCourseLevel map[string][]int
	roles         map[domain.Identity]map[models.Role]struct{}
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Registry) {
		r.auditor = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithAdmins grants ADMIN to each principal at construction.
func WithAdmins(admins ...domain.Identity) Option {
	return func(r *Registry) {
		for _, a := range admins {
			if a.IsNil() {
				continue
			}
			r.addRole(a, models.RoleAdmin)
		}
	}
}

// New constructs a registry bootstrapped with root as ROOT_ADMIN and ADMIN,
// then replays the ledger history to rebuild records and indices.
func New(ctx context.Context, l ledger.Ledger, root domain.Identity, opts ...Option) (*Registry, error) {
	root, err := domain.ParseIdentity(root.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "root admin identity is invalid")
	}
	r := &Registry{
		ledger:        l,
		logger:        slog.Default(),
		tracer:        otel.Tracer("certify/registry"),
		byHash:        make(map[domain.CertHash]int),
		byStudent:     make(map[domain.Identity][]int),
		byCourseType:  make(map[string][]int),
		byCourseLevel: make(map[string][]int),
		roles:         make(map[domain.Identity]map[models.Role]struct{}),
	}
	r.addRole(root, models.RoleRootAdmin)
	r.addRole(root, models.RoleAdmin)
	for _, opt := range opts {
		opt(r)
	}

	history, err := l.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay ledger history: %w", err)
	}
	for _, rec := range history {
		if _, dup := r.byHash[rec.Hash]; dup {
			return nil, fmt.Errorf("replay ledger history: duplicate record %s", rec.Hash)
		}
		r.appendLocked(rec)
		if rec.Sequence > r.nonce {
			r.nonce = rec.Sequence
		}
	}
	if n := uint64(len(r.records)); n > r.nonce {
		r.nonce = n
	}
	r.metrics.SetRegistrySize(len(r.records))
	if len(history) > 0 {
		r.logger.InfoContext(ctx, "registry replayed ledger history", "records", len(history))
	}
	return r, nil
}

// IssueCertificate appends a new record on behalf of caller, who must hold ADMIN.
// The record is visible to readers only once the ledger has confirmed it.
func (r *Registry) IssueCertificate(ctx context.Context, caller domain.Identity, in models.IssueInput) (receipt models.IssueReceipt, err error) {
	ctx, span := r.tracer.Start(ctx, "registry.IssueCertificate",
		trace.WithAttributes(attribute.String("caller", caller.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.metrics.IncrementIssueFailure(string(dErrors.GetCode(err)))
		}
		span.End()
	}()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// Role changes also hold writeMu, so the check stays true until the record lands.
	if err := r.requireRole(caller, models.RoleAdmin); err != nil {
		r.logAudit(ctx, string(audit.EventCertificateIssueDenied),
			"subject", caller.String(),
			"actor_id", caller.String(),
			"reason", "missing ADMIN role",
		)
		return models.IssueReceipt{}, err
	}
	if err := validation.Struct(in); err != nil {
		return models.IssueReceipt{}, err
	}

	record := models.CertificateRecord{
		Student:     normalizeIdentity(in.Student),
		StudentName: strings.TrimSpace(in.StudentName),
		Issuer:      normalizeIdentity(in.Issuer),
		IssuerName:  strings.TrimSpace(in.IssuerName),
		CourseName:  strings.TrimSpace(in.CourseName),
		CourseType:  strings.TrimSpace(in.CourseType),
		CourseLevel: strings.TrimSpace(in.CourseLevel),
		MetadataURI: strings.TrimSpace(in.MetadataURI),
		IssuedDate:  requestcontext.Now(ctx).UTC(),
		Sequence:    r.nonce + 1,
	}
	record.Hash = hashOf(record)
	span.SetAttributes(attribute.String("cert_hash", record.Hash.String()))

	r.stateMu.RLock()
	_, dup := r.byHash[record.Hash]
	r.stateMu.RUnlock()
	if dup {
		return models.IssueReceipt{}, dErrors.New(dErrors.CodeConflict, "certificate already exists")
	}

	submitStart := time.Now()
	ledgerReceipt, err := r.ledger.Submit(ctx, record)
	r.metrics.ObserveLedgerSubmit(time.Since(submitStart))
	if err != nil {
		return models.IssueReceipt{}, ledgerError(err)
	}
	if !ledgerReceipt.Confirmed {
		return models.IssueReceipt{}, dErrors.Wrap(sentinel.ErrUnconfirmed, dErrors.CodeUnavailable, "ledger did not confirm the certificate")
	}
	if !ledgerReceipt.FinalHash.Equal(record.Hash) {
		r.logger.ErrorContext(ctx, "ledger confirmed a different hash",
			"expected", record.Hash,
			"final", ledgerReceipt.FinalHash,
		)
		return models.IssueReceipt{}, dErrors.New(dErrors.CodeInternal, "ledger confirmed a different certificate hash")
	}

	r.stateMu.Lock()
	r.appendLocked(record)
	size := len(r.records)
	r.stateMu.Unlock()
	r.nonce = record.Sequence

	r.metrics.IncrementIssued()
	r.metrics.SetRegistrySize(size)
	r.logAudit(ctx, string(audit.EventCertificateIssued),
		"subject", record.Hash.String(),
		"actor_id", caller.String(),
		"student", record.Student.String(),
		"transaction_ref", ledgerReceipt.TransactionRef,
	)

	return models.IssueReceipt{Hash: record.Hash, TransactionRef: ledgerReceipt.TransactionRef}, nil
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "certificate already anchored")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "ledger commit did not complete")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger commit failed")
	}
}

// appendLocked adds rec and its index entries. Caller holds stateMu or has
// exclusive access during construction.
func (r *Registry) appendLocked(rec models.CertificateRecord) {
	idx := len(r.records)
	r.records = append(r.records, rec)
	r.byHash[domain.CertHash(strings.ToLower(rec.Hash.String()))] = idx
	student := normalizeIdentity(rec.Student)
	r.byStudent[student] = append(r.byStudent[student], idx)
	typeKey := indexKey(rec.CourseType)
	r.byCourseType[typeKey] = append(r.byCourseType[typeKey], idx)
	levelKey := indexKey(rec.CourseLevel)
	r.byCourseLevel[levelKey] = append(r.byCourseLevel[levelKey], idx)
}

func indexKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return len(r.records)
}

func (r *Registry) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if r.logger != nil {
		r.logger.InfoContext(ctx, event, args...)
	}
	if r.auditor == nil {
		return
	}
	if err := r.auditor.Emit(ctx, audit.Event{
		Subject:   attrs.ExtractString(attributes, "subject"),
		Action:    event,
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
		Decision:  attrs.ExtractString(attributes, "decision"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		RequestID: attrs.ExtractString(attributes, "request_id"),
	}); err != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}
