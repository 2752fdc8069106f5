// Package issuance runs the end-to-end issuance flow: build the document,
// anchor it in the registry, sign it with the issuer's key and store it.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"certify/internal/certificate/canonical"
	"certify/internal/certificate/document"
	"certify/internal/certificate/metadata"
	"certify/internal/certificate/metrics"
	"certify/internal/certificate/models"
	"certify/internal/certificate/signature"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
	"certify/pkg/platform/sentinel"
	"certify/pkg/platform/validation"
	"certify/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/issuance-mocks.go -package=mocks Registry

// Registry is the subset of the certificate registry used for issuance.
type Registry interface {
	IssueCertificate(ctx context.Context, caller domain.Identity, in models.IssueInput) (models.IssueReceipt, error)
}

// Request carries everything needed to issue one certificate.
type Request struct {
	Student     domain.Identity `validate:"required,identity"`
	StudentName string          `validate:"notblank,max=200"`
	Issuer      domain.Identity `validate:"required,identity"`
	IssuerName  string          `validate:"notblank,max=200"`
	Course      models.Course
	CourseType  string     `validate:"notblank,max=100"`
	CourseLevel string     `validate:"notblank,max=100"`
	ExpireDate  *time.Time
	Extra       map[string]json.RawMessage
}

// Issued is the outcome of a successful issuance.
type Issued struct {
	CertCode       domain.CertCode            `json:"certCode"`
	Hash           domain.CertHash            `json:"hash"`
	TransactionRef string                     `json:"transactionRef"`
	MetadataURI    string                     `json:"metadataURI"`
	Metadata       models.CertificateMetadata `json:"metadata"`
}

const maxCodeAttempts = 5

type Service struct {
	registry  Registry
	store     document.Store
	keyring   *signature.Keyring
	builder   *metadata.Builder
	encoder   *canonical.Encoder
	verifier  *signature.Verifier
	embedHash bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
	newCode   func(time.Time) (domain.CertCode, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEncoder sets the canonical encoder shared by content addressing,
// signing and self-verification.
func WithEncoder(enc *canonical.Encoder) Option {
	return func(s *Service) {
		if enc != nil {
			s.encoder = enc
		}
	}
}

func WithBuilder(b *metadata.Builder) Option {
	return func(s *Service) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithoutSignedHash omits signedHash from envelopes. Tampering is then
// reported as a signer mismatch.
func WithoutSignedHash() Option {
	return func(s *Service) {
		s.embedHash = false
	}
}

// WithCodeGenerator replaces the certificate code generator.
func WithCodeGenerator(gen func(time.Time) (domain.CertCode, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.newCode = gen
		}
	}
}

func New(registry Registry, store document.Store, keyring *signature.Keyring, opts ...Option) *Service {
	s := &Service{
		registry:  registry,
		store:     store,
		keyring:   keyring,
		builder:   metadata.NewBuilder(),
		encoder:   canonical.New(),
		embedHash: true,
		logger:    slog.Default(),
		newCode:   domain.NewCertCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = signature.NewVerifier(signature.WithEncoder(s.encoder))
	return s
}

// Issue anchors and signs a new certificate on behalf of caller.
func (s *Service) Issue(ctx context.Context, caller domain.Identity, req Request) (*Issued, error) {
	start := time.Now()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if req.ExpireDate != nil && !req.ExpireDate.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "ExpireDate must be after the issue date")
	}
	signer, ok := s.keyring.Signer(req.Issuer)
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "no signing key is configured for issuer "+req.Issuer.String())
	}

	code, err := s.reserveCode(ctx, now)
	if err != nil {
		return nil, err
	}

	inputs := metadata.Inputs{
		CertCode:   code,
		Issuer:     models.Party{Identity: signer.Identity(), Name: req.IssuerName},
		Owner:      models.Party{Identity: normalize(req.Student), Name: req.StudentName},
		Course:     req.Course,
		IssueDate:  &now,
		ExpireDate: req.ExpireDate,
		Extra:      req.Extra,
	}
	draft, err := s.builder.BuildDraft(inputs)
	if err != nil {
		return nil, err
	}
	uri, err := s.encoder.ContentURI(draft)
	if err != nil {
		return nil, err
	}

	receipt, err := s.registry.IssueCertificate(ctx, caller, models.IssueInput{
		Student:     req.Student,
		StudentName: req.StudentName,
		Issuer:      req.Issuer,
		IssuerName:  req.IssuerName,
		CourseName:  req.Course.Name,
		CourseType:  req.CourseType,
		CourseLevel: req.CourseLevel,
		MetadataURI: uri,
	})
	if err != nil {
		return nil, err
	}

	inputs.TransactionRef = receipt.TransactionRef
	inputs.ContentHash = receipt.Hash
	final, err := s.builder.Build(inputs)
	if err != nil {
		return nil, s.orphaned(ctx, receipt, err)
	}
	signed, err := signer.SignMetadata(final, s.embedHash)
	if err != nil {
		return nil, s.orphaned(ctx, receipt, err)
	}
	doc, err := json.Marshal(signed)
	if err != nil {
		return nil, s.orphaned(ctx, receipt, err)
	}

	check := s.verifier.VerifySignature(json.RawMessage(doc))
	s.metrics.IncrementSignatureCheck(string(check.Kind))
	if !check.IsValid || !signature.IsTrustedSigner(signed.Signature, req.Issuer.String()) {
		s.logger.ErrorContext(ctx, "issued document failed self-verification",
			"cert_hash", receipt.Hash,
			"reason", check.Reason,
		)
		return nil, s.orphaned(ctx, receipt, errors.New("self-verification failed: "+check.Reason))
	}

	err = s.store.Put(ctx, code, models.StoredCertificate{
		Code:        code,
		CertHash:    receipt.Hash,
		MetadataURI: uri,
		Document:    doc,
		CreatedAt:   now.UTC(),
	})
	if err != nil {
		return nil, s.orphaned(ctx, receipt, err)
	}

	s.metrics.ObserveIssueLatency(time.Since(start))
	s.logger.InfoContext(ctx, "certificate issued",
		"cert_code", code,
		"cert_hash", receipt.Hash,
		"transaction_ref", receipt.TransactionRef,
		"issuer", signer.Identity(),
		"request_id", requestcontext.RequestID(ctx),
	)

	return &Issued{
		CertCode:       code,
		Hash:           receipt.Hash,
		TransactionRef: receipt.TransactionRef,
		MetadataURI:    uri,
		Metadata:       signed,
	}, nil
}

// reserveCode picks a code not yet present in the document store.
func (s *Service) reserveCode(ctx context.Context, now time.Time) (domain.CertCode, error) {
	for range maxCodeAttempts {
		code, err := s.newCode(now)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate certificate code")
		}
		_, err = s.store.Get(ctx, code)
		if errors.Is(err, sentinel.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "document store unavailable")
		}
	}
	return "", dErrors.New(dErrors.CodeConflict, "could not allocate a unique certificate code")
}

// orphaned reports a failure after the record was anchored. The record
// stays on the ledger; the log line carries what is needed to reconcile it.
func (s *Service) orphaned(ctx context.Context, receipt models.IssueReceipt, err error) error {
	s.logger.ErrorContext(ctx, "certificate anchored without a stored document",
		"cert_hash", receipt.Hash,
		"transaction_ref", receipt.TransactionRef,
		"error", err,
	)
	s.metrics.IncrementIssueFailure(string(dErrors.CodeInternal))
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize certificate")
}

func normalize(id domain.Identity) domain.Identity {
	if parsed, err := domain.ParseIdentity(id.String()); err == nil {
		return parsed
	}
	return id
}
