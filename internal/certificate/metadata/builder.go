// Package metadata assembles the off-ledger certificate document.
package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
)

const (
	DocumentVersion = "1.0"
	DocumentType    = "course-certificate"
	DefaultNetwork  = "default"
)

// Inputs are the issuance facts a document is built from.
type Inputs struct {
	CertCode       domain.CertCode
	Issuer         models.Party
	Owner          models.Party
	Course         models.Course
	IssueDate      *time.Time
	ExpireDate     *time.Time
	TransactionRef string
	ContentHash    domain.CertHash
	Network        string
	// Extra adds top-level keys. Keys owned by the document are rejected.
	Extra map[string]json.RawMessage
}

// Builder holds defaults for document assembly.
type Builder struct {
	network string
	clock   func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithNetwork sets the default anchor network label.
func WithNetwork(network string) Option {
	return func(b *Builder) {
		if strings.TrimSpace(network) != "" {
			b.network = strings.TrimSpace(network)
		}
	}
}

// WithClock overrides the source of the default issue date.
func WithClock(clock func() time.Time) Option {
	return func(b *Builder) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{network: DefaultNetwork, clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles an anchored, unsigned document.
func (b *Builder) Build(in Inputs) (models.CertificateMetadata, error) {
	m, err := b.BuildDraft(in)
	if err != nil {
		return models.CertificateMetadata{}, err
	}
	network := strings.TrimSpace(in.Network)
	if network == "" {
		network = b.network
	}
	m.Anchor = &models.Anchor{
		TransactionRef: in.TransactionRef,
		ContentHash:    in.ContentHash,
		Network:        network,
	}
	return m, nil
}

// BuildDraft assembles the document without its anchor. The draft is what
// gets content-addressed before the registry assigns a hash.
func (b *Builder) BuildDraft(in Inputs) (models.CertificateMetadata, error) {
	if in.CertCode == "" {
		return models.CertificateMetadata{}, dErrors.New(dErrors.CodeInvalidInput, "certificate code is required")
	}
	if err := checkExtra(in.Extra); err != nil {
		return models.CertificateMetadata{}, err
	}

	issued := b.clock()
	if in.IssueDate != nil {
		issued = *in.IssueDate
	}
	var expires *time.Time
	if in.ExpireDate != nil {
		e := normalizeTime(*in.ExpireDate)
		expires = &e
	}

	m := models.CertificateMetadata{
		Version:  DocumentVersion,
		Type:     DocumentType,
		CertCode: in.CertCode,
		Owner:    in.Owner,
		Course:   in.Course,
		Issuer:   in.Issuer,
		Validity: models.Validity{
			IssueDate:  normalizeTime(issued),
			ExpireDate: expires,
			IsRevoked:  false,
		},
	}
	if len(in.Extra) > 0 {
		m.Extensions = make(map[string]json.RawMessage, len(in.Extra))
		for k, v := range in.Extra {
			m.Extensions[k] = append(json.RawMessage(nil), v...)
		}
	}
	return m, nil
}

func checkExtra(extra map[string]json.RawMessage) error {
	var clashes []string
	for k, v := range extra {
		if models.IsMetadataKey(k) {
			clashes = append(clashes, k)
			continue
		}
		if !json.Valid(v) {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("extra field %q is not valid JSON", k))
		}
	}
	if len(clashes) > 0 {
		sort.Strings(clashes)
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("extra fields cannot override certificate fields: %s", strings.Join(clashes, ", ")))
	}
	return nil
}

// normalizeTime keeps UTC at millisecond precision so dates render the same
// way on every issuer.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
