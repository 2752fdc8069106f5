package models

import (
	"encoding/json"
	"time"

	"certify/pkg/domain"
)

// Party identifies a certificate owner or issuer.
type Party struct {
	Identity domain.Identity `json:"identity"`
	Name     string          `json:"name"`
}

// Course describes the completed coursework.
type Course struct {
	Name        string `json:"name" validate:"notblank,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Duration    string `json:"duration" validate:"max=100"`
}

// Validity carries issue/expiry dates and the revocation flag.
type Validity struct {
	IssueDate  time.Time  `json:"issueDate"`
	ExpireDate *time.Time `json:"expireDate"`
	IsRevoked  bool       `json:"isRevoked"`
}

// Anchor binds a document to its registry record.
type Anchor struct {
	TransactionRef string          `json:"transactionRef"`
	ContentHash    domain.CertHash `json:"contentHash"`
	Network        string          `json:"network"`
}

// SignatureEnvelope travels with a document but is excluded from the signed payload.
// Fields stay raw strings: they are untrusted until verified.
type SignatureEnvelope struct {
	Value      string `json:"value"`
	SignedBy   string `json:"signedBy"`
	SignedHash string `json:"signedHash,omitempty"`
}

// CertificateMetadata is the off-ledger descriptive document.
// Unknown top-level keys survive a decode/encode cycle in Extensions.
type CertificateMetadata struct {
	Version   string             `json:"version"`
	Type      string             `json:"type"`
	CertCode  domain.CertCode    `json:"certCode"`
	Owner     Party              `json:"owner"`
	Course    Course             `json:"course"`
	Issuer    Party              `json:"issuer"`
	Validity  Validity           `json:"validity"`
	Anchor    *Anchor            `json:"anchor,omitempty"`
	Signature *SignatureEnvelope `json:"signature,omitempty"`

	Extensions map[string]json.RawMessage `json:"-"`
}

// Top-level keys owned by CertificateMetadata itself.
var metadataKeys = map[string]struct{}{
	"version":   {},
	"type":      {},
	"certCode":  {},
	"owner":     {},
	"course":    {},
	"issuer":    {},
	"validity":  {},
	"anchor":    {},
	"signature": {},
}

// IsMetadataKey reports whether key is a built-in top-level field.
func IsMetadataKey(key string) bool {
	_, ok := metadataKeys[key]
	return ok
}

type metadataAlias CertificateMetadata

func (m CertificateMetadata) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(metadataAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extensions) == 0 {
		return base, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range m.Extensions {
		if IsMetadataKey(k) {
			continue
		}
		fields[k] = v
	}
	return json.Marshal(fields)
}

func (m *CertificateMetadata) UnmarshalJSON(data []byte) error {
	var alias metadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for k, v := range fields {
		if IsMetadataKey(k) {
			continue
		}
		if alias.Extensions == nil {
			alias.Extensions = make(map[string]json.RawMessage)
		}
		alias.Extensions[k] = v
	}
	*m = CertificateMetadata(alias)
	return nil
}

// Payload returns a copy without the signature envelope.
func (m CertificateMetadata) Payload() CertificateMetadata {
	m.Signature = nil
	return m
}

// Draft returns a copy without anchor and signature: the form that is
// content-addressed before the registry assigns a hash.
func (m CertificateMetadata) Draft() CertificateMetadata {
	m.Signature = nil
	m.Anchor = nil
	return m
}
