package verification

import (
	"time"

	"certify/internal/certificate/models"
	"certify/internal/certificate/signature"
	"certify/pkg/domain"
)

// Status is the trust verdict for one certificate.
type Status string

const (
	StatusValid   Status = "Valid"
	StatusInvalid Status = "Invalid"
	StatusRevoked Status = "Revoked"
)

// TrustLevel is the coarse classification shown to relying parties.
type TrustLevel string

const (
	TrustTrusted  TrustLevel = "trusted"
	TrustWarning  TrustLevel = "warning"
	TrustRejected TrustLevel = "rejected"
)

// Failure reasons, in check order.
const (
	ReasonNotFound        = "Certificate not found"
	ReasonInvalidDocument = "Stored document is not valid certificate metadata"
	ReasonUntrustedSigner = "Untrusted signer - signature not produced by the certificate issuer"
	ReasonAnchorMissing   = "Anchor missing"
	ReasonAnchorMismatch  = "Anchor mismatch - record hash differs from metadata content hash"
	ReasonRevoked         = "Certificate revoked"
)

// Outcome is the full verdict for one code. Reason is set for every status
// other than Valid.
type Outcome struct {
	Code       domain.CertCode             `json:"code"`
	Status     Status                      `json:"status"`
	Reason     string                      `json:"reason,omitempty"`
	TrustLevel TrustLevel                  `json:"trustLevel"`
	Signature  *signature.Result           `json:"signature,omitempty"`
	Record     *models.CertificateRecord   `json:"record,omitempty"`
	Metadata   *models.CertificateMetadata `json:"metadata,omitempty"`
	Warnings   []string                    `json:"warnings,omitempty"`
	CheckedAt  time.Time                   `json:"checkedAt"`
}

// Summary aggregates a multi-code verification.
type Summary struct {
	Total       int `json:"total"`
	Trusted     int `json:"trusted"`
	Warning     int `json:"warning"`
	Rejected    int `json:"rejected"`
	HealthScore int `json:"healthScore"`
}

// Report is the result of VerifyMany. Outcomes follow input order.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`
}
