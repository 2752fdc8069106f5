package models

import (
	"strings"
	"time"

	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
)

// Role is a registry permission held by a principal.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleRootAdmin Role = "ROOT_ADMIN"
)

// ParseRole accepts role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleRootAdmin:
		return RoleRootAdmin, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "role must be ADMIN or ROOT_ADMIN")
	}
}

func (r Role) String() string { return string(r) }

// CertificateRecord is the immutable registry entry for one issued credential.
type CertificateRecord struct {
	Hash        domain.CertHash `json:"hash"`
	Student     domain.Identity `json:"student"`
	StudentName string          `json:"studentName"`
	Issuer      domain.Identity `json:"issuer"`
	IssuerName  string          `json:"issuerName"`
	CourseName  string          `json:"courseName"`
	CourseType  string          `json:"courseType"`
	CourseLevel string          `json:"courseLevel"`
	MetadataURI string          `json:"metadataURI"`
	IssuedDate  time.Time       `json:"issuedDate"`
	// Sequence is the uniqueness nonce folded into Hash.
	Sequence uint64 `json:"sequence"`
}

// IssueInput carries the identity and course fields of a new record.
type IssueInput struct {
	Student     domain.Identity `validate:"required,identity"`
	StudentName string          `validate:"notblank,max=200"`
	Issuer      domain.Identity `validate:"required,identity"`
	IssuerName  string          `validate:"notblank,max=200"`
	CourseName  string          `validate:"notblank,max=200"`
	CourseType  string          `validate:"notblank,max=100"`
	CourseLevel string          `validate:"notblank,max=100"`
	MetadataURI string          `validate:"notblank,max=512"`
}

// IssueReceipt is returned once a record is confirmed and indexed.
type IssueReceipt struct {
	Hash           domain.CertHash `json:"hash"`
	TransactionRef string          `json:"transactionRef"`
}

// StoredCertificate is the off-ledger document as persisted by code.
// Document holds the exact signed bytes; it is never re-encoded.
type StoredCertificate struct {
	Code        domain.CertCode `json:"code"`
	CertHash    domain.CertHash `json:"certHash"`
	MetadataURI string          `json:"metadataURI"`
	Document    []byte          `json:"document"`
	CreatedAt   time.Time       `json:"createdAt"`
}
