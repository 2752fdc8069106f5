package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"certify/internal/certificate/issuance"
	"certify/internal/certificate/models"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
	"certify/pkg/platform/validation"
)

const (
	maxBatchCodes     = 100
	maxBatchDocuments = 500
)

// IssueCertificateRequest is the body of POST /certificates.
type IssueCertificateRequest struct {
	Student     string                     `json:"student" validate:"required,identity"`
	StudentName string                     `json:"studentName" validate:"notblank,max=200"`
	Issuer      string                     `json:"issuer" validate:"required,identity"`
	IssuerName  string                     `json:"issuerName" validate:"notblank,max=200"`
	Course      models.Course              `json:"course"`
	CourseType  string                     `json:"courseType" validate:"notblank,max=100"`
	CourseLevel string                     `json:"courseLevel" validate:"notblank,max=100"`
	ExpireDate  *time.Time                 `json:"expireDate,omitempty"`
	Extra       map[string]json.RawMessage `json:"extra,omitempty"`
}

func (r *IssueCertificateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return validation.Struct(r)
}

func (r *IssueCertificateRequest) toRequest() issuance.Request {
	return issuance.Request{
		Student:     domain.Identity(strings.ToLower(strings.TrimSpace(r.Student))),
		StudentName: strings.TrimSpace(r.StudentName),
		Issuer:      domain.Identity(strings.ToLower(strings.TrimSpace(r.Issuer))),
		IssuerName:  strings.TrimSpace(r.IssuerName),
		Course: models.Course{
			Name:        strings.TrimSpace(r.Course.Name),
			Description: strings.TrimSpace(r.Course.Description),
			Duration:    strings.TrimSpace(r.Course.Duration),
		},
		CourseType:  strings.TrimSpace(r.CourseType),
		CourseLevel: strings.TrimSpace(r.CourseLevel),
		ExpireDate:  r.ExpireDate,
		Extra:       r.Extra,
	}
}

// RoleChangeRequest is the body of POST /admin/roles/grant and /revoke.
type RoleChangeRequest struct {
	Principal string `json:"principal" validate:"required,identity"`
	Role      string `json:"role" validate:"required"`

	parsedPrincipal domain.Identity
	parsedRole      models.Role
}

func (r *RoleChangeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := validation.Struct(r); err != nil {
		return err
	}
	principal, err := domain.ParseIdentity(r.Principal)
	if err != nil {
		return err
	}
	role, err := models.ParseRole(r.Role)
	if err != nil {
		return err
	}
	r.parsedPrincipal = principal
	r.parsedRole = role
	return nil
}

// VerifyBatchRequest is the body of POST /verify/batch.
type VerifyBatchRequest struct {
	Codes []string `json:"codes"`
}

func (r *VerifyBatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Codes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "codes must not be empty")
	}
	if len(r.Codes) > maxBatchCodes {
		return dErrors.New(dErrors.CodeValidation, "codes must contain at most 100 entries")
	}
	return nil
}

// VerifySignatureRequest is the body of POST /signatures/verify.
type VerifySignatureRequest struct {
	Document json.RawMessage `json:"document"`
}

func (r *VerifySignatureRequest) Validate() error {
	if r == nil || len(r.Document) == 0 {
		return dErrors.New(dErrors.CodeValidation, "document is required")
	}
	return nil
}

// VerifySignaturesBatchRequest is the body of POST /signatures/verify-batch.
type VerifySignaturesBatchRequest struct {
	Documents []json.RawMessage `json:"documents"`
}

func (r *VerifySignaturesBatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Documents) == 0 {
		return dErrors.New(dErrors.CodeValidation, "documents must not be empty")
	}
	if len(r.Documents) > maxBatchDocuments {
		return dErrors.New(dErrors.CodeValidation, "documents must contain at most 500 entries")
	}
	return nil
}

const dateLayout = "2006-01-02"

// parseDateRange reads from/to query parameters. Dates may be RFC 3339
// timestamps or calendar days; a calendar-day "to" covers the whole day.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	from, _, err := parseDate(r.URL.Query().Get("from"), "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, dayOnly, err := parseDate(r.URL.Query().Get("to"), "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if dayOnly {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	return from, to, nil
}

func parseDate(raw, name string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, dErrors.New(dErrors.CodeValidation, name+" is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, dErrors.New(dErrors.CodeValidation, name+" must be an RFC 3339 timestamp or YYYY-MM-DD")
}

func parseStudent(raw string) (domain.Identity, error) {
	return domain.ParseIdentity(raw)
}

func parseHash(raw string) (domain.CertHash, error) {
	return domain.ParseCertHash(raw)
}
