package handler

import (
	"time"

	"certify/internal/certificate/models"
	"certify/pkg/platform/audit"
)

// CertificateListResponse wraps query results. Count always equals the
// number of certificates returned.
type CertificateListResponse struct {
	Certificates []models.CertificateRecord `json:"certificates"`
	Count        int                        `json:"count"`
}

func listResponse(records []models.CertificateRecord) CertificateListResponse {
	if records == nil {
		records = []models.CertificateRecord{}
	}
	return CertificateListResponse{Certificates: records, Count: len(records)}
}

// RoleChangeResponse echoes a completed role change.
type RoleChangeResponse struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
	Action    string `json:"action"`
}

// AuditEntry is one audit event as returned by GET /admin/audit.
type AuditEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actorId,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

type AuditTrailResponse struct {
	Subject string       `json:"subject"`
	Events  []AuditEntry `json:"events"`
}

func auditTrail(subject string, events []audit.Event) AuditTrailResponse {
	out := make([]AuditEntry, 0, len(events))
	for _, e := range events {
		out = append(out, AuditEntry{
			ID:        e.ID,
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			Action:    e.Action,
			ActorID:   e.ActorID,
			Decision:  e.Decision,
			Reason:    e.Reason,
			RequestID: e.RequestID,
		})
	}
	return AuditTrailResponse{Subject: subject, Events: out}
}
