package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// Categories drive retention and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or accreditation significance:
	// issued credentials must be traceable for the life of the certificate.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers permission changes and access violations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine read-side activity such as verifications.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	// Subject is what the event is about: a certificate hash, a code or a principal.
	Subject string
	Action  string
	// ActorID is the principal that performed the action, when known.
	ActorID   string
	Decision  string
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	EventCertificateIssued      AuditEvent = "certificate_issued"
	EventCertificateIssueDenied AuditEvent = "certificate_issue_denied"
	EventRoleGranted            AuditEvent = "role_granted"
	EventRoleRevoked            AuditEvent = "role_revoked"
	EventRoleChangeDenied       AuditEvent = "role_change_denied"
	EventCertificateVerified    AuditEvent = "certificate_verified"
	EventSignaturesVerified     AuditEvent = "signatures_batch_verified"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCertificateIssued: CategoryCompliance,

	EventCertificateIssueDenied: CategorySecurity,
	EventRoleGranted:            CategorySecurity,
	EventRoleRevoked:            CategorySecurity,
	EventRoleChangeDenied:       CategorySecurity,

	EventCertificateVerified: CategoryOperations,
	EventSignaturesVerified:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Appender accepts events. Stream sinks only implement this.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store persists events and lists them back by subject.
type Store interface {
	Appender
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
