package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for issuance, the registry and verification.
// All methods are nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	CertificatesIssued  prometheus.Counter
	IssueFailures       *prometheus.CounterVec
	IssueLatency        prometheus.Histogram
	LedgerSubmitLatency prometheus.Histogram
	RegistrySize        prometheus.Gauge
	RoleChanges         *prometheus.CounterVec

	VerificationOutcomes *prometheus.CounterVec
	VerificationWarnings prometheus.Counter
	SignatureOutcomes    *prometheus.CounterVec
	BatchSize            prometheus.Histogram
}

// New registers metrics with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers metrics with reg. Tests use a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CertificatesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_certificates_issued_total",
			Help: "Total number of certificates confirmed by the ledger and indexed",
		}),
		IssueFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_issue_failures_total",
			Help: "Failed issuance attempts by error code",
		}, []string{"code"}),
		IssueLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certify_issue_duration_seconds",
			Help:    "Duration of a full issuance including signing and document storage",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		LedgerSubmitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certify_ledger_submit_duration_seconds",
			Help:    "Duration of ledger commit round trips",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		RegistrySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "certify_registry_records",
			Help: "Number of certificate records held by the registry",
		}),
		RoleChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_role_changes_total",
			Help: "Role grants and revocations by role and action",
		}, []string{"role", "action"}),
		VerificationOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_verifications_total",
			Help: "Certificate verifications by status",
		}, []string{"status"}),
		VerificationWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_verification_warnings_total",
			Help: "Non-fatal cross-check warnings raised during verification",
		}),
		SignatureOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_signature_checks_total",
			Help: "Signature verifications by result kind",
		}, []string{"kind"}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certify_batch_size",
			Help:    "Number of items per batch verification request",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

// IncrementIssued records a confirmed issuance.
func (m *Metrics) IncrementIssued() {
	if m != nil {
		m.CertificatesIssued.Inc()
	}
}

// IncrementIssueFailure records a failed issuance by domain error code.
func (m *Metrics) IncrementIssueFailure(code string) {
	if m != nil {
		m.IssueFailures.WithLabelValues(code).Inc()
	}
}

// ObserveIssueLatency records the end-to-end issuance duration.
func (m *Metrics) ObserveIssueLatency(d time.Duration) {
	if m != nil {
		m.IssueLatency.Observe(d.Seconds())
	}
}

// ObserveLedgerSubmit records one ledger commit round trip.
func (m *Metrics) ObserveLedgerSubmit(d time.Duration) {
	if m != nil {
		m.LedgerSubmitLatency.Observe(d.Seconds())
	}
}

// SetRegistrySize publishes the current record count.
func (m *Metrics) SetRegistrySize(n int) {
	if m != nil {
		m.RegistrySize.Set(float64(n))
	}
}

// IncrementRoleChange records a grant or revoke.
func (m *Metrics) IncrementRoleChange(role, action string) {
	if m != nil {
		m.RoleChanges.WithLabelValues(role, action).Inc()
	}
}

// IncrementVerification records a verification verdict.
func (m *Metrics) IncrementVerification(status string, warnings int) {
	if m != nil {
		m.VerificationOutcomes.WithLabelValues(status).Inc()
		if warnings > 0 {
			m.VerificationWarnings.Add(float64(warnings))
		}
	}
}

// IncrementSignatureCheck records a signature verification result kind.
func (m *Metrics) IncrementSignatureCheck(kind string) {
	if m != nil {
		m.SignatureOutcomes.WithLabelValues(kind).Inc()
	}
}

// ObserveBatchSize records the size of a batch request.
func (m *Metrics) ObserveBatchSize(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}
