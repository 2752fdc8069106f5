package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"certify/internal/certificate/document"
	"certify/internal/certificate/issuance"
	"certify/internal/certificate/ledger"
	"certify/internal/certificate/models"
	"certify/internal/certificate/registry"
	"certify/internal/certificate/signature"
	"certify/internal/certificate/verification"
	ratelimitmw "certify/internal/ratelimit/middleware"
	ratelimit "certify/internal/ratelimit/models"
	"certify/pkg/domain"
	"certify/pkg/platform/audit"
	"certify/pkg/platform/audit/publisher"
	auditmemory "certify/pkg/platform/audit/store/memory"
	"certify/pkg/testutil"
)

const issuerKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	rootAdmin = domain.MustIdentity("0x1111111111111111111111111111111111111111")
	outsider  = domain.MustIdentity("0x3333333333333333333333333333333333333333")
	student   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	issuer    = "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23"
)

func issueBody() map[string]any {
	return map[string]any{
		"student":     student,
		"studentName": "Ada Lovelace",
		"issuer":      issuer,
		"issuerName":  "Open Ledger Academy",
		"course": map[string]any{
			"name":        "Blockchain 101",
			"description": "Ledgers, signatures and consensus",
			"duration":    "6 weeks",
		},
		"courseType":  "Technology",
		"courseLevel": "Advanced",
	}
}

type HandlerSuite struct {
	suite.Suite
	registry *registry.Registry
	store    *document.Memory
	router   chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	auditor := publisher.NewPublisher(auditmemory.NewInMemoryStore(), publisher.WithLogger(logger))
	reg, err := registry.New(ctx, ledger.NewMemory(), rootAdmin,
		registry.WithLogger(logger),
		registry.WithAuditPublisher(auditor),
	)
	s.Require().NoError(err)
	s.registry = reg
	s.store = document.NewMemory()

	keyring, err := signature.KeyringFromHex([]string{issuerKeyHex})
	s.Require().NoError(err)
	issuerSvc := issuance.New(reg, s.store, keyring, issuance.WithLogger(logger))
	verifier := verification.New(s.store, reg, verification.WithLogger(logger))

	h := New(reg, issuerSvc, verifier, signature.NewVerifier(), logger, nil, auditor)
	r := chi.NewRouter()
	h.Register(r)
	r.Group(h.RegisterAdmin)
	s.router = r
}

func (s *HandlerSuite) issue(body map[string]any) issuance.Issued {
	req := testutil.WithPrincipal(testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates", body), rootAdmin)
	rr := testutil.DoRequest(s.router, req)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	return *testutil.UnmarshalResponse[issuance.Issued](s.T(), rr)
}

func (s *HandlerSuite) TestIssueRequiresPrincipal() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates", issueBody())
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *HandlerSuite) TestIssueRejectsNonAdmin() {
	req := testutil.WithPrincipal(testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates", issueBody()), outsider)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	s.Zero(s.registry.Len())
}

func (s *HandlerSuite) TestIssueValidatesBody() {
	cases := map[string]func(map[string]any){
		"bad student":  func(b map[string]any) { b["student"] = "0x123" },
		"blank course": func(b map[string]any) { b["course"] = map[string]any{"name": "  "} },
		"missing type": func(b map[string]any) { delete(b, "courseType") },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			body := issueBody()
			mutate(body)
			req := testutil.WithPrincipal(testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates", body), rootAdmin)
			rr := testutil.DoRequest(s.router, req)
			testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		})
	}

	req := testutil.WithPrincipal(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/certificates", "{"), rootAdmin)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestIssueThenQueryAndVerify() {
	issued := s.issue(issueBody())

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/"+issued.Hash.String()))
	testutil.AssertStatusOK(s.T(), rr)
	rec := testutil.UnmarshalResponse[models.CertificateRecord](s.T(), rr)
	s.Equal("Blockchain 101", rec.CourseName)
	s.Equal(issued.MetadataURI, rec.MetadataURI)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/verify/"+issued.CertCode.String()))
	testutil.AssertStatusOK(s.T(), rr)
	outcome := testutil.UnmarshalResponse[verification.Outcome](s.T(), rr)
	s.Equal(verification.StatusValid, outcome.Status)
	s.Equal(verification.TrustTrusted, outcome.TrustLevel)
}

func (s *HandlerSuite) TestStudentQueries() {
	first := s.issue(issueBody())
	second := issueBody()
	second["course"] = map[string]any{"name": "Zero Knowledge Proofs"}
	second["courseLevel"] = "Beginner"
	s.issue(second)

	list := func(path string) CertificateListResponse {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, path))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
		return *testutil.UnmarshalResponse[CertificateListResponse](s.T(), rr)
	}

	base := "/students/" + student + "/certificates"
	s.Equal(2, list(base).Count)
	s.Equal(2, list(base+"/type/technology").Count)
	s.Equal(1, list(base+"/level/ADVANCED").Count)
	s.Equal(1, list(base+"/search?course=knowledge").Count)
	s.Equal(2, list(base+"/date?from=2000-01-01&to=2100-01-01").Count)
	s.Equal(0, list("/students/0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb/certificates").Count)
	s.Equal(2, list("/certificates").Count)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, base+"/"+first.Hash.String()))
	testutil.AssertStatusOK(s.T(), rr)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, base+"/search?course=%20"))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, base+"/date?from=yesterday&to=2100-01-01"))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/students/not-an-identity/certificates"))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestUnknownHashAndCode() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet,
		"/certificates/0x0000000000000000000000000000000000000000000000000000000000000001"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/verify/CERT-250101-ABCDEF"))
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

func (s *HandlerSuite) TestAdminSearchRequiresAdminRole() {
	s.issue(issueBody())

	req := testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodGet, "/admin/certificates/type/Technology"), outsider)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")

	grant := testutil.WithPrincipal(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/roles/grant",
		map[string]string{"principal": outsider.String(), "role": "admin"}), rootAdmin)
	rr = testutil.DoRequest(s.router, grant)
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[RoleChangeResponse](s.T(), rr)
	s.Equal("ADMIN", resp.Role)
	s.Equal("grant", resp.Action)

	for _, path := range []string{
		"/admin/certificates/type/Technology",
		"/admin/certificates/level/advanced",
		"/admin/certificates/search?course=blockchain",
		"/admin/certificates/search?student=ada",
		"/admin/certificates/date?from=2000-01-01&to=2100-01-01",
	} {
		req = testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodGet, path), outsider)
		rr = testutil.DoRequest(s.router, req)
		s.Require().Equal(http.StatusOK, rr.Code, path)
		s.Equal(1, testutil.UnmarshalResponse[CertificateListResponse](s.T(), rr).Count, path)
	}
}

func (s *HandlerSuite) TestRoleChanges() {
	revokeRoot := testutil.WithPrincipal(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/roles/revoke",
		map[string]string{"principal": rootAdmin.String(), "role": "ROOT_ADMIN"}), rootAdmin)
	rr := testutil.DoRequest(s.router, revokeRoot)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invariant_violation")

	byOutsider := testutil.WithPrincipal(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/roles/grant",
		map[string]string{"principal": outsider.String(), "role": "ADMIN"}), outsider)
	rr = testutil.DoRequest(s.router, byOutsider)
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	badRole := testutil.WithPrincipal(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/roles/grant",
		map[string]string{"principal": outsider.String(), "role": "OWNER"}), rootAdmin)
	rr = testutil.DoRequest(s.router, badRole)
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)

	anonymous := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/roles/grant",
		map[string]string{"principal": outsider.String(), "role": "ADMIN"})
	rr = testutil.DoRequest(s.router, anonymous)
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
}

func (s *HandlerSuite) TestVerifyBatch() {
	issued := s.issue(issueBody())

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/verify/batch",
		map[string]any{"codes": []string{issued.CertCode.String(), "CERT-250101-ABCDEF"}})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	report := testutil.UnmarshalResponse[verification.Report](s.T(), rr)
	s.Equal(2, report.Summary.Total)
	s.Equal(1, report.Summary.Trusted)
	s.Equal(1, report.Summary.Rejected)
	s.Equal(50, report.Summary.HealthScore)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/verify/batch", map[string]any{"codes": []string{}}))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)

	tooMany := make([]string, maxBatchCodes+1)
	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/verify/batch", map[string]any{"codes": tooMany}))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestVerifySignatures() {
	issued := s.issue(issueBody())
	stored, err := s.store.Get(context.Background(), issued.CertCode)
	s.Require().NoError(err)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/signatures/verify",
		map[string]any{"document": json.RawMessage(stored.Document)})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	result := testutil.UnmarshalResponse[signature.Result](s.T(), rr)
	s.True(result.IsValid, result.Reason)
	s.Equal(issuer, result.RecoveredIdentity)

	req = testutil.NewJSONRequest(s.T(), http.MethodPost, "/signatures/verify-batch", map[string]any{
		"documents": []json.RawMessage{stored.Document, json.RawMessage(`{"name":"unsigned"}`)},
	})
	rr = testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	batch := testutil.UnmarshalResponse[signature.BatchResult](s.T(), rr)
	s.Equal(2, batch.Total)
	s.Equal(1, batch.ValidCount)
	s.Equal(1, batch.InvalidCount)
	s.Equal(signature.KindMalformedInput, batch.Results[1].Result.Kind)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/signatures/verify", map[string]any{}))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

type failingAuditor struct{}

func (failingAuditor) Emit(context.Context, audit.Event) error {
	return errors.New("audit store down")
}

func (failingAuditor) List(context.Context, string) ([]audit.Event, error) {
	return nil, errors.New("audit store down")
}

func (s *HandlerSuite) TestVerifySignaturesLogsAuditFailure() {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	h := New(s.registry, nil, nil, signature.NewVerifier(), logger, nil, failingAuditor{})
	r := chi.NewRouter()
	h.Register(r)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/signatures/verify-batch", map[string]any{
		"documents": []json.RawMessage{json.RawMessage(`{"name":"unsigned"}`)},
	})
	rr := testutil.DoRequest(r, req)

	testutil.AssertStatusOK(s.T(), rr)
	batch := testutil.UnmarshalResponse[signature.BatchResult](s.T(), rr)
	s.Equal(1, batch.Total)
	s.Contains(logs.String(), "failed to emit audit event")
	s.Contains(logs.String(), "audit store down")
	s.Contains(logs.String(), string(audit.EventSignaturesVerified))
}

func (s *HandlerSuite) TestAuditTrail() {
	issued := s.issue(issueBody())
	path := "/admin/audit?subject=" + issued.Hash.String()

	rr := testutil.DoRequest(s.router, testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodGet, path), rootAdmin))
	testutil.AssertStatusOK(s.T(), rr)
	trail := testutil.UnmarshalResponse[AuditTrailResponse](s.T(), rr)
	s.Require().Len(trail.Events, 1)
	s.Equal("certificate_issued", trail.Events[0].Action)
	s.Equal(rootAdmin.String(), trail.Events[0].ActorID)
	s.Equal("compliance", trail.Events[0].Category)

	rr = testutil.DoRequest(s.router, testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodGet, path), outsider))
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	rr = testutil.DoRequest(s.router, testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit"), rootAdmin))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestRateLimitedVerifyRoutes() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimitmw.New(nil, logger, ratelimitmw.WithLimits(map[ratelimit.EndpointClass]ratelimit.Limit{
		ratelimit.ClassVerify: {RequestsPerWindow: 1, Window: time.Minute},
	}))
	verifier := verification.New(s.store, s.registry, verification.WithLogger(logger))
	h := New(s.registry, nil, verifier, signature.NewVerifier(), logger, nil, nil, WithRateLimiter(limiter))
	r := chi.NewRouter()
	h.Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(s.T(), http.MethodGet, "/verify/CERT-250114-ABCDEF"))
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	s.Equal("0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = testutil.DoRequest(r, testutil.NewRequest(s.T(), http.MethodGet, "/verify/CERT-250114-ABCDEF"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusTooManyRequests, "rate_limit_exceeded")

	rr = testutil.DoRequest(r, testutil.NewRequest(s.T(), http.MethodGet, "/certificates"))
	testutil.AssertStatusOK(s.T(), rr)
}

func TestParseDateRangeExtendsDayOnlyUpperBound(t *testing.T) {
	req := testutil.NewRequest(t, http.MethodGet, "/x?from=2025-01-01&to=2025-01-31")
	from, to, err := parseDateRange(req)
	if err != nil {
		t.Fatal(err)
	}
	if from.Day() != 1 || to.Day() != 31 || to.Hour() != 23 {
		t.Fatalf("unexpected range %s - %s", from, to)
	}

	req = testutil.NewRequest(t, http.MethodGet, "/x?from=2025-01-01T00:00:00Z&to=2025-01-31T12:00:00Z")
	_, to, err = parseDateRange(req)
	if err != nil {
		t.Fatal(err)
	}
	if to.Hour() != 12 {
		t.Fatalf("timestamp upper bound must be kept, got %s", to)
	}
}
