package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certify/internal/certificate/ledger"
	ledgermocks "certify/internal/certificate/ledger/mocks"
	"certify/internal/certificate/metrics"
	"certify/internal/certificate/models"
	"certify/internal/certificate/registry/mocks"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
	audit "certify/pkg/platform/audit"
	"certify/pkg/platform/sentinel"
	"certify/pkg/requestcontext"
)

var (
	root     = domain.MustIdentity("0x1111111111111111111111111111111111111111")
	admin    = domain.MustIdentity("0x2222222222222222222222222222222222222222")
	outsider = domain.MustIdentity("0x3333333333333333333333333333333333333333")
	student1 = domain.MustIdentity("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	student2 = domain.MustIdentity("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	issuer   = domain.MustIdentity("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23")

	issuedAt = time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC)
)

func issueInput(student domain.Identity, course, courseType, level string) models.IssueInput {
	return models.IssueInput{
		Student:     student,
		StudentName: "Ada Lovelace",
		Issuer:      issuer,
		IssuerName:  "Open Ledger Academy",
		CourseName:  course,
		CourseType:  courseType,
		CourseLevel: level,
		MetadataURI: "ipfs://bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy",
	}
}

type RegistrySuite struct {
	suite.Suite
	ctx    context.Context
	ledger *ledger.Memory
	reg    *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), issuedAt)
	s.ledger = ledger.NewMemory()
	reg, err := New(s.ctx, s.ledger, root, WithAdmins(admin))
	s.Require().NoError(err)
	s.reg = reg
}

func (s *RegistrySuite) issue(in models.IssueInput) models.IssueReceipt {
	s.T().Helper()
	receipt, err := s.reg.IssueCertificate(s.ctx, admin, in)
	s.Require().NoError(err)
	return receipt
}

func (s *RegistrySuite) TestBootstrapRoles() {
	s.True(s.reg.HasRole(root, models.RoleRootAdmin))
	s.True(s.reg.HasRole(root, models.RoleAdmin))
	s.True(s.reg.HasRole(admin, models.RoleAdmin))
	s.False(s.reg.HasRole(admin, models.RoleRootAdmin))
	s.Equal([]domain.Identity{root}, s.reg.Members(models.RoleRootAdmin))
}

func (s *RegistrySuite) TestIssueCertificate() {
	s.Run("admin issues and record is retrievable by hash", func() {
		receipt := s.issue(issueInput(student1, "Blockchain 101", "Technology", "Advanced"))

		s.NotEmpty(receipt.TransactionRef)
		rec, err := s.reg.GetCertificateByHash(receipt.Hash)
		s.Require().NoError(err)
		s.Equal(student1, rec.Student)
		s.Equal("Blockchain 101", rec.CourseName)
		s.Equal(issuedAt, rec.IssuedDate)
		s.Equal(receipt.Hash, rec.Hash)
	})

	s.Run("non-admin caller is forbidden and nothing is appended", func() {
		before := len(s.reg.GetAllCertificates())

		_, err := s.reg.IssueCertificate(s.ctx, outsider, issueInput(student1, "Go", "Technology", "Beginner"))

		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Len(s.reg.GetAllCertificates(), before)
	})

	s.Run("empty caller is forbidden", func() {
		_, err := s.reg.IssueCertificate(s.ctx, "", issueInput(student1, "Go", "Technology", "Beginner"))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("invalid input is rejected before the ledger", func() {
		in := issueInput(student1, " ", "Technology", "Beginner")
		before := len(s.ledger.Entries())

		_, err := s.reg.IssueCertificate(s.ctx, admin, in)

		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Len(s.ledger.Entries(), before)
	})

	s.Run("identifiers are stored lowercase", func() {
		in := issueInput(domain.Identity("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), "Rust", "Technology", "Beginner")
		receipt := s.issue(in)
		rec, err := s.reg.GetCertificateByHash(domain.CertHash(receipt.Hash.String()))
		s.Require().NoError(err)
		s.Equal(student1, rec.Student)
	})
}

func (s *RegistrySuite) TestIdenticalIssuancesProduceDistinctHashes() {
	in := issueInput(student1, "Blockchain 101", "Technology", "Advanced")

	first := s.issue(in)
	second := s.issue(in)

	s.NotEqual(first.Hash, second.Hash)
	s.Len(s.reg.GetStudentCertificates(student1), 2)
}

func (s *RegistrySuite) TestCourseTypeAndLevelScenario() {
	receipt := s.issue(issueInput(student1, "Blockchain 101", "Technology", "Advanced"))
	s.issue(issueInput(student2, "Painting", "Arts", "Beginner"))

	byType, count := s.reg.GetStudentCertificateByCourseType(student1, "Technology")
	s.Require().Len(byType, 1)
	s.Equal(1, count)
	s.Equal(receipt.Hash, byType[0].Hash)

	byLevel, count := s.reg.GetStudentCertificateByCourseLevel(student1, "Beginner")
	s.Empty(byLevel)
	s.Equal(0, count)

	byLevel, count = s.reg.GetStudentCertificateByCourseLevel(student1, "advanced")
	s.Len(byLevel, 1)
	s.Equal(1, count)
}

func (s *RegistrySuite) TestCourseTypeFilterIsSubsetOfStudentCertificates() {
	s.issue(issueInput(student1, "Blockchain 101", "Technology", "Advanced"))
	s.issue(issueInput(student1, "Sculpture", "Arts", "Beginner"))
	s.issue(issueInput(student1, "Databases", "technology", "Beginner"))
	s.issue(issueInput(student2, "Networks", "Technology", "Beginner"))

	all := s.reg.GetStudentCertificates(student1)
	filtered, count := s.reg.GetStudentCertificateByCourseType(student1, "TECHNOLOGY")

	s.Equal(len(filtered), count)
	s.Equal(2, count)
	for _, rec := range filtered {
		s.Contains(all, rec)
	}

	empty, count := s.reg.GetStudentCertificateByCourseType(student1, "")
	s.Empty(empty)
	s.Equal(0, count)
}

func (s *RegistrySuite) TestInsertionOrder() {
	var hashes []domain.CertHash
	for i := range 5 {
		hashes = append(hashes, s.issue(issueInput(student1, fmt.Sprintf("Course %d", i), "Technology", "Beginner")).Hash)
	}
	all := s.reg.GetAllCertificates()
	s.Require().Len(all, 5)
	for i, rec := range all {
		s.Equal(hashes[i], rec.Hash)
		s.Equal(uint64(i+1), rec.Sequence)
	}
}

func (s *RegistrySuite) TestGetCertificateByHashNotFound() {
	_, err := s.reg.GetCertificateByHash(domain.CertHash("0x" + fmt.Sprintf("%064d", 0)))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal("Certificate not found", dErrors.Message(err))
}

func (s *RegistrySuite) TestStudentQueries() {
	blockchain := s.issue(issueInput(student1, "Blockchain 101", "Technology", "Advanced"))
	s.issue(issueInput(student1, "Advanced Blockchain", "Technology", "Expert"))
	other := s.issue(issueInput(student2, "Painting", "Arts", "Beginner"))

	s.Run("course name keyword is partial and case-insensitive", func() {
		found, err := s.reg.GetStudentCertificateByCourseName(student1, "BLOCKCHAIN")
		s.Require().NoError(err)
		s.Len(found, 2)
	})

	s.Run("empty keyword is invalid", func() {
		_, err := s.reg.GetStudentCertificateByCourseName(student1, "  ")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Equal("keyword cannot be empty", dErrors.Message(err))
	})

	s.Run("hash lookup scoped to the student", func() {
		rec, err := s.reg.GetStudentCertificateByHash(student1, blockchain.Hash)
		s.Require().NoError(err)
		s.Equal(blockchain.Hash, rec.Hash)

		_, err = s.reg.GetStudentCertificateByHash(student1, other.Hash)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("date range is inclusive", func() {
		found, err := s.reg.GetStudentCertificatesByDate(student1, issuedAt, issuedAt)
		s.Require().NoError(err)
		s.Len(found, 2)

		found, err = s.reg.GetStudentCertificatesByDate(student1, issuedAt.Add(time.Second), issuedAt.Add(time.Hour))
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("inverted date range is invalid", func() {
		_, err := s.reg.GetStudentCertificatesByDate(student1, issuedAt, issuedAt.Add(-time.Hour))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown student has no certificates", func() {
		s.Empty(s.reg.GetStudentCertificates(outsider))
	})
}

func (s *RegistrySuite) TestAdminSearch() {
	s.issue(issueInput(student1, "Blockchain 101", "Technology", "Advanced"))
	s.issue(issueInput(student2, "Painting", "Arts", "Beginner"))
	s.issue(issueInput(student2, "Compilers", "Technology", "Advanced"))

	s.Run("by type across students", func() {
		found, err := s.reg.AdminSearchByCourseType(admin, "technology")
		s.Require().NoError(err)
		s.Len(found, 2)
	})

	s.Run("by level across students", func() {
		found, err := s.reg.AdminSearchByCourseLevel(root, "Advanced")
		s.Require().NoError(err)
		s.Len(found, 2)
	})

	s.Run("by course and student name", func() {
		found, err := s.reg.AdminSearchByCourseName(admin, "paint")
		s.Require().NoError(err)
		s.Len(found, 1)

		found, err = s.reg.AdminSearchByStudentName(admin, "lovelace")
		s.Require().NoError(err)
		s.Len(found, 3)
	})

	s.Run("by date", func() {
		found, err := s.reg.AdminSearchByDate(admin, issuedAt.Add(-time.Hour), issuedAt.Add(time.Hour))
		s.Require().NoError(err)
		s.Len(found, 3)
	})

	s.Run("non-admin is forbidden", func() {
		_, err := s.reg.AdminSearchByCourseType(outsider, "Technology")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		_, err = s.reg.AdminSearchByDate(outsider, issuedAt, issuedAt)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("empty keyword is invalid", func() {
		_, err := s.reg.AdminSearchByCourseLevel(admin, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *RegistrySuite) TestRoles() {
	s.Run("root grants and revokes admin", func() {
		s.Require().NoError(s.reg.GrantRole(s.ctx, root, outsider, models.RoleAdmin))
		s.True(s.reg.HasRole(outsider, models.RoleAdmin))

		_, err := s.reg.IssueCertificate(s.ctx, outsider, issueInput(student1, "Go", "Technology", "Beginner"))
		s.Require().NoError(err)

		s.Require().NoError(s.reg.RevokeRole(s.ctx, root, outsider, models.RoleAdmin))
		s.False(s.reg.HasRole(outsider, models.RoleAdmin))
	})

	s.Run("admin cannot grant", func() {
		err := s.reg.GrantRole(s.ctx, admin, outsider, models.RoleAdmin)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.False(s.reg.HasRole(outsider, models.RoleAdmin))
	})

	s.Run("unknown role is invalid", func() {
		err := s.reg.GrantRole(s.ctx, root, outsider, models.Role("OWNER"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("malformed principal is invalid", func() {
		err := s.reg.GrantRole(s.ctx, root, domain.Identity("0x12"), models.RoleAdmin)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("revoking an unheld role is a no-op", func() {
		s.NoError(s.reg.RevokeRole(s.ctx, root, student1, models.RoleAdmin))
	})

	s.Run("principal is matched case-insensitively", func() {
		upper := domain.Identity("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
		s.Require().NoError(s.reg.GrantRole(s.ctx, root, upper, models.RoleAdmin))
		s.True(s.reg.HasRole(student2, models.RoleAdmin))
	})
}

func (s *RegistrySuite) TestRevokingLastRootAdminIsRejected() {
	err := s.reg.RevokeRole(s.ctx, root, root, models.RoleRootAdmin)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	s.True(s.reg.HasRole(root, models.RoleRootAdmin))

	s.Run("registry remains administrable", func() {
		s.Require().NoError(s.reg.GrantRole(s.ctx, root, admin, models.RoleRootAdmin))
		s.Require().NoError(s.reg.RevokeRole(s.ctx, admin, root, models.RoleRootAdmin))
		s.Equal([]domain.Identity{admin}, s.reg.Members(models.RoleRootAdmin))

		err := s.reg.RevokeRole(s.ctx, admin, admin, models.RoleRootAdmin)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *RegistrySuite) TestConcurrentIssuance() {
	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.reg.IssueCertificate(s.ctx, admin, issueInput(student1, fmt.Sprintf("Course %d", i), "Technology", "Beginner"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	all := s.reg.GetAllCertificates()
	s.Len(all, n)
	seen := make(map[domain.CertHash]struct{}, n)
	for i, rec := range all {
		s.Equal(uint64(i+1), rec.Sequence)
		seen[rec.Hash] = struct{}{}
	}
	s.Len(seen, n)
	_, count := s.reg.GetStudentCertificateByCourseType(student1, "Technology")
	s.Equal(n, count)
	s.NoError(s.ledger.Verify(s.ctx))
}

// roleCheckingLedger records whether caller held ADMIN at each submit.
type roleCheckingLedger struct {
	*ledger.Memory
	reg    *Registry
	caller domain.Identity
	course string

	mu       sync.Mutex
	unlawful int
}

func (l *roleCheckingLedger) Submit(ctx context.Context, record models.CertificateRecord) (ledger.Receipt, error) {
	if record.CourseName == l.course && !l.reg.HasRole(l.caller, models.RoleAdmin) {
		l.mu.Lock()
		l.unlawful++
		l.mu.Unlock()
	}
	return l.Memory.Submit(ctx, record)
}

func (s *RegistrySuite) TestIssuanceRacingRevocationNeverOutlivesTheRole() {
	l := &roleCheckingLedger{Memory: ledger.NewMemory(), caller: outsider, course: "Revoked Mid-Flight"}
	reg, err := New(s.ctx, l, root, WithAdmins(admin))
	s.Require().NoError(err)
	l.reg = reg

	for round := range 20 {
		s.Require().NoError(reg.GrantRole(s.ctx, root, outsider, models.RoleAdmin))

		var wg sync.WaitGroup
		results := make(chan error, 8)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				in := issueInput(student1, l.course, "Technology", "Beginner")
				in.StudentName = fmt.Sprintf("Student %d-%d", round, i)
				_, err := reg.IssueCertificate(s.ctx, outsider, in)
				results <- err
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- reg.RevokeRole(s.ctx, root, outsider, models.RoleAdmin)
		}()
		wg.Wait()
		close(results)

		for err := range results {
			if err != nil {
				s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "unexpected error: %v", err)
			}
		}
	}

	s.Zero(l.unlawful, "a certificate reached the ledger after its issuer lost ADMIN")
	s.False(reg.HasRole(outsider, models.RoleAdmin))

	_, err = reg.IssueCertificate(s.ctx, outsider, issueInput(student1, l.course, "Technology", "Beginner"))
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *RegistrySuite) TestReplayRebuildsState() {
	first := s.issue(issueInput(student1, "Blockchain 101", "Technology", "Advanced"))
	s.issue(issueInput(student2, "Painting", "Arts", "Beginner"))

	replayed, err := New(s.ctx, s.ledger, root, WithAdmins(admin))
	s.Require().NoError(err)

	s.Equal(s.reg.GetAllCertificates(), replayed.GetAllCertificates())
	rec, err := replayed.GetCertificateByHash(first.Hash)
	s.Require().NoError(err)
	s.Equal("Blockchain 101", rec.CourseName)
	byType, _ := replayed.GetStudentCertificateByCourseType(student1, "technology")
	s.Len(byType, 1)

	next, err := replayed.IssueCertificate(s.ctx, admin, issueInput(student1, "Go", "Technology", "Beginner"))
	s.Require().NoError(err)
	rec, err = replayed.GetCertificateByHash(next.Hash)
	s.Require().NoError(err)
	s.Equal(uint64(3), rec.Sequence)
}

func TestNewRejectsInvalidRoot(t *testing.T) {
	_, err := New(context.Background(), ledger.NewMemory(), domain.Identity("nope"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestNewFailsWhenHistoryUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := ledgermocks.NewMockLedger(ctrl)
	l.EXPECT().History(gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := New(context.Background(), l, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay ledger history")
}

func TestIssueLedgerFailuresLeaveNoPartialState(t *testing.T) {
	tests := []struct {
		name    string
		receipt func(rec models.CertificateRecord) ledger.Receipt
		err     error
		code    dErrors.Code
		is      error
	}{
		{
			name: "ledger unavailable",
			err:  errors.New("connection reset"),
			code: dErrors.CodeUnavailable,
		},
		{
			name: "ledger reports duplicate",
			err:  sentinel.ErrConflict,
			code: dErrors.CodeConflict,
			is:   sentinel.ErrConflict,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			code: dErrors.CodeTimeout,
			is:   context.DeadlineExceeded,
		},
		{
			name:    "not confirmed",
			receipt: func(models.CertificateRecord) ledger.Receipt { return ledger.Receipt{TransactionRef: "0xabc"} },
			code:    dErrors.CodeUnavailable,
			is:      sentinel.ErrUnconfirmed,
		},
		{
			name: "confirmed a different hash",
			receipt: func(models.CertificateRecord) ledger.Receipt {
				return ledger.Receipt{Confirmed: true, TransactionRef: "0xabc", FinalHash: domain.CertHash("0x" + fmt.Sprintf("%064x", 7))}
			},
			code: dErrors.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			l := ledgermocks.NewMockLedger(ctrl)
			l.EXPECT().History(gomock.Any()).Return(nil, nil)

			reg := prometheus.NewRegistry()
			m := metrics.NewWithRegisterer(reg)
			r, err := New(context.Background(), l, root, WithAdmins(admin), WithMetrics(m))
			require.NoError(t, err)

			l.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, rec models.CertificateRecord) (ledger.Receipt, error) {
					assert.Equal(t, uint64(1), rec.Sequence)
					if tt.receipt != nil {
						return tt.receipt(rec), nil
					}
					return ledger.Receipt{}, tt.err
				})

			_, err = r.IssueCertificate(context.Background(), admin, issueInput(student1, "Blockchain 101", "Technology", "Advanced"))

			require.Error(t, err)
			assert.Equal(t, tt.code, dErrors.GetCode(err))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Empty(t, r.GetAllCertificates())
			assert.Empty(t, r.GetStudentCertificates(student1))
			found, count := r.GetStudentCertificateByCourseType(student1, "Technology")
			assert.Empty(t, found)
			assert.Zero(t, count)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.IssueFailures.WithLabelValues(string(tt.code))))
			assert.Zero(t, testutil.ToFloat64(m.CertificatesIssued))

			// nonce is not consumed by a failed attempt
			l.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, rec models.CertificateRecord) (ledger.Receipt, error) {
					assert.Equal(t, uint64(1), rec.Sequence)
					return ledger.Receipt{Confirmed: true, TransactionRef: "0xdef", FinalHash: rec.Hash}, nil
				})
			_, err = r.IssueCertificate(context.Background(), admin, issueInput(student1, "Blockchain 101", "Technology", "Advanced"))
			require.NoError(t, err)
			assert.Len(t, r.GetAllCertificates(), 1)
		})
	}
}

func TestIssueWithMemoryLedgerKnobs(t *testing.T) {
	t.Run("unconfirmed", func(t *testing.T) {
		r, err := New(context.Background(), ledger.NewMemory(ledger.WithUnconfirmed()), root)
		require.NoError(t, err)
		_, err = r.IssueCertificate(context.Background(), root, issueInput(student1, "Go", "Technology", "Beginner"))
		require.ErrorIs(t, err, sentinel.ErrUnconfirmed)
		assert.Zero(t, r.Len())
	})

	t.Run("cancelled context", func(t *testing.T) {
		r, err := New(context.Background(), ledger.NewMemory(), root)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = r.IssueCertificate(ctx, root, issueInput(student1, "Go", "Technology", "Beginner"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
		assert.Zero(t, r.Len())
	})
}

func TestAuditEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockAuditPublisher(ctrl)

	ctx := requestcontext.WithRequestID(context.Background(), "req-42")
	r, err := New(ctx, ledger.NewMemory(), root, WithAuditPublisher(publisher))
	require.NoError(t, err)

	var issued audit.Event
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
		issued = ev
		return nil
	})
	receipt, err := r.IssueCertificate(ctx, root, issueInput(student1, "Go", "Technology", "Beginner"))
	require.NoError(t, err)
	assert.Equal(t, string(audit.EventCertificateIssued), issued.Action)
	assert.Equal(t, receipt.Hash.String(), issued.Subject)
	assert.Equal(t, root.String(), issued.ActorID)
	assert.Equal(t, "req-42", issued.RequestID)

	var denied audit.Event
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
		denied = ev
		return errors.New("audit store down")
	})
	err = r.GrantRole(ctx, outsider, outsider, models.RoleRootAdmin)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	assert.Equal(t, string(audit.EventRoleChangeDenied), denied.Action)
}

func TestRecordHashIsFieldSensitive(t *testing.T) {
	base := RecordHash(student1, "Ada", issuer, "Go", "ipfs://x", 1, issuedAt.UnixNano())
	assert.Equal(t, base, RecordHash(student1, "Ada", issuer, "Go", "ipfs://x", 1, issuedAt.UnixNano()))
	assert.NotEqual(t, base, RecordHash(student1, "Ada", issuer, "Go", "ipfs://x", 2, issuedAt.UnixNano()))
	assert.NotEqual(t, base, RecordHash(student1, "Ad", issuer, "aGo", "ipfs://x", 1, issuedAt.UnixNano()))
	_, err := domain.ParseCertHash(base.String())
	assert.NoError(t, err)
}
