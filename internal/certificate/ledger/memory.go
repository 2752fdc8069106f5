package ledger

import (
	"context"
	"sync"
	"time"

	"certify/internal/certificate/models"
	"certify/pkg/platform/sentinel"
)

// Memory is an in-process ledger that confirms immediately.
type Memory struct {
	mu          sync.RWMutex
	entries     []Entry
	hashes      map[string]struct{}
	now         func() time.Time
	failWith    error
	unconfirmed bool
}

type MemoryOption func(*Memory)

// WithSubmitError makes every Submit fail with err. Used to exercise
// registry rollback.
func WithSubmitError(err error) MemoryOption {
	return func(m *Memory) { m.failWith = err }
}

// WithUnconfirmed makes Submit return receipts that are never confirmed.
// Nothing is committed.
func WithUnconfirmed() MemoryOption {
	return func(m *Memory) { m.unconfirmed = true }
}

// NewMemory creates an empty in-memory ledger.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		hashes: make(map[string]struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Submit(ctx context.Context, record models.CertificateRecord) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return Receipt{}, m.failWith
	}
	if m.unconfirmed {
		return Receipt{Confirmed: false}, nil
	}
	if _, dup := m.hashes[record.Hash.String()]; dup {
		return Receipt{}, sentinel.ErrConflict
	}
	prev := GenesisRef
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].TransactionRef
	}
	entry := Entry{
		Sequence:       uint64(len(m.entries) + 1),
		PrevRef:        prev,
		TransactionRef: TransactionRef(prev, record.Hash),
		Record:         record,
		CommittedAt:    m.now(),
	}
	m.entries = append(m.entries, entry)
	m.hashes[record.Hash.String()] = struct{}{}

	return Receipt{Confirmed: true, TransactionRef: entry.TransactionRef, FinalHash: record.Hash}, nil
}

func (m *Memory) History(_ context.Context) ([]models.CertificateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CertificateRecord, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Record
	}
	return out, nil
}

// Entries returns a copy of the committed entries.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

// Verify audits the hash chain.
func (m *Memory) Verify(_ context.Context) error {
	return VerifyChain(m.Entries())
}
