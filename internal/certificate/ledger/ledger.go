// Package ledger provides the append-only commit log that anchors registry
// records. Each entry chains the previous transaction reference so history
// can be audited end to end.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
)

// Receipt is the ledger's answer to a submission. Issuance is complete only
// when Confirmed is set and FinalHash matches the submitted record.
type Receipt struct {
	Confirmed      bool
	TransactionRef string
	FinalHash      domain.CertHash
}

//go:generate mockgen -source=ledger.go -destination=mocks/ledger-mocks.go -package=mocks Ledger

// Ledger is the external append-only store consumed by the registry.
type Ledger interface {
	Submit(ctx context.Context, record models.CertificateRecord) (Receipt, error)
	History(ctx context.Context) ([]models.CertificateRecord, error)
}

// Entry is one committed ledger position.
type Entry struct {
	Sequence       uint64
	PrevRef        string
	TransactionRef string
	Record         models.CertificateRecord
	CommittedAt    time.Time
}

// GenesisRef is the PrevRef of the first entry.
const GenesisRef = "0x0000000000000000000000000000000000000000000000000000000000000000"

var ErrBrokenChain = errors.New("ledger chain is broken")

// TransactionRef derives the reference of an entry from its predecessor and
// the record hash.
func TransactionRef(prevRef string, hash domain.CertHash) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prevRef))
	h.Write([]byte(hash))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// VerifyChain checks that entries link from genesis without gaps.
func VerifyChain(entries []Entry) error {
	prev := GenesisRef
	for i, e := range entries {
		if e.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrBrokenChain, i, e.Sequence)
		}
		if e.PrevRef != prev {
			return fmt.Errorf("%w: entry %d does not link to its predecessor", ErrBrokenChain, e.Sequence)
		}
		if want := TransactionRef(prev, e.Record.Hash); e.TransactionRef != want {
			return fmt.Errorf("%w: entry %d has reference %s, want %s", ErrBrokenChain, e.Sequence, e.TransactionRef, want)
		}
		prev = e.TransactionRef
	}
	return nil
}
