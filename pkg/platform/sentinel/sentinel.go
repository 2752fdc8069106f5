package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, ledgers and caches return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: document, record or entry does not exist
//   - ErrConflict: a write collided with an existing key
//   - ErrUnconfirmed: the ledger did not confirm a submission
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnconfirmed = errors.New("unconfirmed")
	ErrUnavailable = errors.New("unavailable")
)
