// Package document persists signed certificate documents by certificate code.
// Documents are stored as the exact signed bytes.
package document

import (
	"context"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
)

//go:generate mockgen -source=store.go -destination=mocks/document-mocks.go -package=mocks Store

// Store is the off-ledger document store. Get returns sentinel.ErrNotFound
// on a miss; Put returns sentinel.ErrConflict when the code is taken.
type Store interface {
	Get(ctx context.Context, code domain.CertCode) (models.StoredCertificate, error)
	Put(ctx context.Context, code domain.CertCode, cert models.StoredCertificate) error
}
