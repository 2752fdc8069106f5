package document

import (
	"context"
	"sync"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
	"certify/pkg/platform/sentinel"
)

// Memory is a map-backed Store.
type Memory struct {
	mu   sync.RWMutex
	docs map[domain.CertCode]models.StoredCertificate
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[domain.CertCode]models.StoredCertificate)}
}

func (m *Memory) Get(_ context.Context, code domain.CertCode) (models.StoredCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cert, ok := m.docs[domain.NormalizeCertCode(code.String())]
	if !ok {
		return models.StoredCertificate{}, sentinel.ErrNotFound
	}
	cert.Document = append([]byte(nil), cert.Document...)
	return cert, nil
}

func (m *Memory) Put(_ context.Context, code domain.CertCode, cert models.StoredCertificate) error {
	code = domain.NormalizeCertCode(code.String())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[code]; exists {
		return sentinel.ErrConflict
	}
	cert.Code = code
	cert.Document = append([]byte(nil), cert.Document...)
	m.docs[code] = cert
	return nil
}
