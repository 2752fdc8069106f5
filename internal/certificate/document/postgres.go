package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
	"certify/pkg/platform/sentinel"
	txcontext "certify/pkg/platform/tx"
)

// Schema creates the certificates table. The document column is BYTEA since
// JSONB would reorder nested keys and break signatures.
const Schema = `
CREATE TABLE IF NOT EXISTS certificates (
	code         TEXT PRIMARY KEY,
	cert_hash    TEXT NOT NULL,
	metadata_uri TEXT NOT NULL,
	document     BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS certificates_cert_hash_idx ON certificates (cert_hash);
`

const uniqueViolation = "23505"

// Postgres is a Store on a certificates table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create certificates schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return p.db
}

func (p *Postgres) Get(ctx context.Context, code domain.CertCode) (models.StoredCertificate, error) {
	query := `
		SELECT code, cert_hash, metadata_uri, document, created_at
		FROM certificates
		WHERE code = $1
	`
	var (
		cert    models.StoredCertificate
		codeStr string
		hashStr string
	)
	err := p.db.QueryRowContext(ctx, query, domain.NormalizeCertCode(code.String()).String()).Scan(
		&codeStr,
		&hashStr,
		&cert.MetadataURI,
		&cert.Document,
		&cert.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredCertificate{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.StoredCertificate{}, fmt.Errorf("get certificate document: %w", err)
	}
	cert.Code = domain.CertCode(codeStr)
	cert.CertHash = domain.CertHash(hashStr)
	return cert, nil
}

func (p *Postgres) Put(ctx context.Context, code domain.CertCode, cert models.StoredCertificate) error {
	query := `
		INSERT INTO certificates (code, cert_hash, metadata_uri, document, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.execer(ctx).ExecContext(ctx, query,
		domain.NormalizeCertCode(code.String()).String(),
		cert.CertHash.String(),
		cert.MetadataURI,
		cert.Document,
		cert.CreatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert certificate document: %w", err)
	}
	return nil
}
