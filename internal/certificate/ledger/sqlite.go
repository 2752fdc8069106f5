package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"certify/internal/certificate/models"
	"certify/pkg/platform/sentinel"
)

// LedgerEntry is the persisted form of an Entry.
type LedgerEntry struct {
	Sequence       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Hash           string `gorm:"uniqueIndex;not null"`
	PrevRef        string `gorm:"not null"`
	TransactionRef string `gorm:"uniqueIndex;not null"`
	Record         []byte `gorm:"not null"`
	CommittedAt    time.Time
}

// SQLite is a durable ledger backed by a sqlite file through gorm.
type SQLite struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) the ledger at dsn, e.g. "ledger.db" or
// "file::memory:?cache=shared".
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return NewSQLite(db)
}

// NewSQLite wraps an existing gorm handle and migrates the schema.
func NewSQLite(db *gorm.DB) (*SQLite, error) {
	if err := db.AutoMigrate(&LedgerEntry{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Submit(ctx context.Context, record models.CertificateRecord) (Receipt, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode record: %w", err)
	}

	var entry LedgerEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&LedgerEntry{}).Where("hash = ?", record.Hash.String()).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return sentinel.ErrConflict
		}

		var last LedgerEntry
		res := tx.Order("sequence desc").Limit(1).Find(&last)
		if res.Error != nil {
			return res.Error
		}
		prev := GenesisRef
		if res.RowsAffected > 0 {
			prev = last.TransactionRef
		}

		entry = LedgerEntry{
			Sequence:       last.Sequence + 1,
			Hash:           record.Hash.String(),
			PrevRef:        prev,
			TransactionRef: TransactionRef(prev, record.Hash),
			Record:         payload,
			CommittedAt:    s.now(),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Receipt{}, err
		}
		return Receipt{}, fmt.Errorf("commit ledger entry: %w", err)
	}

	return Receipt{Confirmed: true, TransactionRef: entry.TransactionRef, FinalHash: record.Hash}, nil
}

func (s *SQLite) History(ctx context.Context) ([]models.CertificateRecord, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.CertificateRecord, len(entries))
	for i, e := range entries {
		out[i] = e.Record
	}
	return out, nil
}

// Entries loads the full chain in sequence order.
func (s *SQLite) Entries(ctx context.Context) ([]Entry, error) {
	var rows []LedgerEntry
	if err := s.db.WithContext(ctx).Order("sequence asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		var rec models.CertificateRecord
		if err := json.Unmarshal(row.Record, &rec); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", row.Sequence, err)
		}
		out = append(out, Entry{
			Sequence:       row.Sequence,
			PrevRef:        row.PrevRef,
			TransactionRef: row.TransactionRef,
			Record:         rec,
			CommittedAt:    row.CommittedAt,
		})
	}
	return out, nil
}

// Verify audits the persisted hash chain.
func (s *SQLite) Verify(ctx context.Context) error {
	entries, err := s.Entries(ctx)
	if err != nil {
		return err
	}
	return VerifyChain(entries)
}

// Close releases the underlying connection pool.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
