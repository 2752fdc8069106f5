package registry

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
)

// RecordHash derives the record id from its identity fields and nonce.
// Fields are length-prefixed so adjacent values cannot be shifted into each other.
func RecordHash(student domain.Identity, studentName string, issuer domain.Identity, courseName, metadataURI string, nonce uint64, issuedAtNanos int64) domain.CertHash {
	h := sha3.NewLegacyKeccak256()
	for _, field := range []string{
		student.String(),
		studentName,
		issuer.String(),
		courseName,
		metadataURI,
	} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], nonce)
	binary.BigEndian.PutUint64(tail[8:], uint64(issuedAtNanos))
	h.Write(tail[:])
	return domain.CertHash("0x" + hex.EncodeToString(h.Sum(nil)))
}

func hashOf(r models.CertificateRecord) domain.CertHash {
	return RecordHash(r.Student, r.StudentName, r.Issuer, r.CourseName, r.MetadataURI, r.Sequence, r.IssuedDate.UnixNano())
}
