package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	dErrors "certify/pkg/domain-errors"
)

const (
	identityHexLen = 40
	hashHexLen     = 64
)

// Identity is a ledger account identity: a 0x-prefixed, 20-byte hex string.
// Parsed identities are always lowercase so equality is case-insensitive.
type Identity string

// ParseIdentity validates and normalizes an identity at a trust boundary.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}
	if !isPrefixedHex(s, identityHexLen) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity must be a 0x-prefixed 40 character hex string")
	}
	return Identity(strings.ToLower(s)), nil
}

// MustIdentity panics on invalid input. Intended for constants and tests.
func MustIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (i Identity) String() string { return string(i) }

func (i Identity) IsNil() bool { return i == "" }

// Equal compares two identities ignoring hex case.
func (i Identity) Equal(other Identity) bool {
	return strings.EqualFold(string(i), string(other))
}

// CertHash is the content-derived id of a registry record (0x + 32 bytes hex).
type CertHash string

// ParseCertHash validates and lowercases a record hash.
func ParseCertHash(s string) (CertHash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "certificate hash is required")
	}
	if !isPrefixedHex(s, hashHexLen) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "certificate hash must be a 0x-prefixed 64 character hex string")
	}
	return CertHash(strings.ToLower(s)), nil
}

func (h CertHash) String() string { return string(h) }

func (h CertHash) IsNil() bool { return h == "" }

// Equal compares two hashes ignoring hex case.
func (h CertHash) Equal(other CertHash) bool {
	return strings.EqualFold(string(h), string(other))
}

// CertCode is the human-shareable certificate code, e.g. CERT-250114-7KQ2XD.
// It carries no grammar beyond normalization.
type CertCode string

// NormalizeCertCode trims whitespace and upper-cases a user-entered code.
func NormalizeCertCode(s string) CertCode {
	return CertCode(strings.ToUpper(strings.TrimSpace(s)))
}

// ParseCertCode normalizes a code and rejects empty input.
func ParseCertCode(s string) (CertCode, error) {
	code := NormalizeCertCode(s)
	if code == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "certificate code is required")
	}
	return code, nil
}

func (c CertCode) String() string { return string(c) }

const certCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCertCode returns a fresh CERT-YYMMDD-XXXXXX code for the given day.
func NewCertCode(now time.Time) (CertCode, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate certificate code")
	}
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = certCodeAlphabet[int(b)%len(certCodeAlphabet)]
	}
	return CertCode("CERT-" + now.UTC().Format("060102") + "-" + string(suffix)), nil
}

func isPrefixedHex(s string, hexLen int) bool {
	if len(s) != hexLen+2 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
