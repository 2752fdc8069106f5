package signature

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"certify/pkg/domain"
)

// Personal-message signing over secp256k1: the message is prefixed, hashed
// with keccak256 and signed as a 65 byte R||S||V compact signature.

const (
	messagePrefix = "\x19Ethereum Signed Message:\n"
	signatureLen  = 65
)

var (
	ErrSignatureLength   = errors.New("signature must be 65 bytes")
	ErrSignatureEncoding = errors.New("signature is not valid hex")
	ErrRecoveryID        = errors.New("invalid recovery id")
)

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// HashMessage returns the prefixed keccak256 digest that gets signed.
func HashMessage(msg []byte) []byte {
	return Keccak256([]byte(messagePrefix), []byte(strconv.Itoa(len(msg))), msg)
}

// HashMessageHex is HashMessage rendered as 0x-prefixed lowercase hex.
func HashMessageHex(msg []byte) string {
	return EncodeHex(HashMessage(msg))
}

// IdentityFromPublicKey derives the 20 byte account identity of pub.
func IdentityFromPublicKey(pub *secp256k1.PublicKey) domain.Identity {
	uncompressed := pub.SerializeUncompressed()
	return domain.Identity(EncodeHex(Keccak256(uncompressed[1:])[12:]))
}

// SignMessage signs msg with key and returns R||S||V with V in {27,28}.
func SignMessage(key *secp256k1.PrivateKey, msg []byte) []byte {
	compact := ecdsa.SignCompact(key, HashMessage(msg), false)
	// compact is V||R||S
	sig := make([]byte, signatureLen)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}

// RecoverIdentity returns the identity that produced sig over msg.
func RecoverIdentity(msg, sig []byte) (domain.Identity, error) {
	if len(sig) != signatureLen {
		return "", ErrSignatureLength
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("%w: %d", ErrRecoveryID, sig[64])
	}
	compact := make([]byte, signatureLen)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, HashMessage(msg))
	if err != nil {
		return "", err
	}
	return IdentityFromPublicKey(pub), nil
}

// EncodeHex renders b as 0x-prefixed lowercase hex.
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// DecodeHex accepts hex with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrSignatureEncoding
	}
	return b, nil
}
