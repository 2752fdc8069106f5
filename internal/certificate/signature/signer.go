package signature

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"certify/internal/certificate/canonical"
	"certify/internal/certificate/models"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
)

// Signer holds one issuer key. Key custody happens elsewhere; a Signer only
// ever receives an existing key.
type Signer struct {
	key      *secp256k1.PrivateKey
	identity domain.Identity
	encoder  *canonical.Encoder
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerEncoder sets the canonical encoder used for documents.
func WithSignerEncoder(enc *canonical.Encoder) SignerOption {
	return func(s *Signer) {
		if enc != nil {
			s.encoder = enc
		}
	}
}

// NewSigner wraps an existing private key.
func NewSigner(key *secp256k1.PrivateKey, opts ...SignerOption) *Signer {
	s := &Signer{
		key:      key,
		identity: IdentityFromPublicKey(key.PubKey()),
		encoder:  canonical.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignerFromHex parses a 32 byte hex private key.
func SignerFromHex(keyHex string, opts ...SignerOption) (*Signer, error) {
	raw, err := DecodeHex(keyHex)
	if err != nil || len(raw) != 32 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "private key must be 32 bytes of hex")
	}
	return NewSigner(secp256k1.PrivKeyFromBytes(raw), opts...), nil
}

// Identity returns the signer's account identity.
func (s *Signer) Identity() domain.Identity {
	return s.identity
}

// SignCanonical signs already-canonical payload bytes. When embedHash is set
// the envelope also carries the message hash so tampering is reported as a
// hash mismatch instead of a signer mismatch.
func (s *Signer) SignCanonical(canon []byte, embedHash bool) models.SignatureEnvelope {
	env := models.SignatureEnvelope{
		Value:    EncodeHex(SignMessage(s.key, canon)),
		SignedBy: s.identity.String(),
	}
	if embedHash {
		env.SignedHash = HashMessageHex(canon)
	}
	return env
}

// SignMetadata signs the payload of m and returns a copy carrying the envelope.
func (s *Signer) SignMetadata(m models.CertificateMetadata, embedHash bool) (models.CertificateMetadata, error) {
	canon, err := s.encoder.Encode(m.Payload())
	if err != nil {
		return models.CertificateMetadata{}, err
	}
	env := s.SignCanonical(canon, embedHash)
	m.Signature = &env
	return m, nil
}

// SignDocument signs an arbitrary JSON object, replacing any existing
// "signature" key, and returns the signed document.
func (s *Signer) SignDocument(doc []byte, embedHash bool) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil || fields == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document must be a JSON object")
	}
	delete(fields, envelopeKey)

	canon, err := s.encoder.Encode(fields)
	if err != nil {
		return nil, err
	}
	env, err := json.Marshal(s.SignCanonical(canon, embedHash))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode signature")
	}
	fields[envelopeKey] = env
	return json.Marshal(fields)
}

// Keyring maps issuer identities to their signers.
type Keyring struct {
	mu      sync.RWMutex
	signers map[domain.Identity]*Signer
}

// NewKeyring builds a keyring from signers.
func NewKeyring(signers ...*Signer) *Keyring {
	k := &Keyring{signers: make(map[domain.Identity]*Signer, len(signers))}
	for _, s := range signers {
		k.Add(s)
	}
	return k
}

// KeyringFromHex parses each hex key into a signer.
func KeyringFromHex(keys []string, opts ...SignerOption) (*Keyring, error) {
	k := NewKeyring()
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		s, err := SignerFromHex(key, opts...)
		if err != nil {
			return nil, err
		}
		k.Add(s)
	}
	return k, nil
}

// Add registers s under its identity.
func (k *Keyring) Add(s *Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.Identity()] = s
}

// Signer returns the signer for identity, matched case-insensitively.
func (k *Keyring) Signer(identity domain.Identity) (*Signer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[domain.Identity(strings.ToLower(identity.String()))]
	return s, ok
}

// Identities lists the keyring's identities in sorted order.
func (k *Keyring) Identities() []domain.Identity {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]domain.Identity, 0, len(k.signers))
	for id := range k.signers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
