// Package signature implements personal-message signing, signer recovery and
// the structured verification of signed certificate documents.
package signature

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"

	"certify/internal/certificate/canonical"
	"certify/internal/certificate/models"
)

const envelopeKey = "signature"

// Kind classifies a verification outcome.
type Kind string

const (
	KindValid             Kind = "Valid"
	KindMalformedInput    Kind = "MalformedInput"
	KindHashMismatch      Kind = "HashMismatch"
	KindSignerMismatch    Kind = "SignerMismatch"
	KindVerificationError Kind = "VerificationError"
)

// Reasons reported on failing results.
const (
	ReasonMissingFields   = "Missing signature fields"
	ReasonInvalidMetadata = "Metadata is empty or invalid"
	ReasonHashMismatch    = "Hash mismatch - payload altered"
	ReasonSignerMismatch  = "Signer mismatch"
	reasonErrorPrefix     = "Verification error: "
)

// Result is the structured outcome of one verification. Every failure is
// expressed here; verification never returns a Go error.
type Result struct {
	IsValid           bool   `json:"isValid"`
	Reason            string `json:"reason,omitempty"`
	Kind              Kind   `json:"kind"`
	RecoveredIdentity string `json:"recoveredIdentity,omitempty"`
	ExpectedIdentity  string `json:"expectedIdentity,omitempty"`
	ComputedHash      string `json:"computedHash,omitempty"`
	ProvidedHash      string `json:"providedHash,omitempty"`
}

// ItemResult pairs a batch result with its input position.
type ItemResult struct {
	Index  int    `json:"index"`
	Result Result `json:"result"`
}

// BatchResult aggregates a batch verification.
type BatchResult struct {
	Total        int          `json:"total"`
	ValidCount   int          `json:"validCount"`
	InvalidCount int          `json:"invalidCount"`
	Results      []ItemResult `json:"results"`
}

// Verifier checks signed documents.
type Verifier struct {
	encoder     *canonical.Encoder
	concurrency int
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithEncoder sets the canonical encoder. It must match the signer's.
func WithEncoder(enc *canonical.Encoder) Option {
	return func(v *Verifier) {
		if enc != nil {
			v.encoder = enc
		}
	}
}

// WithConcurrency bounds parallel batch verification.
func WithConcurrency(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// NewVerifier builds a Verifier.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		encoder:     canonical.New(),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifySignature verifies a signed document. doc may be raw JSON bytes, a
// map, or a CertificateMetadata value.
func (v *Verifier) VerifySignature(doc any) Result {
	raw, ok := documentBytes(doc)
	if !ok {
		return failure(KindMalformedInput, ReasonInvalidMetadata)
	}
	// Encoding the whole document rejects duplicate keys that a map split would collapse.
	if _, err := v.encoder.Encode(raw); err != nil {
		return failure(KindMalformedInput, ReasonInvalidMetadata)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return failure(KindMalformedInput, ReasonInvalidMetadata)
	}

	rawEnv, ok := fields[envelopeKey]
	if !ok {
		return failure(KindMalformedInput, ReasonMissingFields)
	}
	var env models.SignatureEnvelope
	if err := json.Unmarshal(rawEnv, &env); err != nil || strings.TrimSpace(env.Value) == "" || strings.TrimSpace(env.SignedBy) == "" {
		return failure(KindMalformedInput, ReasonMissingFields)
	}
	delete(fields, envelopeKey)
	if len(fields) == 0 {
		return failure(KindMalformedInput, ReasonInvalidMetadata)
	}

	canon, err := v.encoder.Encode(fields)
	if err != nil {
		return failure(KindMalformedInput, ReasonInvalidMetadata)
	}
	computed := HashMessageHex(canon)
	res := Result{
		Kind:             KindValid,
		ExpectedIdentity: env.SignedBy,
		ComputedHash:     computed,
		ProvidedHash:     env.SignedHash,
	}

	if env.SignedHash != "" && !strings.EqualFold(env.SignedHash, computed) {
		res.Kind = KindHashMismatch
		res.Reason = ReasonHashMismatch
		return res
	}

	sig, err := DecodeHex(env.Value)
	if err != nil {
		return withError(res, err)
	}
	recovered, err := RecoverIdentity(canon, sig)
	if err != nil {
		return withError(res, err)
	}
	res.RecoveredIdentity = recovered.String()

	if !strings.EqualFold(recovered.String(), strings.TrimSpace(env.SignedBy)) {
		res.Kind = KindSignerMismatch
		res.Reason = ReasonSignerMismatch
		return res
	}
	res.IsValid = true
	return res
}

// VerifyBatchSignatures verifies docs in parallel. Results are in input order;
// a cancelled context marks the unverified remainder as verification errors.
func (v *Verifier) VerifyBatchSignatures(ctx context.Context, docs []json.RawMessage) BatchResult {
	results := make([]ItemResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = ItemResult{Index: i, Result: failure(KindVerificationError, reasonErrorPrefix+err.Error())}
				return nil
			}
			results[i] = ItemResult{Index: i, Result: v.VerifySignature(doc)}
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Total: len(docs), Results: results}
	for _, r := range results {
		if r.Result.IsValid {
			out.ValidCount++
		} else {
			out.InvalidCount++
		}
	}
	return out
}

// IsTrustedSigner reports whether env was signed by trusted. Missing fields
// yield false.
func IsTrustedSigner(env *models.SignatureEnvelope, trusted string) bool {
	if env == nil {
		return false
	}
	signedBy := strings.TrimSpace(env.SignedBy)
	trusted = strings.TrimSpace(trusted)
	if signedBy == "" || trusted == "" {
		return false
	}
	return strings.EqualFold(signedBy, trusted)
}

func documentBytes(doc any) (json.RawMessage, bool) {
	switch t := doc.(type) {
	case nil:
		return nil, false
	case json.RawMessage:
		return t, true
	case []byte:
		return t, true
	case string:
		return json.RawMessage(t), true
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, false
		}
		return b, true
	}
}

func failure(kind Kind, reason string) Result {
	return Result{Kind: kind, Reason: reason}
}

func withError(res Result, err error) Result {
	res.Kind = KindVerificationError
	res.Reason = reasonErrorPrefix + err.Error()
	res.IsValid = false
	return res
}
