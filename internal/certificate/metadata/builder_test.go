package metadata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
)

var fixedNow = time.Date(2025, 1, 14, 9, 30, 0, 123456789, time.FixedZone("X", 3600))

func baseInputs() Inputs {
	return Inputs{
		CertCode:       "CERT-250114-ABCDEF",
		Issuer:         models.Party{Identity: "0x00000000000000000000000000000000000000bb", Name: "Academy"},
		Owner:          models.Party{Identity: "0x00000000000000000000000000000000000000aa", Name: "Ann"},
		Course:         models.Course{Name: "Blockchain 101", Description: "Intro", Duration: "6 weeks"},
		TransactionRef: "0x01",
		ContentHash:    domain.CertHash("0xabc"),
	}
}

func TestBuildDefaults(t *testing.T) {
	b := NewBuilder(WithClock(func() time.Time { return fixedNow }), WithNetwork("sepolia"))

	m, err := b.Build(baseInputs())
	require.NoError(t, err)

	assert.Equal(t, DocumentVersion, m.Version)
	assert.Equal(t, DocumentType, m.Type)
	assert.Equal(t, time.Date(2025, 1, 14, 8, 30, 0, 123000000, time.UTC), m.Validity.IssueDate)
	assert.Nil(t, m.Validity.ExpireDate)
	assert.False(t, m.Validity.IsRevoked)
	require.NotNil(t, m.Anchor)
	assert.Equal(t, "sepolia", m.Anchor.Network)
	assert.Equal(t, domain.CertHash("0xabc"), m.Anchor.ContentHash)
	assert.Nil(t, m.Signature)
}

func TestBuildExplicitValues(t *testing.T) {
	in := baseInputs()
	issued := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	expires := issued.AddDate(2, 0, 0)
	in.IssueDate = &issued
	in.ExpireDate = &expires
	in.Network = "mainnet"

	m, err := NewBuilder().Build(in)
	require.NoError(t, err)
	assert.Equal(t, issued, m.Validity.IssueDate)
	require.NotNil(t, m.Validity.ExpireDate)
	assert.Equal(t, expires, *m.Validity.ExpireDate)
	assert.Equal(t, "mainnet", m.Anchor.Network)
}

func TestBuildDraftHasNoAnchor(t *testing.T) {
	m, err := NewBuilder().BuildDraft(baseInputs())
	require.NoError(t, err)
	assert.Nil(t, m.Anchor)
}

func TestBuildExtra(t *testing.T) {
	t.Run("new keys are carried", func(t *testing.T) {
		in := baseInputs()
		in.Extra = map[string]json.RawMessage{"grade": json.RawMessage(`"A"`)}

		m, err := NewBuilder().Build(in)
		require.NoError(t, err)

		out, err := json.Marshal(m)
		require.NoError(t, err)
		var fields map[string]any
		require.NoError(t, json.Unmarshal(out, &fields))
		assert.Equal(t, "A", fields["grade"])
	})

	t.Run("trust relevant keys cannot be overridden", func(t *testing.T) {
		in := baseInputs()
		in.Extra = map[string]json.RawMessage{
			"anchor": json.RawMessage(`{"contentHash":"0xevil"}`),
			"issuer": json.RawMessage(`{}`),
		}

		_, err := NewBuilder().Build(in)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.Contains(t, dErrors.Message(err), "anchor, issuer")
	})

	t.Run("invalid json", func(t *testing.T) {
		in := baseInputs()
		in.Extra = map[string]json.RawMessage{"grade": json.RawMessage(`{`)}
		_, err := NewBuilder().Build(in)
		require.Error(t, err)
	})
}

func TestBuildRequiresCode(t *testing.T) {
	in := baseInputs()
	in.CertCode = ""
	_, err := NewBuilder().Build(in)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
