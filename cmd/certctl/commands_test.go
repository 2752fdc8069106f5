package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"certify/internal/certificate/signature"
	jwttoken "certify/internal/jwt_token"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"certctl"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCanonicalize(t *testing.T) {
	path := writeFile(t, `{"b": {"z": 1, "a": 2}, "a": "x"}`)

	out, err := run(t, "canonicalize", "--in", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":"x","b":{"z":1,"a":2}}`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "hash: 0x"))

	out, err = run(t, "canonicalize", "--in", path, "--recursive")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `{"a":"x","b":{"a":2,"z":1}}`))
}

func TestSignThenVerify(t *testing.T) {
	path := writeFile(t, `{"name":"Ada Lovelace","course":"Blockchain 101"}`)

	signed, err := run(t, "sign", "--in", path, "--key", testKey)
	require.NoError(t, err)

	signedPath := writeFile(t, signed)
	out, err := run(t, "verify", "--in", signedPath)
	require.NoError(t, err)
	var result signature.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.IsValid)

	address, err := run(t, "address", "--key", testKey)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(address), result.RecoveredIdentity)

	tampered := strings.Replace(signed, "Blockchain 101", "Blockchain 102", 1)
	out, err = run(t, "verify", "--in", writeFile(t, tampered))
	require.Error(t, err)
	require.NoError(t, json.Unmarshal([]byte(out[:strings.LastIndex(out, "}")+1]), &result))
	assert.Equal(t, signature.KindHashMismatch, result.Kind)
}

func TestVerifyBatch(t *testing.T) {
	doc := writeFile(t, `{"name":"Ada"}`)
	signed, err := run(t, "sign", "--in", doc, "--key", testKey)
	require.NoError(t, err)

	batch := writeFile(t, "["+strings.TrimSpace(signed)+`,{"name":"unsigned"}]`)
	out, err := run(t, "verify-batch", "--in", batch)
	require.NoError(t, err)
	var result signature.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.ValidCount)

	_, err = run(t, "verify-batch", "--in", doc)
	assert.Error(t, err)
}

func TestCID(t *testing.T) {
	a, err := run(t, "cid", "--in", writeFile(t, `{"b":1,"a":2}`))
	require.NoError(t, err)
	b, err := run(t, "cid", "--in", writeFile(t, `{"a":2,"b":1}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, "ipfs://b"))
	assert.Equal(t, a, b, "key order must not change the content address")
}

func TestToken(t *testing.T) {
	out, err := run(t, "token", "--sub", "0x1111111111111111111111111111111111111111", "--signing-key", "k")
	require.NoError(t, err)

	claims, err := jwttoken.NewJWTService("k", "certify", "certify-api").ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", claims.Subject)

	_, err = run(t, "token", "--sub", "alice")
	assert.Error(t, err)
}
