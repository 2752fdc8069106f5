// Package canonical produces the deterministic byte form of certificate
// documents. These bytes are what gets hashed, signed and content-addressed,
// so every producer and verifier must go through this package.
//
// Top-level keys are always sorted by codepoint. Nested objects keep their
// encountered order unless the encoder runs in recursive mode. Output is
// compact JSON without HTML escaping.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	dErrors "certify/pkg/domain-errors"
)

// Mode selects how deep key sorting goes.
type Mode string

const (
	ModeTopLevel  Mode = "toplevel"
	ModeRecursive Mode = "recursive"
)

// ParseMode accepts "toplevel" (or empty) and "recursive".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeTopLevel:
		return ModeTopLevel, nil
	case ModeRecursive:
		return ModeRecursive, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown canonical mode %q", s))
	}
}

// Encoder serializes documents in canonical form. The zero value sorts
// top-level keys only.
type Encoder struct {
	mode Mode
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithRecursive sorts keys of nested objects too.
func WithRecursive() Option {
	return func(e *Encoder) { e.mode = ModeRecursive }
}

// WithMode sets the sorting mode explicitly.
func WithMode(m Mode) Option {
	return func(e *Encoder) {
		if m != "" {
			e.mode = m
		}
	}
}

// New builds an Encoder.
func New(opts ...Option) *Encoder {
	e := &Encoder{mode: ModeTopLevel}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode reports the encoder's sorting mode.
func (e *Encoder) Mode() Mode {
	if e == nil || e.mode == "" {
		return ModeTopLevel
	}
	return e.mode
}

var defaultEncoder = New()

// Encode canonicalizes v with top-level sorting.
func Encode(v any) ([]byte, error) {
	return defaultEncoder.Encode(v)
}

// Encode canonicalizes v. Raw JSON ([]byte, json.RawMessage, string) is used
// as-is; anything else is marshaled first. The top level must be an object.
func (e *Encoder) Encode(v any) ([]byte, error) {
	raw, err := toJSON(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "canonical form requires a JSON object")
	}

	var buf bytes.Buffer
	if err := e.writeObject(&buf, dec, true); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "trailing data after JSON object")
	}
	return buf.Bytes(), nil
}

func toJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document is empty")
	case json.RawMessage:
		return t, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, malformed(err)
		}
		return b, nil
	}
}

type member struct {
	key   string
	value []byte
}

// writeObject is called after the opening brace has been consumed.
func (e *Encoder) writeObject(buf *bytes.Buffer, dec *json.Decoder, sorted bool) error {
	var members []member
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return malformed(err)
		}
		key, ok := tok.(string)
		if !ok {
			return dErrors.New(dErrors.CodeInvalidInput, "object key must be a string")
		}
		if _, dup := seen[key]; dup {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("duplicate key %q", key))
		}
		seen[key] = struct{}{}

		var val bytes.Buffer
		if err := e.writeValue(&val, dec); err != nil {
			return err
		}
		members = append(members, member{key: key, value: val.Bytes()})
	}
	if _, err := dec.Token(); err != nil {
		return malformed(err)
	}

	if sorted {
		sort.Slice(members, func(i, j int) bool { return members[i].key < members[j].key })
	}

	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, m.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		buf.Write(m.value)
	}
	buf.WriteByte('}')
	return nil
}

func (e *Encoder) writeValue(buf *bytes.Buffer, dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return malformed(err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return e.writeObject(buf, dec, e.Mode() == ModeRecursive)
		case '[':
			return e.writeArray(buf, dec)
		default:
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unexpected delimiter %q", t))
		}
	case string:
		return writeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported token %T", tok))
	}
	return nil
}

func (e *Encoder) writeArray(buf *bytes.Buffer, dec *json.Decoder) error {
	buf.WriteByte('[')
	first := true
	for dec.More() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := e.writeValue(buf, dec); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return malformed(err)
	}
	buf.WriteByte(']')
	return nil
}

// writeString emits a JSON string literal without HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return malformed(err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

func malformed(err error) error {
	return dErrors.Wrap(err, dErrors.CodeInvalidInput, "document is not valid JSON")
}
