package session

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"time"
)

func init() {
	gob.Register(Attributes{})
	gob.Register(map[string]any{})
	gob.Register(map[string]string{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
}

// Codec converts attributes to and from the text stored in a record's data
// column.
type Codec interface {
	// Encode serializes attrs.
	Encode(attrs Attributes) (string, error)

	// Decode reverses Encode. A nil payload yields ErrNoSession.
	Decode(payload *string) (Attributes, error)
}

// GobCodec serializes attributes with encoding/gob and stores the result as
// base64 text. Nested maps, slices and any type passed to RegisterType
// round-trip with their concrete types intact.
type GobCodec struct{}

// RegisterType makes a caller-defined value type storable in Attributes.
func RegisterType(v any) {
	gob.Register(v)
}

// Encode serializes attrs.
func (GobCodec) Encode(attrs Attributes) (string, error) {
	if attrs == nil {
		attrs = Attributes{}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string]any(attrs)); err != nil {
		return "", fmt.Errorf("encoding session: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode.
func (GobCodec) Decode(payload *string) (Attributes, error) {
	if payload == nil {
		return nil, ErrNoSession
	}

	raw, err := base64.StdEncoding.DecodeString(*payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}

	var m map[string]any
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}
	if m == nil {
		return Attributes{}, nil
	}
	return Attributes(m), nil
}

// Verify interface compliance.
var _ Codec = GobCodec{}
