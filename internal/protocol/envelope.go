package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a frame cannot be read as an envelope or
	// an envelope does not carry enough fields for its kind.
	ErrMalformed = errors.New("protocol: malformed envelope")

	// ErrUnknownKind is returned when decoding an envelope whose kind tag is
	// not part of the protocol.
	ErrUnknownKind = errors.New("protocol: unknown kind")
)

// Envelope is one routed unit of protocol data: a kind tag plus an ordered
// list of string fields whose meaning depends on the kind.
//
// Envelopes are immutable once built; use Fields to read a copy of the
// field list.
type Envelope struct {
	kind   Kind
	fields []string
}

// New builds an envelope from a kind and its fields.
func New(kind Kind, fields ...string) Envelope {
	return Envelope{kind: kind, fields: append([]string(nil), fields...)}
}

// Kind returns the envelope's command kind.
func (e Envelope) Kind() Kind {
	return e.kind
}

// Fields returns a copy of the envelope's fields.
func (e Envelope) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Len returns the number of fields.
func (e Envelope) Len() int {
	return len(e.fields)
}

// Field returns the i-th field, or "" when out of range.
func (e Envelope) Field(i int) string {
	if i < 0 || i >= len(e.fields) {
		return ""
	}
	return e.fields[i]
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s%q", e.kind, e.fields)
}

type wireEnvelope struct {
	Kind   Kind     `json:"kind"`
	Fields []string `json:"fields"`
}

// MarshalJSON encodes the envelope as {"kind":..., "fields":[...]}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	fields := e.fields
	if fields == nil {
		fields = []string{}
	}
	return json.Marshal(wireEnvelope{Kind: e.kind, Fields: fields})
}

// UnmarshalJSON decodes the wire form. A missing kind is malformed.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	*e = New(w.Kind, w.Fields...)
	return nil
}

// Marshal encodes an envelope into one wire frame.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes one wire frame. Every failure wraps ErrMalformed.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}
