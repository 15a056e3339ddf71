package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one named payload value. Values are plain decoded JSON:
// string, float64, bool, nil, or nested []any / map[string]any.
type Field struct {
	Name  string
	Value any
}

// Payload is the ordered field list of an observation. Field order is
// part of the submission and survives a JSON round-trip: marshaling
// emits the fields in submission order, unmarshaling reads them off
// the token stream instead of an unordered map.
type Payload []Field

// Get returns the value of the named field.
func (p Payload) Get(name string) (any, bool) {
	for _, f := range p {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether the named field is present.
func (p Payload) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Validate rejects empty payloads and duplicate field names.
func (p Payload) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("payload must contain at least one field")
	}
	seen := make(map[string]bool, len(p))
	for _, f := range p {
		if f.Name == "" {
			return fmt.Errorf("payload field name must not be empty")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate payload field %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// MarshalJSON emits a JSON object with fields in payload order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", f.Name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("payload must be a JSON object")
	}

	var fields Payload
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("payload key is not a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode field %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = fields
	return nil
}
