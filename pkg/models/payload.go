package models

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ErrNullPayload is returned when a payload is missing or JSON null.
var ErrNullPayload = errors.New("data_payload must not be null")

// Payload is an opaque JSON document submitted by an agent. It is kept as the
// raw bytes the agent sent so the stored value round-trips exactly.
type Payload []byte

// NewPayload validates raw JSON and returns it as a Payload.
func NewPayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNullPayload
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("data_payload is not valid JSON")
	}
	out := make(Payload, len(trimmed))
	copy(out, trimmed)
	return out, nil
}

// IsNull reports whether the payload is absent or JSON null.
func (p Payload) IsNull() bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return errors.New("models.Payload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// Decode parses the payload into plain Go values. Integral numbers become
// int64 and the rest float64, so that equal documents decode identically.
func (p Payload) Decode() (any, error) {
	if p.IsNull() {
		return nil, ErrNullPayload
	}
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func (p Payload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return string(p), nil
}

func (p *Payload) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[0:0], v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", value)
	}
	return nil
}

// GormDBDataType stores payloads as jsonb on PostgreSQL and as text elsewhere.
func (Payload) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}
