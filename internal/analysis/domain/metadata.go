package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MaxMetadataDepth bounds nesting of metadata values
const MaxMetadataDepth = 4

// Metadata is an open string-keyed map of JSON-like values
type Metadata map[string]any

// Value implements driver.Valuer, storing metadata as JSON
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	// string keeps lib/pq from sending bytea into a JSONB column
	return string(data), nil
}

// Scan implements sql.Scanner for JSON columns
func (m *Metadata) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}

	if len(data) == 0 {
		*m = nil
		return nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	*m = decoded
	return nil
}

// Clone returns a deep copy of nested maps and slices
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Validate checks size and value types only; there is no fixed schema
func (m Metadata) Validate(maxBytes int) error {
	if m == nil {
		return nil
	}
	for k, v := range m {
		if k == "" {
			return NewValidationError("metadata", "keys must not be empty")
		}
		if err := validateValue(v, 1); err != nil {
			return NewValidationError("metadata", fmt.Sprintf("key %q: %s", k, err.Error()))
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return NewValidationError("metadata", "not JSON encodable")
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return NewValidationError("metadata", fmt.Sprintf("encoded size %d exceeds %d bytes", len(data), maxBytes))
	}
	return nil
}

func validateValue(v any, depth int) error {
	if depth > MaxMetadataDepth {
		return fmt.Errorf("nesting deeper than %d levels", MaxMetadataDepth)
	}
	switch t := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		return nil
	case map[string]any:
		for _, inner := range t {
			if err := validateValue(inner, depth+1); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, inner := range t {
			if err := validateValue(inner, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}
