package record

import (
	"bytes"
	"fmt"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
)

// Variables is a JSON document of process variables. Values are restricted
// to strings, integers, booleans, arrays and nested objects.
type Variables map[string]any

// MarshalJSON encodes the document canonically. A nil document encodes as {}.
func (v Variables) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return MarshalCanonical(map[string]any(v))
}

// UnmarshalJSON decodes a document, turning every number into an int64.
func (v *Variables) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode variables: %w", err)
	}
	out := make(Variables, len(raw))
	for k, elem := range raw {
		n, err := normalizeVariable(elem)
		if err != nil {
			return fmt.Errorf("variable %q: %w", k, err)
		}
		out[k] = n
	}
	*v = out
	return nil
}

func normalizeVariable(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden")
	case string, bool, int64:
		return val, nil
	case int:
		return int64(val), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden: %v", val)
	case number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden: %s", val.String())
		}
		return n, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := normalizeVariable(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := normalizeVariable(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// Merge returns a copy of v with the top-level variables of update applied
// over it. Neither input is modified.
func (v Variables) Merge(update Variables) (Variables, error) {
	merged := make(Variables, len(v)+len(update))
	for k, elem := range v {
		merged[k] = elem
	}
	if len(update) == 0 {
		return merged, nil
	}
	if err := mergo.Merge(&merged, update, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge variables: %w", err)
	}
	return merged, nil
}
