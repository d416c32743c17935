package record

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ErrUnknownValueType is returned when a record carries a value type this
// build does not know how to decode.
var ErrUnknownValueType = errors.New("unknown value type")

// EncodeValue encodes a record value. The bytes are written to the log as-is
// and are the form every replica replays.
func EncodeValue(v Value) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", v.ValueType(), err)
	}
	return data, nil
}

// DecodeValue decodes the value bytes of a record of the given value type.
// The concrete type returned matches the value type (ResourceRecord for
// RESOURCE, and so on), never a pointer.
func DecodeValue(vt ValueType, data []byte) (Value, error) {
	switch vt {
	case ValueTypeResource:
		return decodeInto[ResourceRecord](vt, data)
	case ValueTypeIncident:
		return decodeInto[IncidentRecord](vt, data)
	case ValueTypeJob:
		return decodeInto[JobRecord](vt, data)
	case ValueTypeProcessInstance:
		return decodeInto[ProcessInstanceRecord](vt, data)
	case ValueTypeVariableDocument:
		return decodeInto[VariableDocumentRecord](vt, data)
	case ValueTypeScale:
		return decodeInto[ScaleRecord](vt, data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownValueType, uint8(vt))
	}
}

func decodeInto[T Value](vt ValueType, data []byte) (Value, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s value: %w", vt, err)
	}
	return v, nil
}
