package settings

import (
	"encoding/json"
	"fmt"
	"strconv"

	"perishable-ledger/core/utils"
)

// ValueKind tags the type carried by a global setting.
type ValueKind uint8

const (
	KindBool ValueKind = iota + 1
	KindNumber
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a global setting value: a bool, a 32-bit float or a string.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Number float32
	Text   string
}

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NumberValue wraps a float.
func NumberValue(f float32) Value { return Value{Kind: KindNumber, Number: f} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Text: s} }

// ParseValue converts raw CLI/HTTP text into a value of the given kind.
func ParseValue(kind ValueKind, raw string) (Value, error) {
	switch kind {
	case KindBool:
		return BoolValue(utils.ToBool(raw)), nil
	case KindNumber:
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", raw, err)
		}
		return NumberValue(float32(f)), nil
	case KindString:
		return StringValue(raw), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(float64(v.Number), 'f', -1, 32)
	default:
		return v.Text
	}
}

// MarshalJSON renders the value as a plain JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindString:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON bool, number or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		*v = BoolValue(t)
	case float64:
		*v = NumberValue(float32(t))
	case string:
		*v = StringValue(t)
	default:
		return fmt.Errorf("unsupported setting value %s", string(data))
	}
	return nil
}
