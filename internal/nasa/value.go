package nasa

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the decoded shape of an attribute value.
type Kind uint8

// Value kinds.
const (
	KindUnknown Kind = iota
	KindEnum
	KindNumeric
	KindBoolean
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindEnum:
		return "enum"
	case KindNumeric:
		return "numeric"
	case KindBoolean:
		return "boolean"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name as used in catalog files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enum":
		return KindEnum, nil
	case "numeric", "number", "variable":
		return KindNumeric, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "raw", "structure":
		return KindRaw, nil
	default:
		return KindUnknown, fmt.Errorf("unknown kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value is a decoded attribute value.
//
// Enum and Boolean values keep their integer in Number; Numeric values hold
// the scaled engineering value; Raw values keep the wire bytes.
type Value struct {
	Kind   Kind
	Number float64
	Raw    []byte
}

// EnumValue returns an enum value.
func EnumValue(v int) Value { return Value{Kind: KindEnum, Number: float64(v)} }

// NumericValue returns a numeric value.
func NumericValue(v float64) Value { return Value{Kind: KindNumeric, Number: v} }

// BoolValue returns a boolean value.
func BoolValue(v bool) Value {
	if v {
		return Value{Kind: KindBoolean, Number: 1}
	}
	return Value{Kind: KindBoolean}
}

// RawValue returns a raw value holding a copy of b.
func RawValue(b []byte) Value { return Value{Kind: KindRaw, Raw: cloneBytes(b)} }

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool { return v.Kind == KindUnknown }

// Equal reports whether two values are identical in kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindRaw {
		return bytes.Equal(v.Raw, o.Raw)
	}
	return v.Number == o.Number
}

// Bool returns the value as a boolean. Non-zero numbers are true.
func (v Value) Bool() bool { return v.Number != 0 }

// Int returns the value rounded to the nearest integer.
func (v Value) Int() int { return int(math.Round(v.Number)) }

// String renders the value for logs and the CLI.
func (v Value) String() string {
	switch v.Kind {
	case KindBoolean:
		return strconv.FormatBool(v.Bool())
	case KindEnum:
		return strconv.Itoa(v.Int())
	case KindNumeric:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindRaw:
		return hex.EncodeToString(v.Raw)
	default:
		return "<unset>"
	}
}

// Interface returns the value as a plain Go value for JSON payloads:
// bool, int, float64 or a hex string.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBoolean:
		return v.Bool()
	case KindEnum:
		return v.Int()
	case KindNumeric:
		return v.Number
	case KindRaw:
		return hex.EncodeToString(v.Raw)
	default:
		return nil
	}
}

// MarshalJSON encodes the value as its plain form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}
