package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValueKind discriminates the payload carried by a Value
type ValueKind int

const (
	// ValueKindAbsent marks a value that was never supplied (or was null)
	ValueKindAbsent ValueKind = iota
	// ValueKindString is a textual value
	ValueKindString
	// ValueKindNumber is a numeric value
	ValueKindNumber
	// ValueKindBool is a boolean value
	ValueKindBool
)

// String returns the kind name
func (k ValueKind) String() string {
	switch k {
	case ValueKindString:
		return "string"
	case ValueKindNumber:
		return "number"
	case ValueKindBool:
		return "bool"
	default:
		return "absent"
	}
}

// Value is a tagged attribute value. The zero Value is absent.
//
// Absent, empty and present are distinct: an absent value was never supplied,
// an empty value is a supplied empty string. Survivorship treats both as
// "no value" but lineage and conflict detection only ever see present values.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// String creates a textual value
func String(s string) Value {
	return Value{kind: ValueKindString, str: s}
}

// Number creates a numeric value
func Number(f float64) Value {
	return Value{kind: ValueKindNumber, num: f}
}

// Bool creates a boolean value
func Bool(b bool) Value {
	return Value{kind: ValueKindBool, b: b}
}

// Absent returns the absent value
func Absent() Value {
	return Value{}
}

// Kind returns the value's kind
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsAbsent reports whether the value was never supplied
func (v Value) IsAbsent() bool {
	return v.kind == ValueKindAbsent
}

// IsEmpty reports whether the value is absent or an empty string
func (v Value) IsEmpty() bool {
	return v.kind == ValueKindAbsent || (v.kind == ValueKindString && v.str == "")
}

// Text returns the textual form used for comparison and display
func (v Value) Text() string {
	switch v.kind {
	case ValueKindString:
		return v.str
	case ValueKindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case ValueKindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// String implements fmt.Stringer
func (v Value) String() string {
	return v.Text()
}

// Equal reports whether both values have the same kind and payload
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case ValueKindString:
		return v.str == other.str
	case ValueKindNumber:
		return v.num == other.num
	case ValueKindBool:
		return v.b == other.b
	default:
		return true
	}
}

// Interface returns the payload as a plain Go value (nil when absent)
func (v Value) Interface() any {
	switch v.kind {
	case ValueKindString:
		return v.str
	case ValueKindNumber:
		return v.num
	case ValueKindBool:
		return v.b
	default:
		return nil
	}
}

// FromInterface converts a decoded JSON-ish value into a Value.
// Unsupported types fall back to their fmt textual form.
func FromInterface(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Absent()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Absent()
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.(type) {
	case string, float64, bool:
		*v = FromInterface(raw)
		return nil
	default:
		return fmt.Errorf("unsupported attribute value %s: must be a string, number, boolean or null", string(data))
	}
}

// MarshalYAML implements yaml.Marshaler
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: attribute value must be a scalar", node.Line)
	}

	switch node.Tag {
	case "!!null":
		*v = Absent()
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = Number(f)
	default:
		*v = String(node.Value)
	}
	return nil
}

// Attributes maps attribute names to values
type Attributes map[string]Value

// Get returns the named value, absent when the key is missing
func (a Attributes) Get(name string) Value {
	if a == nil {
		return Absent()
	}
	return a[name]
}

// Keys returns the attribute names in sorted order
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AttributesFromMap converts a loosely typed map into Attributes
func AttributesFromMap(m map[string]any) Attributes {
	out := make(Attributes, len(m))
	for k, raw := range m {
		out[k] = FromInterface(raw)
	}
	return out
}
