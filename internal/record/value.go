package record

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Value is a sealed interface over the scalar and composite value types a
// replicated record may hold. Only the types in this package implement it,
// which keeps type switches over record data exhaustive.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an explicit null field value.
// Using a concrete type (rather than a nil Value) keeps nil reserved for
// "field absent".
type Null struct{}

func (Null) value() {}

// String is a string field value.
type String string

func (String) value() {}

// Int is an integer field value, always int64 on the wire.
type Int int64

func (Int) value() {}

// Float is a floating-point field value.
type Float float64

func (Float) value() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// Bytes is a binary field value, serialized as base64.
type Bytes []byte

func (Bytes) value() {}

// Time is a timestamp field value, serialized as RFC 3339.
type Time time.Time

func (Time) value() {}

// Std returns the underlying time.Time.
func (t Time) Std() time.Time { return time.Time(t) }

// List is an ordered collection of values (scalar list fields, or attached
// to-many relation results).
type List []Value

func (List) value() {}

// Object is a string-keyed collection of values. A record is an Object.
type Object map[string]Value

func (Object) value() {}

// Record is one row of a declared entity type.
type Record = Object

// Clone returns a shallow-enough deep copy: nested objects and lists are
// copied, scalar values are immutable and shared.
func (o Object) Clone() Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case List:
		out := make(List, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case Bytes:
		out := make(Bytes, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// SortedKeys returns the object's keys in lexical order for deterministic
// serialization and iteration.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalValue serializes a value as deterministic JSON: object keys sorted,
// timestamps as RFC 3339 strings, bytes as base64 strings.
func MarshalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		return encodeJSON(buf, string(val))
	case Int:
		fmt.Fprintf(buf, "%d", int64(val))
	case Float:
		return encodeJSON(buf, float64(val))
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Bytes:
		return encodeJSON(buf, base64.StdEncoding.EncodeToString(val))
	case Time:
		return encodeJSON(buf, time.Time(val).UTC().Format(time.RFC3339Nano))
	case List:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSON(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("record: unsupported value type %T", v)
	}
	return nil
}

func encodeJSON(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// MarshalJSON implements json.Marshaler with deterministic key order.
func (o Object) MarshalJSON() ([]byte, error) {
	return MarshalValue(o)
}

// UnmarshalJSON implements json.Unmarshaler. Strings stay String values;
// schema-driven coercion upgrades them to Time or Bytes where the field kind
// says so.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = make(Object, len(raw))
	for k, rv := range raw {
		v, err := DecodeValue(rv)
		if err != nil {
			return fmt.Errorf("record: key %q: %w", k, err)
		}
		(*o)[k] = v
	}
	return nil
}

// DecodeValue parses a JSON value into the closest Value type. Numbers
// decode as Int when they are integral, Float otherwise.
func DecodeValue(data []byte) (Value, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("record: empty JSON value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		return Null{}, nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
		out := make(List, len(raw))
		for i, rv := range raw {
			v, err := DecodeValue(rv)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case '{':
		var obj Object
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		return obj, nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return nil, err
		}
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("record: unparseable number %q", n)
		}
		return Float(f), nil
	}
}

// DecodeRecord parses a JSON object into a Record.
func DecodeRecord(data []byte) (Record, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// IsNull reports whether a value is absent or an explicit null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
