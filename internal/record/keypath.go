package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// KeyPath is the ordered tuple of primary-key field values identifying one
// record. Composite keys have more than one element.
type KeyPath []Value

// KeyOf extracts a key path from a record given the key field names, in
// field order. Missing fields become explicit nulls so the path length is
// always stable.
func KeyOf(rec Record, fields []string) KeyPath {
	kp := make(KeyPath, len(fields))
	for i, f := range fields {
		v, ok := rec[f]
		if !ok || v == nil {
			kp[i] = Null{}
			continue
		}
		kp[i] = v
	}
	return kp
}

// Encode serializes the key path to its canonical string form (a JSON
// array), the form used as the store key.
func (k KeyPath) Encode() (string, error) {
	data, err := MarshalValue(List(k))
	if err != nil {
		return "", fmt.Errorf("record: encode key path: %w", err)
	}
	return string(data), nil
}

// MarshalJSON serializes the key path as a JSON array.
func (k KeyPath) MarshalJSON() ([]byte, error) {
	return MarshalValue(List(k))
}

// UnmarshalJSON parses a JSON array into a key path.
func (k *KeyPath) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	l, ok := v.(List)
	if !ok {
		return fmt.Errorf("record: key path must be a JSON array, got %T", v)
	}
	*k = KeyPath(l)
	return nil
}

// ParseKeyPath decodes the canonical string form back into a key path.
func ParseKeyPath(s string) (KeyPath, error) {
	var kp KeyPath
	if err := json.Unmarshal([]byte(s), &kp); err != nil {
		return nil, fmt.Errorf("record: parse key path %q: %w", s, err)
	}
	return kp, nil
}

// Equal reports element-wise equality of two key paths.
func (k KeyPath) Equal(other KeyPath) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if !Equal(k[i], other[i]) {
			return false
		}
	}
	return true
}

// String renders the key path for log and error messages.
func (k KeyPath) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		data, err := MarshalValue(v)
		if err != nil {
			parts[i] = "?"
			continue
		}
		parts[i] = string(data)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
