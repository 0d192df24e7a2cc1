package schema

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/roach88/replica/internal/record"
)

// Coerce normalizes a value to the field's declared kind. Idempotent:
// already-normalized values pass through unchanged. Notably a string
// timestamp normalizes to a Time value and a base64 string to Bytes, so
// payloads that crossed a JSON wire round-trip cleanly.
func Coerce(f *Field, v record.Value) (record.Value, error) {
	if record.IsNull(v) {
		if v == nil {
			return record.Null{}, nil
		}
		return v, nil
	}
	if f.List {
		l, ok := v.(record.List)
		if !ok {
			return nil, fmt.Errorf("schema: field %q: expected list, got %T", f.Name, v)
		}
		out := make(record.List, len(l))
		for i, e := range l {
			c, err := coerceScalar(f, e)
			if err != nil {
				return nil, fmt.Errorf("schema: field %q[%d]: %w", f.Name, i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	c, err := coerceScalar(f, v)
	if err != nil {
		return nil, fmt.Errorf("schema: field %q: %w", f.Name, err)
	}
	return c, nil
}

func coerceScalar(f *Field, v record.Value) (record.Value, error) {
	switch f.Kind {
	case KindString:
		if s, ok := v.(record.String); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case record.Int:
			return n, nil
		case record.Float:
			if float64(int64(n)) == float64(n) {
				return record.Int(int64(n)), nil
			}
		}
	case KindFloat:
		switch n := v.(type) {
		case record.Float:
			return n, nil
		case record.Int:
			return record.Float(float64(n)), nil
		}
	case KindBool:
		if b, ok := v.(record.Bool); ok {
			return b, nil
		}
	case KindTime:
		switch t := v.(type) {
		case record.Time:
			return t, nil
		case record.String:
			parsed, err := parseTimestamp(string(t))
			if err != nil {
				return nil, err
			}
			return record.Time(parsed), nil
		case record.Int:
			// Unix milliseconds.
			return record.Time(time.UnixMilli(int64(t)).UTC()), nil
		}
	case KindBytes:
		switch b := v.(type) {
		case record.Bytes:
			return b, nil
		case record.String:
			decoded, err := base64.StdEncoding.DecodeString(string(b))
			if err != nil {
				return nil, fmt.Errorf("invalid base64: %w", err)
			}
			return record.Bytes(decoded), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, f.Kind)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// CoerceRecord normalizes every declared field present in the record.
// Unknown keys pass through untouched (they may be attached relations).
func CoerceRecord(m *Model, rec record.Record) (record.Record, error) {
	out := rec.Clone()
	for name, v := range out {
		f := m.Field(name)
		if f == nil {
			continue
		}
		c, err := Coerce(f, v)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}
	return out, nil
}

// DecodeRecord parses stored or wire JSON into a record with every field
// normalized to its declared kind.
func DecodeRecord(m *Model, data []byte) (record.Record, error) {
	rec, err := record.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("schema: model %q: %w", m.Name, err)
	}
	return CoerceRecord(m, rec)
}
