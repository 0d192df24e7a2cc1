package query

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/replica/internal/record"
)

// Matches evaluates a field predicate against a value. A nil predicate
// matches everything. The evaluation is pure: no I/O, no engine state.
func Matches(v record.Value, p Pred) (bool, error) {
	if p == nil {
		return true, nil
	}

	switch pred := p.(type) {
	case Equals:
		return record.Equal(v, normalNull(pred.Value)), nil
	case NotEquals:
		return !record.Equal(v, normalNull(pred.Value)), nil
	case In:
		return containsValue(pred.Values, v), nil
	case NotIn:
		if record.IsNull(v) {
			return false, nil
		}
		return !containsValue(pred.Values, v), nil
	case Lt:
		return relational(v, pred.Value, func(c int) bool { return c < 0 }), nil
	case Lte:
		return relational(v, pred.Value, func(c int) bool { return c <= 0 }), nil
	case Gt:
		return relational(v, pred.Value, func(c int) bool { return c > 0 }), nil
	case Gte:
		return relational(v, pred.Value, func(c int) bool { return c >= 0 }), nil
	case Contains:
		return matchString(v, pred.Value, pred.Insensitive, strings.Contains), nil
	case StartsWith:
		return matchString(v, pred.Value, pred.Insensitive, strings.HasPrefix), nil
	case EndsWith:
		return matchString(v, pred.Value, pred.Insensitive, strings.HasSuffix), nil
	case Has:
		l, ok := asList(v)
		if !ok {
			return false, nil
		}
		return containsValue(l, pred.Value), nil
	case HasSome:
		l, ok := asList(v)
		if !ok {
			return false, nil
		}
		for _, want := range pred.Values {
			if containsValue(l, want) {
				return true, nil
			}
		}
		return false, nil
	case HasEvery:
		l, ok := asList(v)
		if !ok {
			return false, nil
		}
		for _, want := range pred.Values {
			if !containsValue(l, want) {
				return false, nil
			}
		}
		return true, nil
	case IsEmpty:
		l, _ := asList(v)
		return (len(l) == 0) == pred.Empty, nil
	case IsNull:
		return record.IsNull(v) == pred.Null, nil
	case AllOf:
		for _, sub := range pred.Preds {
			ok, err := Matches(v, sub)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("query: unsupported predicate type %T", p)
	}
}

// normalNull maps a nil literal to an explicit null so Equals{nil} and
// Equals{record.Null{}} behave identically.
func normalNull(v record.Value) record.Value {
	if v == nil {
		return record.Null{}
	}
	return v
}

func containsValue(values []record.Value, v record.Value) bool {
	for _, candidate := range values {
		if record.Equal(v, normalNull(candidate)) {
			return true
		}
	}
	return false
}

// relational applies a comparison; null operands never satisfy it.
func relational(v, against record.Value, ok func(int) bool) bool {
	if record.IsNull(v) || record.IsNull(against) {
		return false
	}
	return ok(record.Compare(v, against))
}

func matchString(v record.Value, needle string, insensitive bool, fn func(string, string) bool) bool {
	s, isStr := v.(record.String)
	if !isStr {
		return false
	}
	haystack := string(s)
	if insensitive {
		// Unicode case folding, not ASCII lowering: "STRASSE" matches
		// "straße".
		folder := cases.Fold()
		haystack = folder.String(haystack)
		needle = folder.String(needle)
	}
	return fn(haystack, needle)
}

func asList(v record.Value) (record.List, bool) {
	if record.IsNull(v) {
		return nil, true
	}
	l, ok := v.(record.List)
	return l, ok
}
