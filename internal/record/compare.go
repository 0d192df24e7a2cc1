package record

import (
	"bytes"
	"strings"
	"time"
)

// Direction selects ascending or descending order.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// NullsPlacement controls where null values sort relative to non-nulls.
type NullsPlacement int

const (
	// NullsAuto places nulls first ascending, last descending.
	NullsAuto NullsPlacement = iota
	NullsFirst
	NullsLast
)

// Ordering pairs a direction with a null-placement policy.
type Ordering struct {
	Direction Direction
	Nulls     NullsPlacement
}

// typeRank gives cross-type comparisons a stable total order. Values of the
// same logical kind compare by value; mixed kinds compare by rank.
func typeRank(v Value) int {
	switch v.(type) {
	case Bool:
		return 1
	case Int, Float:
		return 2
	case Time:
		return 3
	case String:
		return 4
	case Bytes:
		return 5
	case List:
		return 6
	case Object:
		return 7
	default:
		return 0
	}
}

// Compare orders two non-null values: -1 if a < b, 0 if equal, 1 if a > b.
// Nulls sort before everything; callers needing configurable null placement
// use CompareOrdered.
func Compare(a, b Value) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}

	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return intCompare(ra, rb)
	}

	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Int:
		return floatCompare(float64(av), numeric(b))
	case Float:
		return floatCompare(float64(av), numeric(b))
	case Time:
		bv := time.Time(b.(Time))
		avt := time.Time(av)
		switch {
		case avt.Equal(bv):
			return 0
		case avt.Before(bv):
			return -1
		default:
			return 1
		}
	case String:
		return strings.Compare(string(av), string(b.(String)))
	case Bytes:
		return bytes.Compare(av, b.(Bytes))
	case List:
		return listCompare(av, b.(List))
	case Object:
		return objectCompare(av, b.(Object))
	}
	return 0
}

// numeric widens Int or Float to float64 for mixed numeric comparison.
func numeric(v Value) float64 {
	switch n := v.(type) {
	case Int:
		return float64(n)
	case Float:
		return float64(n)
	}
	return 0
}

func intCompare(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floatCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func listCompare(a, b List) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return intCompare(len(a), len(b))
}

func objectCompare(a, b Object) int {
	// Deterministic but arbitrary: compare serialized forms.
	aj, err := MarshalValue(a)
	if err != nil {
		return 0
	}
	bj, err := MarshalValue(b)
	if err != nil {
		return 0
	}
	return bytes.Compare(aj, bj)
}

// CompareOrdered compares two values under an ordering, applying direction
// and null placement. Used by query ordering and in-memory merge/dedup.
func CompareOrdered(a, b Value, o Ordering) int {
	an, bn := IsNull(a), IsNull(b)
	if an || bn {
		if an && bn {
			return 0
		}
		nullsFirst := o.Nulls == NullsFirst ||
			(o.Nulls == NullsAuto && o.Direction == Asc)
		if an {
			if nullsFirst {
				return -1
			}
			return 1
		}
		if nullsFirst {
			return 1
		}
		return -1
	}

	c := Compare(a, b)
	if o.Direction == Desc {
		return -c
	}
	return c
}

// Equal reports deep value equality. Int and Float compare numerically, so
// Int(1) equals Float(1).
func Equal(a, b Value) bool {
	return Compare(a, b) == 0 && typeRankLoose(a) == typeRankLoose(b)
}

func typeRankLoose(v Value) int {
	if IsNull(v) {
		return 0
	}
	return typeRank(v)
}
