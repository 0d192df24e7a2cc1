package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompare_NullsSortFirst(t *testing.T) {
	assert.Equal(t, 0, Compare(Null{}, nil))
	assert.Equal(t, -1, Compare(Null{}, Int(0)))
	assert.Equal(t, 1, Compare(String(""), Null{}))
}

func TestCompare_MixedNumerics(t *testing.T) {
	assert.Equal(t, 0, Compare(Int(2), Float(2.0)))
	assert.Equal(t, -1, Compare(Int(1), Float(1.5)))
	assert.Equal(t, 1, Compare(Float(3.5), Int(3)))
}

func TestCompare_SameType(t *testing.T) {
	assert.Equal(t, -1, Compare(String("a"), String("b")))
	assert.Equal(t, 1, Compare(Bool(true), Bool(false)))
	assert.Equal(t, -1, Compare(Bool(false), Bool(true)))
	assert.Equal(t, 0, Compare(Bool(false), Bool(false)))
	earlier := Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	later := Time(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, -1, Compare(earlier, later))
	assert.Equal(t, 0, Compare(earlier, earlier))
}

func TestCompareOrdered_Desc(t *testing.T) {
	o := Ordering{Direction: Desc}
	assert.Equal(t, 1, CompareOrdered(Int(1), Int(2), o))
	assert.Equal(t, -1, CompareOrdered(Int(2), Int(1), o))
}

func TestCompareOrdered_NullsAuto(t *testing.T) {
	// Ascending: nulls first. Descending: nulls last.
	asc := Ordering{Direction: Asc}
	desc := Ordering{Direction: Desc}
	assert.Equal(t, -1, CompareOrdered(Null{}, Int(1), asc))
	assert.Equal(t, 1, CompareOrdered(Null{}, Int(1), desc))
}

func TestCompareOrdered_ExplicitNullsPlacement(t *testing.T) {
	ascLast := Ordering{Direction: Asc, Nulls: NullsLast}
	assert.Equal(t, 1, CompareOrdered(Null{}, Int(1), ascLast))
	descFirst := Ordering{Direction: Desc, Nulls: NullsFirst}
	assert.Equal(t, -1, CompareOrdered(Null{}, Int(1), descFirst))
}

func TestEqual_TypeStrict(t *testing.T) {
	assert.True(t, Equal(Int(2), Float(2.0)))
	assert.True(t, Equal(String("x"), String("x")))
	assert.False(t, Equal(String("1"), Int(1)))
	assert.True(t, Equal(Null{}, nil))
}
