package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalValue_SortsObjectKeys(t *testing.T) {
	rec := Object{
		"zebra": Int(1),
		"apple": String("a"),
		"mango": Bool(true),
	}
	data, err := MarshalValue(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"apple":"a","mango":true,"zebra":1}`, string(data))
}

func TestMarshalValue_TimeAsRFC3339(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	data, err := MarshalValue(Object{"at": Time(at)})
	require.NoError(t, err)
	assert.Equal(t, `{"at":"2024-03-15T10:30:00Z"}`, string(data))
}

func TestMarshalValue_Deterministic(t *testing.T) {
	rec := Object{
		"nested": Object{"b": Int(2), "a": Int(1)},
		"list":   List{String("x"), Null{}},
	}
	first, err := MarshalValue(rec)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalValue(rec)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestDecodeValue_RoundTrip(t *testing.T) {
	rec := Object{
		"name":  String("ada"),
		"count": Int(42),
		"ratio": Float(1.5),
		"ok":    Bool(true),
		"gone":  Null{},
		"tags":  List{String("a"), String("b")},
	}
	data, err := MarshalValue(rec)
	require.NoError(t, err)

	decoded, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, String("ada"), decoded["name"])
	assert.Equal(t, Int(42), decoded["count"])
	assert.Equal(t, Float(1.5), decoded["ratio"])
	assert.Equal(t, Bool(true), decoded["ok"])
	assert.True(t, IsNull(decoded["gone"]))
	assert.Equal(t, List{String("a"), String("b")}, decoded["tags"])
}

func TestDecodeValue_IntegralNumbersDecodeAsInt(t *testing.T) {
	decoded, err := DecodeRecord([]byte(`{"n": 7, "f": 7.25}`))
	require.NoError(t, err)
	assert.Equal(t, Int(7), decoded["n"])
	assert.Equal(t, Float(7.25), decoded["f"])
}

func TestClone_Deep(t *testing.T) {
	rec := Object{"inner": Object{"x": Int(1)}, "list": List{Int(1)}}
	clone := rec.Clone()
	clone["inner"].(Object)["x"] = Int(2)
	clone["list"].(List)[0] = Int(9)
	assert.Equal(t, Int(1), rec["inner"].(Object)["x"])
	assert.Equal(t, Int(1), rec["list"].(List)[0])
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(Null{}))
	assert.False(t, IsNull(String("")))
	assert.False(t, IsNull(Int(0)))
}
