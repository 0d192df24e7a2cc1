package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/record"
)

func TestCoerce_TimeFromString(t *testing.T) {
	f := &Field{Name: "at", Kind: KindTime}
	v, err := Coerce(f, record.String("2024-03-15T10:30:00Z"))
	require.NoError(t, err)
	at, ok := v.(record.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), at.Std())
}

func TestCoerce_TimeFromUnixMillis(t *testing.T) {
	f := &Field{Name: "at", Kind: KindTime}
	v, err := Coerce(f, record.Int(1710498600000))
	require.NoError(t, err)
	at, ok := v.(record.Time)
	require.True(t, ok)
	assert.Equal(t, int64(1710498600000), at.Std().UnixMilli())
}

func TestCoerce_Idempotent(t *testing.T) {
	f := &Field{Name: "at", Kind: KindTime}
	now := record.Time(time.Now().UTC())
	v, err := Coerce(f, now)
	require.NoError(t, err)
	assert.Equal(t, now, v)
}

func TestCoerce_NumericWidening(t *testing.T) {
	v, err := Coerce(&Field{Name: "n", Kind: KindFloat}, record.Int(3))
	require.NoError(t, err)
	assert.Equal(t, record.Float(3), v)

	v, err = Coerce(&Field{Name: "n", Kind: KindInt}, record.Float(3.0))
	require.NoError(t, err)
	assert.Equal(t, record.Int(3), v)

	_, err = Coerce(&Field{Name: "n", Kind: KindInt}, record.Float(3.5))
	assert.Error(t, err)
}

func TestCoerce_BytesFromBase64(t *testing.T) {
	v, err := Coerce(&Field{Name: "b", Kind: KindBytes}, record.String("aGVsbG8="))
	require.NoError(t, err)
	assert.Equal(t, record.Bytes("hello"), v)

	_, err = Coerce(&Field{Name: "b", Kind: KindBytes}, record.String("not base64!!"))
	assert.Error(t, err)
}

func TestCoerce_NullPassesThrough(t *testing.T) {
	v, err := Coerce(&Field{Name: "s", Kind: KindString}, nil)
	require.NoError(t, err)
	assert.True(t, record.IsNull(v))
}

func TestCoerce_ListElements(t *testing.T) {
	f := &Field{Name: "tags", Kind: KindString, List: true}
	v, err := Coerce(f, record.List{record.String("a"), record.String("b")})
	require.NoError(t, err)
	assert.Equal(t, record.List{record.String("a"), record.String("b")}, v)

	_, err = Coerce(f, record.String("not a list"))
	assert.Error(t, err)
}

func TestCoerce_KindMismatch(t *testing.T) {
	_, err := Coerce(&Field{Name: "s", Kind: KindString}, record.Int(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot coerce")
}

func TestDecodeRecord_NormalizesWireJSON(t *testing.T) {
	reg, err := NewRegistry(&Model{
		Name: "event",
		Fields: []Field{
			{Name: "id", Kind: KindString},
			{Name: "at", Kind: KindTime},
			{Name: "count", Kind: KindInt},
		},
		PrimaryKey: []string{"id"},
	})
	require.NoError(t, err)
	m, err := reg.Model("event")
	require.NoError(t, err)

	rec, err := DecodeRecord(m, []byte(`{"id":"e1","at":"2024-03-15T10:30:00Z","count":3}`))
	require.NoError(t, err)
	_, isTime := rec["at"].(record.Time)
	assert.True(t, isTime)
	assert.Equal(t, record.Int(3), rec["count"])
}
