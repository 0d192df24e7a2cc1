package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPath_EncodeRoundTrip(t *testing.T) {
	kp := KeyPath{String("user-1"), Int(42)}
	encoded, err := kp.Encode()
	require.NoError(t, err)
	assert.Equal(t, `["user-1",42]`, encoded)

	parsed, err := ParseKeyPath(encoded)
	require.NoError(t, err)
	assert.True(t, kp.Equal(parsed))
}

func TestKeyOf_FieldOrderDefinesPath(t *testing.T) {
	rec := Record{"a": Int(1), "b": Int(2)}
	ab := KeyOf(rec, []string{"a", "b"})
	ba := KeyOf(rec, []string{"b", "a"})
	assert.False(t, ab.Equal(ba))

	encoded, err := ab.Encode()
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, encoded)
}

func TestKeyOf_MissingFieldIsNull(t *testing.T) {
	kp := KeyOf(Record{"a": Int(1)}, []string{"a", "missing"})
	require.Len(t, kp, 2)
	assert.True(t, IsNull(kp[1]))
}
