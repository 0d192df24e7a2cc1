package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/record"
)

const userSchema = `
#User: {
	id:    string
	email: string
	age:   int & >=0
	...
}
`

func TestCueValidator_Accepts(t *testing.T) {
	v, err := NewCueValidator(userSchema, "#User")
	require.NoError(t, err)

	err = v.Validate(record.Record{
		"id":    record.String("u1"),
		"email": record.String("a@b.c"),
		"age":   record.Int(30),
	})
	assert.NoError(t, err)
}

func TestCueValidator_RejectsWrongType(t *testing.T) {
	v, err := NewCueValidator(userSchema, "#User")
	require.NoError(t, err)

	err = v.Validate(record.Record{
		"id":    record.String("u1"),
		"email": record.Int(42),
		"age":   record.Int(30),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record rejected")
}

func TestCueValidator_RejectsConstraintViolation(t *testing.T) {
	v, err := NewCueValidator(userSchema, "#User")
	require.NoError(t, err)

	err = v.Validate(record.Record{
		"id":    record.String("u1"),
		"email": record.String("a@b.c"),
		"age":   record.Int(-1),
	})
	assert.Error(t, err)
}

func TestCueValidator_UnknownPath(t *testing.T) {
	_, err := NewCueValidator(userSchema, "#Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCueValidator_BadSource(t *testing.T) {
	_, err := NewCueValidator(`#User: {`, "#User")
	assert.Error(t, err)
}

func TestValidatorFunc(t *testing.T) {
	called := false
	v := ValidatorFunc(func(rec record.Record) error {
		called = true
		return nil
	})
	require.NoError(t, v.Validate(record.Record{}))
	assert.True(t, called)
}
