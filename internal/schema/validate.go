package schema

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/replica/internal/record"
)

// Validator is the capability assumed by the sync path: parse unknown input
// into a typed record's shape or reject it.
type Validator interface {
	Validate(rec record.Record) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(rec record.Record) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(rec record.Record) error { return f(rec) }

// CueValidator validates records against a CUE definition.
//
// The schema source is compiled once; Validate unifies each record with the
// definition and requires the result to be concrete and error-free.
//
// Example:
//
//	v, err := NewCueValidator(`#User: { id: string, age: int & >=0 }`, "#User")
//	if err != nil { ... }
//	model.Validator = v
type CueValidator struct {
	schema cue.Value
}

// NewCueValidator compiles a CUE source and looks up the definition at
// path (e.g. "#User"). An empty path uses the whole compiled value.
func NewCueValidator(source, path string) (*CueValidator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("schema: compile CUE: %s", cueerrors.Details(err, nil))
	}
	if path != "" {
		v = v.LookupPath(cue.ParsePath(path))
		if !v.Exists() {
			return nil, fmt.Errorf("schema: CUE path %q not found", path)
		}
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("schema: CUE path %q: %s", path, cueerrors.Details(err, nil))
		}
	}
	return &CueValidator{schema: v}, nil
}

// Validate implements Validator. The record is serialized to JSON (a valid
// CUE expression), unified with the schema, and checked for concreteness.
func (cv *CueValidator) Validate(rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("schema: serialize record: %w", err)
	}
	val := cv.schema.Context().CompileBytes(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("schema: parse record: %s", cueerrors.Details(err, nil))
	}
	unified := cv.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: record rejected: %s", cueerrors.Details(err, nil))
	}
	return nil
}
