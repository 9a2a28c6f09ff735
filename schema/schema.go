// Package schema validates and decodes the raw JSON payloads carried by
// operations and big-map diffs (parameters, storage, keys, values)
// against a handler's declared shape.
//
// No JSON-schema library appears anywhere in the example pack (see
// DESIGN.md), so this is a deliberately small stdlib-based decoder: a
// Schema is anything that can unmarshal and validate a json.RawMessage
// into a Go value. Handlers declare schemas as Go types; callers get one
// with For[T]().
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Schema decodes and validates a raw JSON payload into a domain value.
type Schema interface {
	// Name identifies the schema for diagnostics, e.g. a generated type
	// name such as "TransferParameter".
	Name() string
	// Decode validates raw against the schema and returns the decoded
	// value, or an error if raw does not conform.
	Decode(raw json.RawMessage) (any, error)
}

// typed is a Schema backed by a concrete Go type, decoded via
// encoding/json and rejected if any field fails json.Unmarshal's own
// type checks or if raw is not valid JSON at all.
type typed struct {
	name string
	typ  reflect.Type
}

// For builds a Schema whose decoded value is a *T.
func For[T any](name string) Schema {
	var zero T
	return &typed{name: name, typ: reflect.TypeOf(zero)}
}

func (t *typed) Name() string { return t.name }

func (t *typed) Decode(raw json.RawMessage) (any, error) {
	out := reflect.New(t.typ)
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return nil, &InvalidDataError{Schema: t.name, Raw: append(json.RawMessage(nil), raw...), Cause: err}
	}
	return out.Interface(), nil
}

// InvalidDataError reports a schema validation failure. Source, when
// set by the caller, carries the originating event for diagnostics
// (spec.md §7).
type InvalidDataError struct {
	Schema string
	Raw    json.RawMessage
	Source any
	Cause  error
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid data for schema %q: %v (raw=%s)", e.Schema, e.Cause, string(e.Raw))
}

func (e *InvalidDataError) Unwrap() error { return e.Cause }

// WithSource returns a copy of err with Source attached, used by the
// matcher once it knows which operation or big-map diff triggered the
// failure.
func WithSource(err error, source any) error {
	var ide *InvalidDataError
	if ok := asInvalidData(err, &ide); !ok {
		return err
	}
	clone := *ide
	clone.Source = source
	return &clone
}

func asInvalidData(err error, target **InvalidDataError) bool {
	for err != nil {
		if ide, ok := err.(*InvalidDataError); ok {
			*target = ide
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
