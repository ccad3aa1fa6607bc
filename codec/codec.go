// Package codec exposes the shared payload/result codec metadata used to
// describe a capability's wire format. It is deliberately small: the broker
// never generates Go types from JSON Schema, it only carries the schema
// bytes alongside a generic JSON codec so callers can attach strongly typed
// marshaling when they have a concrete Go type for a capability.
package codec

import "encoding/json"

// Default returns a JSONCodec backed directly by encoding/json, suitable
// for any type that round-trips through standard struct tags.
func Default[T any]() JSONCodec[T] {
	return JSONCodec[T]{
		ToJSON: func(v T) ([]byte, error) { return json.Marshal(v) },
		FromJSON: func(data []byte) (T, error) {
			var v T
			err := json.Unmarshal(data, &v)
			return v, err
		},
	}
}

// JSONCodec serializes and deserializes strongly typed values to and from
// canonical JSON. Default() returns one backed by encoding/json; the zero
// value has nil ToJSON/FromJSON functions.
type JSONCodec[T any] struct {
	// ToJSON encodes the value into canonical JSON.
	ToJSON func(T) ([]byte, error)
	// FromJSON decodes the JSON payload into the typed value.
	FromJSON func([]byte) (T, error)
}

// TypeSpec describes the payload or result schema for a capability.
type TypeSpec struct {
	// Name is the Go identifier associated with the type, when one exists.
	Name string
	// Schema contains the JSON Schema definition validated at routing time.
	Schema []byte
	// Codec serializes and deserializes values matching the type.
	Codec JSONCodec[any]
	// ExampleInput is an optional example payload surfaced in retry hints
	// when a caller's arguments fail validation.
	ExampleInput map[string]any
}

// Ident is the strong type for fully qualified capability identifiers
// (e.g. "agent-name.capability-id"). Using a distinct type keeps capability
// identifiers from being mixed up with free-form strings in router maps.
type Ident string

// String returns the identifier as a plain string.
func (i Ident) String() string {
	return string(i)
}

// FieldIssue represents a single validation issue found while checking a
// message payload against a capability's InputSchema. Constraint values
// mirror the JSON Schema vocabulary the broker validates against.
type FieldIssue struct {
	Field      string
	Constraint string
	Allowed    []string
	Pattern    string
}
