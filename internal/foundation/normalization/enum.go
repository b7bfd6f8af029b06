// Package normalization maps loosely written configuration and command
// values (mixed case, padding, aliases) onto typed enums.
package normalization

import (
	"slices"
	"strings"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

// Key folds raw into the form enum keys are stored in.
func Key(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Enum resolves strings to values of T. Several keys may alias one value.
type Enum[T comparable] struct {
	name     string
	values   map[string]T
	keys     []string
	fallback T
}

// NewEnum builds an Enum. name appears in error messages; fallback is what
// Normalize returns for unknown input.
func NewEnum[T comparable](name string, values map[string]T, fallback T) *Enum[T] {
	e := &Enum[T]{name: name, values: make(map[string]T, len(values)), fallback: fallback}
	for k, v := range values {
		k = Key(k)
		e.values[k] = v
		e.keys = append(e.keys, k)
	}
	slices.Sort(e.keys)
	return e
}

// Normalize returns the value for raw, or the fallback.
func (e *Enum[T]) Normalize(raw string) T {
	if v, ok := e.values[Key(raw)]; ok {
		return v
	}
	return e.fallback
}

// Parse returns the value for raw or a validation error naming the
// accepted keys.
func (e *Enum[T]) Parse(raw string) (T, error) {
	if v, ok := e.values[Key(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, ferrors.ValidationError("invalid "+e.name).
		WithContext("value", raw).
		WithContext("valid", strings.Join(e.keys, ", ")).
		Build()
}

// Valid reports whether raw names a known value.
func (e *Enum[T]) Valid(raw string) bool {
	_, ok := e.values[Key(raw)]
	return ok
}

// Keys returns the accepted keys, sorted.
func (e *Enum[T]) Keys() []string { return slices.Clone(e.keys) }
