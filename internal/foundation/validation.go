// Package foundation holds small building blocks shared by the config and
// command layers.
package foundation

import (
	"fmt"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

// Validator checks one aspect of a value.
type Validator[T any] func(T) ValidationResult

// FieldError is a single validation failure. Field is a dotted path such as
// "daemon.queue_size".
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (fe FieldError) Error() string {
	if fe.Field == "" {
		return fe.Message
	}
	return fe.Field + ": " + fe.Message
}

// ValidationResult collects field errors. The zero value is valid.
type ValidationResult struct {
	Errors []FieldError
}

// Valid returns an empty result.
func Valid() ValidationResult { return ValidationResult{} }

// Invalid returns a result holding errs.
func Invalid(errs ...FieldError) ValidationResult { return ValidationResult{Errors: errs} }

// NewValidationError builds a FieldError.
func NewValidationError(field, code, message string) FieldError {
	return FieldError{Field: field, Code: code, Message: message}
}

// OK reports whether no errors were collected.
func (vr ValidationResult) OK() bool { return len(vr.Errors) == 0 }

// Combine returns the union of both results.
func (vr ValidationResult) Combine(other ValidationResult) ValidationResult {
	if other.OK() {
		return vr
	}
	out := make([]FieldError, 0, len(vr.Errors)+len(other.Errors))
	out = append(out, vr.Errors...)
	return ValidationResult{Errors: append(out, other.Errors...)}
}

// Check adds a failure for field when ok is false.
func (vr ValidationResult) Check(ok bool, field, code, message string) ValidationResult {
	if ok {
		return vr
	}
	return vr.Combine(Invalid(NewValidationError(field, code, message)))
}

// ToError returns nil for a valid result, or one validation error listing
// every failure. The failing fields are attached as context.
func (vr ValidationResult) ToError() error {
	if vr.OK() {
		return nil
	}
	messages := make([]string, 0, len(vr.Errors))
	fields := make([]string, 0, len(vr.Errors))
	for _, fe := range vr.Errors {
		messages = append(messages, fe.Error())
		fields = append(fields, fe.Field)
	}
	return ferrors.ValidationError(strings.Join(messages, "; ")).
		WithContext("fields", fields).
		Build()
}

// ValidatorChain runs validators in order and collects every failure.
type ValidatorChain[T any] struct {
	validators []Validator[T]
}

// NewValidatorChain creates a new validator chain.
func NewValidatorChain[T any](validators ...Validator[T]) *ValidatorChain[T] {
	return &ValidatorChain[T]{validators: validators}
}

// Add appends a validator to the chain.
func (vc *ValidatorChain[T]) Add(v Validator[T]) *ValidatorChain[T] {
	vc.validators = append(vc.validators, v)
	return vc
}

// Validate runs all validators in the chain.
func (vc *ValidatorChain[T]) Validate(value T) ValidationResult {
	result := Valid()
	for _, v := range vc.validators {
		result = result.Combine(v(value))
	}
	return result
}

// NonNegative fails when d is negative. Zero disables the setting it guards.
func NonNegative(field string, d time.Duration) ValidationResult {
	return Valid().Check(d >= 0, field, "negative", "must not be negative")
}

// Positive fails unless d is greater than zero.
func Positive(field string, d time.Duration) ValidationResult {
	return Valid().Check(d > 0, field, "positive", "must be positive")
}

// InRange fails unless lo <= v <= hi.
func InRange(field string, v, lo, hi float64) ValidationResult {
	return Valid().Check(v >= lo && v <= hi, field, "range",
		fmt.Sprintf("must be within [%g, %g], got %g", lo, hi, v))
}
