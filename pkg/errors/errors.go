// Package errors defines the public error taxonomy of the MUSAP signature client.
// Every public operation fails with a MusapError carrying one of the stable codes
// from the constants package; lower-level causes are kept in the error chain.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/methics/musap-ios-sub000/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// MusapError represents a structured error with additional metadata
type MusapError interface {
	error

	// Code returns the stable integrator-facing error code
	Code() constants.ErrorCode

	// Description returns a human-readable description of the error class
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) MusapError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) MusapError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	code        constants.ErrorCode
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.description
}

func (e *baseError) Code() constants.ErrorCode {
	return e.code
}

func (e *baseError) Description() string {
	return e.description
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) WithCause(cause error) MusapError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) MusapError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// Is matches any MusapError with the same code, so errors.Is(err, ErrUnknownKey(""))
// works regardless of message.
func (e *baseError) Is(target error) bool {
	t, ok := target.(MusapError)
	return ok && t.Code() == e.code
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new MusapError with the specified parameters
func NewError(code constants.ErrorCode, description string, message string) MusapError {
	return &baseError{
		code:        code,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Taxonomy Constructors
// ================================================================================

// ErrWrongParam creates a wrong parameter error
func ErrWrongParam(message string) MusapError {
	return NewError(constants.ErrCodeWrongParam, "A parameter has an invalid value.", message)
}

// ErrMissingParam creates a missing parameter error
func ErrMissingParam(paramName string) MusapError {
	return NewError(constants.ErrCodeMissingParam, "A required parameter is missing.",
		fmt.Sprintf("missing required parameter: %s", paramName)).
		WithMetadata("parameter", paramName)
}

// ErrIllegalArgument creates an illegal argument error
func ErrIllegalArgument(message string) MusapError {
	return NewError(constants.ErrCodeIllegalArgument, "An argument is not allowed in this state.", message)
}

// ErrInvalidAlgorithm creates an invalid algorithm error
func ErrInvalidAlgorithm(algorithm string) MusapError {
	return NewError(constants.ErrCodeInvalidAlgorithm, "The algorithm is invalid or unsupported.",
		fmt.Sprintf("invalid algorithm: %s", algorithm)).
		WithMetadata("algorithm", algorithm)
}

// ErrUnknownKey creates an unknown key error
func ErrUnknownKey(ref string) MusapError {
	return NewError(constants.ErrCodeUnknownKey, "The key does not exist.",
		fmt.Sprintf("unknown key: %s", ref)).
		WithMetadata("key", ref)
}

// ErrKeyAlreadyExists creates a key already exists error
func ErrKeyAlreadyExists(alias string) MusapError {
	return NewError(constants.ErrCodeKeyAlreadyExists, "A key with the same alias already exists.",
		fmt.Sprintf("key already exists: %s", alias)).
		WithMetadata("alias", alias)
}

// ErrUnsupportedData creates an unsupported data error
func ErrUnsupportedData(message string) MusapError {
	return NewError(constants.ErrCodeUnsupportedData, "The data or operation is not supported.", message)
}

// ErrKeygenUnsupported creates a keygen unsupported error
func ErrKeygenUnsupported(sscd string) MusapError {
	return NewError(constants.ErrCodeKeygenUnsupported, "The SSCD does not support key generation.",
		fmt.Sprintf("key generation not supported by %s", sscd)).
		WithMetadata("sscd", sscd)
}

// ErrBindUnsupported creates a bind unsupported error
func ErrBindUnsupported(sscd string) MusapError {
	return NewError(constants.ErrCodeBindUnsupported, "The SSCD does not support key binding.",
		fmt.Sprintf("key binding not supported by %s", sscd)).
		WithMetadata("sscd", sscd)
}

// ErrTimedOut creates a timed out error
func ErrTimedOut(operation string) MusapError {
	return NewError(constants.ErrCodeTimedOut, "The operation timed out.",
		fmt.Sprintf("%s timed out", operation)).
		WithMetadata("operation", operation)
}

// ErrUserCancel creates a user cancel error
func ErrUserCancel() MusapError {
	return NewError(constants.ErrCodeUserCancel, "The user cancelled the operation.", "")
}

// ErrKeyBlocked creates a key blocked error
func ErrKeyBlocked(ref string) MusapError {
	return NewError(constants.ErrCodeKeyBlocked, "The key is blocked.",
		fmt.Sprintf("key blocked: %s", ref)).
		WithMetadata("key", ref)
}

// ErrSscdBlocked creates an SSCD blocked error
func ErrSscdBlocked(sscd string) MusapError {
	return NewError(constants.ErrCodeSscdBlocked, "The SSCD is blocked.",
		fmt.Sprintf("sscd blocked: %s", sscd)).
		WithMetadata("sscd", sscd)
}

// ErrSscdAlreadyExists creates an SSCD already exists error
func ErrSscdAlreadyExists(sscd string) MusapError {
	return NewError(constants.ErrCodeSscdAlreadyExists, "The SSCD already exists.",
		fmt.Sprintf("sscd already exists: %s", sscd)).
		WithMetadata("sscd", sscd)
}

// ErrInternal creates an internal error
func ErrInternal(message string) MusapError {
	return NewError(constants.ErrCodeInternal, "An unexpected internal error occurred.", message)
}

// ================================================================================
// Unsupported Operation
// ================================================================================

// Operation names a capability of an SSCD backend.
type Operation string

const (
	OpGenerateKey Operation = "generateKey"
	OpBindKey     Operation = "bindKey"
	OpSign        Operation = "sign"
)

// ErrUnsupportedOperation is returned by a backend that cannot perform op.
// The code follows the operation so callers see keygenUnsupported or
// bindUnsupported rather than a generic failure.
func ErrUnsupportedOperation(sscd string, op Operation) MusapError {
	var err MusapError
	switch op {
	case OpGenerateKey:
		err = ErrKeygenUnsupported(sscd)
	case OpBindKey:
		err = ErrBindUnsupported(sscd)
	default:
		err = ErrUnsupportedData(fmt.Sprintf("operation %s not supported by %s", op, sscd)).
			WithMetadata("sscd", sscd)
	}
	return err.WithMetadata("operation", string(op))
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsMusapError attempts to find a MusapError in the error chain
func AsMusapError(err error) (MusapError, bool) {
	var musapErr MusapError
	if stderrors.As(err, &musapErr) {
		return musapErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code
func IsCode(err error, code constants.ErrorCode) bool {
	if musapErr, ok := AsMusapError(err); ok {
		return musapErr.Code() == code
	}
	return false
}

// Translate maps any error onto the closest taxonomy member. Nil stays nil.
func Translate(err error) MusapError {
	if err == nil {
		return nil
	}
	if musapErr, ok := AsMusapError(err); ok {
		return musapErr
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return ErrTimedOut("operation").WithCause(err)
	case stderrors.Is(err, context.Canceled):
		return ErrUserCancel().WithCause(err)
	default:
		return ErrInternal(err.Error()).WithCause(err)
	}
}

// WrapError wraps a generic error into a MusapError with the given code
func WrapError(err error, code constants.ErrorCode, message string) MusapError {
	description := message
	if err != nil {
		description = err.Error()
	}
	return NewError(code, description, message).WithCause(err)
}
