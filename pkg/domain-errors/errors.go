// Package domainerrors defines coded errors returned by services.
//
// Stores return infrastructure sentinels (pkg/platform/sentinel); services
// translate them into coded errors so callers can distinguish a retryable race
// from an unmet business rule or a data-integrity failure without parsing
// messages.
package domainerrors

import (
	"errors"
	"strings"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeForbidden          Code = "forbidden"
	CodeUnauthorized       Code = "unauthorized"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"

	// Workflow codes.
	CodeInvalidTransition       Code = "invalid_transition"
	CodeSlotConflict            Code = "slot_conflict"
	CodeClearanceBlocked        Code = "clearance_blocked"
	CodeIncompleteDocumentation Code = "incomplete_documentation"
	CodeChainDiscontinuity      Code = "chain_discontinuity"
)

// Class groups codes by what the caller should do next.
type Class string

const (
	// ClassRetryable: the operation lost a race or timed out; retrying (against
	// a different resource where relevant) is safe.
	ClassRetryable Class = "retryable"
	// ClassRefetch: the caller acted on stale state and must re-read before deciding.
	ClassRefetch Class = "refetch"
	// ClassBusinessRule: a rule is not satisfied; surface it to the user.
	ClassBusinessRule Class = "business_rule"
	// ClassIntegrity: persisted data is inconsistent; escalate, never auto-correct.
	ClassIntegrity Class = "integrity"
	// ClassInternal: unexpected failure.
	ClassInternal Class = "internal"
)

var codeClasses = map[Code]Class{
	CodeSlotConflict:            ClassRetryable,
	CodeTimeout:                 ClassRetryable,
	CodeInvalidTransition:       ClassRefetch,
	CodeClearanceBlocked:        ClassBusinessRule,
	CodeIncompleteDocumentation: ClassBusinessRule,
	CodeInvalidInput:            ClassBusinessRule,
	CodeValidation:              ClassBusinessRule,
	CodeNotFound:                ClassBusinessRule,
	CodeConflict:                ClassRefetch,
	CodeForbidden:               ClassBusinessRule,
	CodeUnauthorized:            ClassBusinessRule,
	CodeInvariantViolation:      ClassBusinessRule,
	CodeChainDiscontinuity:      ClassIntegrity,
	CodeInternal:                ClassInternal,
}

// Error is a coded domain error. Details carries structured context such as
// the names of blocking clearance gates.
type Error struct {
	Code    Code
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg += " [" + strings.Join(e.Details, ", ") + "]"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// NewWithDetails creates a coded error carrying structured details.
func NewWithDetails(code Code, message string, details ...string) error {
	return &Error{Code: code, Message: message, Details: append([]string(nil), details...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any coded error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when err
// carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DetailsOf returns the details of the first coded error in the chain that has any.
func DetailsOf(err error) []string {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return nil
		}
		if len(de.Details) > 0 {
			return append([]string(nil), de.Details...)
		}
		err = de.Err
	}
	return nil
}

// ClassOf classifies err. An integrity code anywhere in the chain wins so a
// wrapped chain discontinuity is never downgraded.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	if HasCode(err, CodeChainDiscontinuity) {
		return ClassIntegrity
	}
	if class, ok := codeClasses[CodeOf(err)]; ok {
		return class
	}
	return ClassInternal
}

// Retryable reports whether the caller may safely retry.
func Retryable(err error) bool {
	return ClassOf(err) == ClassRetryable
}

// IsIntegrity reports whether err signals corrupted persisted state.
func IsIntegrity(err error) bool {
	return ClassOf(err) == ClassIntegrity
}
