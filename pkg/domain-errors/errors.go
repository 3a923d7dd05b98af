// Package domainerrors defines coded errors shared by services and transports.
//
// Services return *Error values so that handlers can translate them into
// stable wire codes without string matching. Infrastructure layers should
// return sentinel errors (pkg/platform/sentinel) and let services wrap them.
package domainerrors

import (
	"errors"
	"fmt"
	"maps"
)

// Code identifies a class of failure. Values are part of the public API.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeRateLimited        Code = "rate_limited"
	CodeInternal           Code = "internal_error"

	// Authorization taxonomy for key release.
	CodePolicyNotSatisfied   Code = "policy_not_satisfied"
	CodeUnauthorizedApprover Code = "unauthorized_approver"
	CodeDuplicateApproval    Code = "duplicate_approval"
	CodeQuorumNotReached     Code = "quorum_not_reached"
	CodeSignatureInvalid     Code = "signature_invalid"
	CodeAlreadyConsumed      Code = "already_consumed"
	CodeUnknownRequest       Code = "unknown_request"
	CodeLedgerUnavailable    Code = "ledger_unavailable"
	CodeRequestRejected      Code = "request_rejected"
)

// Error is a coded domain error. Details carries structured, caller-safe
// context (failed clause, rejected authority) for retry decisions.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error with the same code so callers can use errors.Is
// against a template built with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New builds an error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	maps.Copy(cp.Details, e.Details)
	cp.Details[key] = value
	return &cp
}

// CodeOf returns the code of the outermost *Error in the chain, or
// CodeInternal when err carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// Is is a convenience alias for errors.Is so callers importing this package
// need not also import errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
