// Package domainerrors provides coded errors for domain and service layers.
//
// Services wrap store sentinels or construct new coded errors; the HTTP layer
// maps codes to status codes and response bodies. Codes are part of the API
// contract: callers branch on them to decide between retry, fix-input, and
// give-up.
package domainerrors

import "errors"

// Code classifies an error for callers.
type Code string

const (
	// CodeValidation marks a malformed profile input (bad CNAE code, unknown
	// UF). The derive/reevaluate call is aborted with no partial writes.
	CodeValidation Code = "validation"

	// CodeCatalogIntegrity marks a rejected catalog load (duplicate rule code,
	// dangling supersedes reference). The previous version stays active.
	CodeCatalogIntegrity Code = "catalog_integrity"

	// CodeInvalidTransition marks a status change the lifecycle state machine
	// does not permit. The obligation is left untouched.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeBusy marks a re-evaluation already running for the company. The
	// caller retries; work is never silently queued.
	CodeBusy Code = "busy"

	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"
)

// Error carries a code, a caller-facing message, and an optional cause.
type Error struct {
	code  Code
	msg   string
	cause error
}

func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func Wrap(cause error, code Code, msg string) *Error {
	return &Error{code: code, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Code() Code { return e.code }

func (e *Error) Message() string { return e.msg }

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in this package.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}
