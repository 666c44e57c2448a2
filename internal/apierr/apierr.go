// Package apierr defines BeadHub's error taxonomy (spec.md §7) and the glue
// that turns an internal error into the HTTP status + envelope the external
// interface promises.
//
// Error code guidelines (mirrors the guidance comment in the upstream
// rpcserver package, adapted from Connect codes to HTTP statuses):
//   - CodeValidation:     bad UUID, invalid alias, malformed cursor (422)
//   - CodeFormat:         JSONL too big/deep/many entries (400)
//   - CodeAuthentication: missing/invalid bearer token or proxy signature (401)
//   - CodeAuthorization:  actor-binding violation, cross-project access (403)
//   - CodeNotFound:       project/workspace/bead/claim/subscription unknown (404)
//   - CodeGone:           workspace or repo soft-deleted (410)
//   - CodeConflict:       alias uniqueness, bead already claimed (409)
//   - CodeInternal:       unexpected error (500); all expected states above
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the eight HTTP error classes from spec.md §7.
type Code int

const (
	CodeInternal Code = iota
	CodeValidation
	CodeFormat
	CodeAuthentication
	CodeAuthorization
	CodeNotFound
	CodeGone
	CodeConflict
)

// Error is a typed API error carrying the HTTP status it maps to.
type Error struct {
	Code    Code
	Message string
	Err     error // optional wrapped cause, not shown to the client
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for e.Code.
func (e *Error) Status() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeFormat:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeGone:
		return http.StatusGone
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newErr(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Validationf builds a 422 validation error.
func Validationf(format string, a ...any) *Error {
	return newErr(CodeValidation, fmt.Sprintf(format, a...), nil)
}

// Formatf builds a 400 malformed-payload error.
func Formatf(format string, a ...any) *Error {
	return newErr(CodeFormat, fmt.Sprintf(format, a...), nil)
}

// Authentication builds the fixed 401 "Authentication required" error (spec
// deliberately keeps this message constant so it never leaks which check
// failed).
func Authentication() *Error {
	return newErr(CodeAuthentication, "Authentication required", nil)
}

// Authorizationf builds a 403 error.
func Authorizationf(format string, a ...any) *Error {
	return newErr(CodeAuthorization, fmt.Sprintf(format, a...), nil)
}

// NotFoundf builds a 404 error.
func NotFoundf(format string, a ...any) *Error {
	return newErr(CodeNotFound, fmt.Sprintf(format, a...), nil)
}

// Gonef builds a 410 error.
func Gonef(format string, a ...any) *Error {
	return newErr(CodeGone, fmt.Sprintf(format, a...), nil)
}

// Conflictf builds a 409 error.
func Conflictf(format string, a ...any) *Error {
	return newErr(CodeConflict, fmt.Sprintf(format, a...), nil)
}

// Internal wraps an unexpected error as a 500. The message shown to the
// client is generic; err is logged server-side by the caller.
func Internal(err error) *Error {
	return newErr(CodeInternal, "internal error", err)
}

// As extracts an *Error from err, falling back to a generic Internal error
// when err isn't one of ours.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
