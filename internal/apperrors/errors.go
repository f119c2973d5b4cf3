// Package apperrors provides the hub platform's unified error taxonomy.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a domain error kind, independent of its HTTP rendering.
type Code string

const (
	CodeValidation    Code = "validation"
	CodeUnauthorized  Code = "unauthorized"
	CodeForbidden     Code = "forbidden"
	CodeRateLimited   Code = "rate_limited"
	CodeNotFound      Code = "not_found"
	CodeConflict      Code = "conflict"
	CodeUpstream      Code = "upstream"
	CodeUnavailable   Code = "unavailable"
	CodeInternal      Code = "internal"
	CodeBundleInvalid Code = "bundle_invalid"
)

var statusByCode = map[Code]int{
	CodeValidation:    http.StatusBadRequest,
	CodeUnauthorized:  http.StatusUnauthorized,
	CodeForbidden:     http.StatusForbidden,
	CodeRateLimited:   http.StatusTooManyRequests,
	CodeNotFound:      http.StatusNotFound,
	CodeConflict:      http.StatusConflict,
	CodeUpstream:      http.StatusBadGateway,
	CodeUnavailable:   http.StatusServiceUnavailable,
	CodeInternal:      http.StatusInternalServerError,
	CodeBundleInvalid: http.StatusBadRequest,
}

// Error is the structured domain error returned by hub collaborators.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches structured context to the error and returns it for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds a domain error of the given code with its default HTTP status.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: statusByCode[code]}
}

// Wrap builds a domain error that carries an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: statusByCode[code], Err: err}
}

func Validation(message string) *Error   { return New(CodeValidation, message) }
func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }
func Forbidden(message string) *Error    { return New(CodeForbidden, message) }
func NotFound(message string) *Error     { return New(CodeNotFound, message) }
func Conflict(message string) *Error     { return New(CodeConflict, message) }
func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}
func Upstream(message string, err error) *Error {
	return Wrap(CodeUpstream, message, err)
}
func Unavailable(message string) *Error { return New(CodeUnavailable, message) }
func BundleInvalid(message string) *Error {
	return New(CodeBundleInvalid, message)
}

// RateLimited builds a 429 with the fixed retry-after the token bucket reports.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		HTTPStatus: statusByCode[CodeRateLimited],
		RetryAfter: retryAfter,
	}
}

// As extracts an *Error from an error chain, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HTTPStatus returns the HTTP status code for any error, defaulting to 500.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
