package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the stable category reported to callers as the error code
type ErrorKind string

const (
	KindUnauthorized     ErrorKind = "UNAUTHORIZED"
	KindRateLimited      ErrorKind = "RATE_LIMITED"
	KindPermissionDenied ErrorKind = "PERMISSION_DENIED"
	KindQuotaExceeded    ErrorKind = "QUOTA_EXCEEDED"
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindEngine           ErrorKind = "ENGINE_ERROR"
	KindStore            ErrorKind = "STORE_ERROR"
)

// Error is the gateway error type. Message is safe to show to callers; Err is internal detail.
type Error struct {
	Kind    ErrorKind
	Message string
	Meta    map[string]interface{}
	Err     error

	// RetryAfter is set on RATE_LIMITED errors
	RetryAfter time.Duration
}

// Sentinels for errors.Is; they match any *Error of the same kind
var (
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrQuotaExceeded    = &Error{Kind: KindQuotaExceeded}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrEngine           = &Error{Kind: KindEngine}
	ErrStore            = &Error{Kind: KindStore}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// AsError extracts the gateway error from a chain
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func permissionDenied(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func storeError(op string, err error) *Error {
	return &Error{Kind: KindStore, Message: op, Err: err}
}

func engineError(op string, err error, retryable bool) *Error {
	return &Error{Kind: KindEngine, Message: op, Err: err, Meta: map[string]interface{}{"retryable": retryable}}
}
