package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeInvalidRequest = "invalid_request"
	CodeRateLimited    = "rate_limited"
	CodeQuotaExhausted = "quota_exhausted"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Unauthorized(msg string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, errors.New(msg))
}

func Forbidden(msg string) *Error {
	return New(http.StatusForbidden, CodeForbidden, errors.New(msg))
}

func NotFound(msg string) *Error {
	return New(http.StatusNotFound, CodeNotFound, errors.New(msg))
}

func Invalid(msg string) *Error {
	return New(http.StatusBadRequest, CodeInvalidRequest, errors.New(msg))
}

// FromUpstream maps an upstream HTTP status onto the taxonomy. 429 and 402
// keep their status so callers can back off.
func FromUpstream(status int, err error) *Error {
	switch status {
	case http.StatusTooManyRequests:
		return New(status, CodeRateLimited, err)
	case http.StatusPaymentRequired:
		return New(status, CodeQuotaExhausted, err)
	case http.StatusUnauthorized:
		return New(http.StatusBadGateway, CodeUpstream, err)
	}
	if status >= 400 && status < 500 {
		return New(status, CodeInvalidRequest, err)
	}
	return New(http.StatusBadGateway, CodeUpstream, err)
}

// As extracts an *Error from err, falling back to a 500.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e
	}
	return New(http.StatusInternalServerError, CodeInternal, err)
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e != nil && e.Code == code
}
