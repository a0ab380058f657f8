package relay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/llm"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorRateLimited  ErrorCode = "RATE_LIMITED"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorCanceled     ErrorCode = "CLIENT_CLOSED"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("relay: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("relay: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// upstreamError classifies a provider failure.
func upstreamError(reason string, err error) *Error {
	if llm.IsRateLimited(err) {
		return newError(ErrorRateLimited, reason, err)
	}
	return newError(ErrorUpstream, reason, err)
}

// CodeOf returns the relay code carried by err, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.Code
	}
	return ErrorInternal
}

// HTTPStatus maps a relay error onto the status returned before any body byte is sent.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrorInvalidInput:
		return http.StatusBadRequest
	case ErrorRateLimited:
		return http.StatusTooManyRequests
	case ErrorUpstream:
		return http.StatusBadGateway
	case ErrorCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is a client-safe description of err.
func PublicMessage(err error) string {
	var rErr *Error
	if !errors.As(err, &rErr) {
		return "internal error"
	}
	switch rErr.Code {
	case ErrorInvalidInput:
		return "invalid input: " + rErr.Reason
	case ErrorRateLimited:
		return "the assistant is busy, please retry shortly"
	case ErrorUpstream:
		return "the assistant is unavailable right now"
	case ErrorCanceled:
		return "request canceled"
	default:
		return "internal error"
	}
}
