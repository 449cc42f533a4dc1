package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	CodeInvalidConfig   ErrorCode = "INVALID_CONFIG"
	CodeInconsistent    ErrorCode = "INCONSISTENT"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeUnavailable     ErrorCode = "UNAVAILABLE"
	CodeInternal        ErrorCode = "INTERNAL"
	CodeCanceled        ErrorCode = "CANCELED"
)

var (
	// ErrToolNotFound indicates the tool id is unknown at invocation time.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolNotReady indicates the tool's health state is not READY.
	ErrToolNotReady = errors.New("tool not ready")
	// ErrUnknownServer indicates the server id is absent from the catalog.
	ErrUnknownServer = errors.New("unknown server")
	// ErrConnectionClosed indicates the transport connection is closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBusClosed indicates the event bus has been shut down.
	ErrBusClosed = errors.New("event bus closed")
	// ErrExecutionNotFound indicates no live execution context for the id.
	ErrExecutionNotFound = errors.New("execution not found")
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

// CodeFrom resolves the error code for an error, including sentinels.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrToolNotFound), errors.Is(err, ErrExecutionNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrUnknownServer):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrToolNotReady), errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrBusClosed):
		return CodeUnavailable, true
	default:
		return "", false
	}
}
