package app

import (
	"errors"
	"fmt"

	"contentflow/internal/store"
)

const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeRemoteFailure   = "REMOTE_FAILURE"

	DetailUnauthorized = "UNAUTHORIZED"
	DetailForbidden    = "FORBIDDEN"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is the directory's sentinel so remote not-found errors
	// match without being rewrapped.
	ErrNotFound      = store.ErrNotFound
	ErrRemoteFailure = errors.New("remote failure")
)

type DomainError struct {
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches the class sentinel for the error's code.
func (e *DomainError) Is(target error) bool {
	switch target {
	case ErrInvalidArgument:
		return e.Code == CodeInvalidArgument
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrRemoteFailure:
		return e.Code == CodeRemoteFailure
	}
	return false
}

func domainError(code, message string, details any) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

func invalidArgument(format string, args ...any) error {
	return domainError(CodeInvalidArgument, fmt.Sprintf(format, args...), nil)
}

func remoteFailure(detail, message string, cause error) error {
	err := domainError(CodeRemoteFailure, message, nil)
	if detail != "" {
		err.Details = detail
	}
	err.Err = cause
	return err
}

// Classify maps err onto one of the three error codes. Errors that are
// neither invalid input nor a missing object count as remote failures.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeRemoteFailure
	}
}
