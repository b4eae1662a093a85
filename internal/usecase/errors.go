package usecase

import "fmt"

// ErrorCode classifies a failure per the application's taxonomy. Nothing
// here is fatal; every code degrades to a dismissible notice upstream.
type ErrorCode string

const (
	ErrorAuth         ErrorCode = "AUTH_FAILURE"
	ErrorSync         ErrorCode = "SYNC_FAILURE"
	ErrorSuggestion   ErrorCode = "SUGGESTION_FAILURE"
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
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
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
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
