package search

import "fmt"

// Code is the caller-visible classification of a failed search.
type Code string

// Error codes.
const (
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeMissingQuery        Code = "MISSING_QUERY"
	CodeInvalidQuery        Code = "INVALID_QUERY"
	CodeSearchLimitExceeded Code = "SEARCH_LIMIT_EXCEEDED"
	CodeInternal            Code = "INTERNAL_SERVER_ERROR"
)

// Caller-facing messages. Internal failures never expose their cause.
const (
	msgRateLimited  = "Too many requests. Please try again later."
	msgMissingQuery = "Query parameter is required."
	msgQueryTooLong = "Query is too long."
	msgInvalidQuery = "Query contains invalid characters."
	msgSearchLimit  = "Search limit exceeded. Please log in to continue."
	msgInternal     = "An internal error occurred."
)

// Error is returned by Service.ExecuteSearch for every failure.
type Error struct {
	Code    Code
	Message string
	// RetryAfter is the number of seconds to wait, set for CodeRateLimitExceeded.
	RetryAfter int
	// Err is the underlying cause, if any. It is logged, not shown.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func internalError(err error) *Error {
	return &Error{Code: CodeInternal, Message: msgInternal, Err: err}
}
