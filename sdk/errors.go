package sdk

import (
	"context"
	"errors"
	"fmt"

	errs "github.com/cloudwego/hertz/pkg/common/errors"
)

// ErrTransport marks a request that failed before a response was read, so
// the server may or may not have acted on it
var ErrTransport = errors.New("transport failure")

// Error represents an API error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %d, msg: %s", e.Code, e.Msg)
}

// Is matches API errors by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new error
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// CodeOf returns the API code carried by err, or -1 when err is not an API error
func CodeOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return -1
}

// IsTimeout reports whether err is a dial or read timeout
func IsTimeout(err error) bool {
	return errors.Is(err, errs.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsAuthError reports whether err means the token must be renewed
func IsAuthError(err error) bool {
	switch CodeOf(err) {
	case CodeUnauthorized, CodeTokenInvalid, CodeTokenExpired, CodeTokenMissing:
		return true
	default:
		return false
	}
}

// Error codes returned by the backend
const (
	CodeSuccess = 0

	// Common errors (1xxx)
	CodeInvalidParam    = 1001
	CodeInternalServer  = 1002
	CodeUnauthorized    = 1003
	CodeForbidden       = 1004
	CodeNotFound        = 1005
	CodeTooManyRequests = 1006

	// Auth errors (2xxx)
	CodeTokenInvalid = 2001
	CodeTokenExpired = 2002
	CodeTokenMissing = 2003
	CodeLoginFailed  = 2005

	// Message errors (4xxx)
	CodeMessageNotFound = 4001
	CodeConvNotFound    = 4003
	CodeSendFailed      = 4005
	CodePullFailed      = 4006
)

// Predefined errors
var (
	ErrUnauthorized = NewError(CodeUnauthorized, "unauthorized")
	ErrNotFound     = NewError(CodeNotFound, "not found")
	ErrTokenExpired = NewError(CodeTokenExpired, "token expired")
	ErrConvNotFound = NewError(CodeConvNotFound, "conversation not found")
)
