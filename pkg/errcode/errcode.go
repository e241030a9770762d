package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
		err:  err,
	}
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target carries the same code, so wrapped errors
// still match their sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternalServer = New(1002, "internal server error")
	ErrUnauthorized   = New(1003, "unauthorized")
	ErrNotFound       = New(1005, "not found")

	// Auth errors (2xxx)
	ErrTokenInvalid = New(2001, "token invalid")
	ErrTokenExpired = New(2002, "token expired")
	ErrTokenMissing = New(2003, "token missing")

	// Message errors (4xxx)
	ErrConvNotFound = New(4003, "conversation not found")
	ErrSendFailed   = New(4005, "message send failed")
	ErrPullFailed   = New(4006, "message pull failed")

	// Connection errors (5xxx)
	ErrConnClosed       = New(5002, "connection closed")
	ErrInvalidProtocol  = New(5003, "invalid protocol")
	ErrConnectFailed    = New(5005, "connect failed")
	ErrRequestTimeout   = New(5006, "request timeout")
	ErrReconnectAborted = New(5007, "reconnect aborted")

	// Cache errors (6xxx)
	ErrMutationFailed = New(6001, "conversation update failed")
	ErrRefetchFailed  = New(6002, "conversation refetch failed")
	ErrSearchFailed   = New(6003, "conversation search failed")

	// Playback errors (7xxx)
	ErrPlaybackConflict    = New(7001, "failed to stop previous playback")
	ErrPlaybackStartFailed = New(7002, "playback start failed")
	ErrPlaybackPreempted   = New(7003, "playback preempted")

	// Session errors (8xxx)
	ErrSessionClosed = New(8001, "session closed")
)
