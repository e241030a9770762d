package channel

import "errors"

// Channel errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnClosed       = errors.New("connection closed")
	ErrWriteChannelFull = errors.New("write channel full")
	ErrKicked           = errors.New("kicked by server")
	ErrChannelClosed    = errors.New("channel closed")
)
