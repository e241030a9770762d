package entity

import "time"

// ConnectionState is the lifecycle state of the realtime channel
type ConnectionState int32

const (
	StateActive ConnectionState = iota
	StateGracePeriod
	StateDisconnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateGracePeriod:
		return "grace_period"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionStateChange is emitted on every state transition
type ConnectionStateChange struct {
	From   ConnectionState
	To     ConnectionState
	At     time.Time
	Reason string
	// Err is set when the transition was caused by a transport failure
	Err error
}

// PlaybackToken identifies the resource that currently owns audio output
type PlaybackToken struct {
	Id         string
	Resource   string
	StartedAt  time.Time
	Generation uint64
}
