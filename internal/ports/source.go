package ports

import (
	"context"
	"time"
)

// ConnState is the connectivity status shared by sources and sinks.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Source owns one trading-server session and pushes its change events.
type Source interface {
	ID() int
	// Start connects and keeps the session alive until ctx is done or
	// Disconnect is called. It does not block.
	Start(ctx context.Context, out Publisher) error
	// StopPumping stops accepting events. Later callbacks are discarded.
	StopPumping()
	Disconnect() error
	SyncMargins(ctx context.Context) error
	State() ConnState
	LastActivity() time.Time
}
