package domain

import (
	"errors"
	"strconv"
)

// RetriableError is implemented by failures a reconnect loop can recover from.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable reports whether err, or anything it wraps, is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// SourceConnectionError means a trading server is unreachable or refused the login.
type SourceConnectionError struct {
	Source int
	Op     string
	Err    error
}

func (e *SourceConnectionError) Error() string {
	return "source " + strconv.Itoa(e.Source) + " " + e.Op + ": " + e.Err.Error()
}

func (e *SourceConnectionError) IsRetriable() bool { return true }
func (e *SourceConnectionError) Unwrap() error     { return e.Err }

// SourceProtocolError marks a malformed or unexpected event. The event is dropped.
type SourceProtocolError struct {
	Source int
	Type   string
	Key    string
	Err    error
}

func (e *SourceProtocolError) Error() string {
	msg := "source " + strconv.Itoa(e.Source) + " bad " + e.Type + " event"
	if e.Key != "" {
		msg += " [" + e.Key + "]"
	}
	return msg + ": " + e.Err.Error()
}

func (e *SourceProtocolError) IsRetriable() bool { return false }
func (e *SourceProtocolError) Unwrap() error     { return e.Err }

// SinkConnectionError means the store is unreachable.
type SinkConnectionError struct {
	Sink string
	Op   string
	Err  error
}

func (e *SinkConnectionError) Error() string {
	return "sink " + e.Sink + " " + e.Op + ": " + e.Err.Error()
}

func (e *SinkConnectionError) IsRetriable() bool { return true }
func (e *SinkConnectionError) Unwrap() error     { return e.Err }

// SinkCommitError is a per-record failure such as a constraint violation.
type SinkCommitError struct {
	Sink string
	Kind Kind
	Key  string
	Err  error
}

func (e *SinkCommitError) Error() string {
	return "sink " + e.Sink + " commit " + e.Kind.String() + " [" + e.Key + "]: " + e.Err.Error()
}

func (e *SinkCommitError) IsRetriable() bool { return false }
func (e *SinkCommitError) Unwrap() error     { return e.Err }

// ConfigError is never retriable and aborts startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool { return false }
func (e *ConfigError) Unwrap() error     { return e.Err }

var (
	// ErrQueueClosed is returned by Push after the queue was shut down.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull is returned by Push under the reject policy.
	ErrQueueFull = errors.New("queue full")

	// ErrSinkDisconnected is returned by commits attempted during an outage.
	ErrSinkDisconnected = errors.New("sink disconnected")

	// ErrSourceStopped is returned by callbacks after pumping was stopped.
	ErrSourceStopped = errors.New("source stopped")

	// ErrNoSinks aborts startup.
	ErrNoSinks = errors.New("no sinks configured")
)
