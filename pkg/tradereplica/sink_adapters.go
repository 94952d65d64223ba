package tradereplica

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("tradereplica: channel sink closed")

// EnvelopeHandler receives one forwarded envelope.
type EnvelopeHandler func(ctx context.Context, env Envelope) error

// NewCallbackSink adapts a function into a Sink so callers can plug
// arbitrary handlers without defining structs. A panicking handler is
// isolated by the replicator like any other sink.
func NewCallbackSink(name string, fn EnvelopeHandler) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes envelopes via a channel; it returns the sink, the
// read-only channel, and a close function the caller may invoke to stop
// reading early. The channel is closed when the replicator closes the sink,
// so a range over it ends after shutdown. Commits block while the channel
// is full, which stalls the replicator for every sink.
func NewChannelSink(name string, buffer int) (Sink, <-chan Envelope, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Envelope, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { _ = s.Close() }
}

type callbackSink struct {
	name string
	fn   EnvelopeHandler
}

func (s *callbackSink) Commit(ctx context.Context, env Envelope) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	return s.fn(ctx, env)
}

func (s *callbackSink) Name() string { return s.name }
func (s *callbackSink) Close() error { return nil }

type channelSink struct {
	name   string
	mu     sync.RWMutex
	ch     chan Envelope
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) Commit(ctx context.Context, env Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- env:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) Close() error {
	s.once.Do(func() {
		// wakes blocked commits so they release the read lock
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
