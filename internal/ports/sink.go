package ports

import (
	"context"

	"github.com/ghalamif/TradeReplica/internal/domain"
)

// Sink receives every forwarded envelope. Commit is synchronous, never
// panics and fails fast while the sink is disconnected.
type Sink interface {
	Name() string
	Commit(ctx context.Context, env domain.Envelope) error
	Close() error
}

// Supervisor is implemented by sinks that run their own reconnect loop.
// Connect makes one synchronous attempt; Run retries until stopped.
type Supervisor interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context) error
}

// Store is a raw connection to one persistence target. Open connects and
// prepares the per-kind commit operations; it is called again after every
// connection loss.
type Store interface {
	Name() string
	Open(ctx context.Context) error
	Ping(ctx context.Context) error
	Commit(ctx context.Context, env domain.Envelope) error
	Close() error
}
