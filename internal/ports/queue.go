package ports

import (
	"context"

	"github.com/ghalamif/TradeReplica/internal/domain"
)

// Publisher accepts envelopes from a source. Push blocks under backpressure
// and fails with domain.ErrQueueFull or domain.ErrQueueClosed, never silently.
type Publisher interface {
	Push(ctx context.Context, env domain.Envelope) error
}

// EnvelopeQueue is the FIFO between sources and the consume stage.
type EnvelopeQueue interface {
	Publisher
	// Pop blocks until an envelope is available. It returns false once the
	// queue was shut down and fully drained.
	Pop() (domain.Envelope, bool)
	Shutdown()
	Len() int
}
