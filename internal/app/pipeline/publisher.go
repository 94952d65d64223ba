package pipeline

import (
	"context"
	"errors"
	"strconv"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// meteredPublisher is what a source pushes into. The queue applies the
// capacity policy; this layer makes the outcome visible.
type meteredPublisher struct {
	q      ports.Publisher
	source string
	obs    ports.Observability
}

func newPublisher(q ports.Publisher, sourceID int, obs ports.Observability) *meteredPublisher {
	return &meteredPublisher{q: q, source: strconv.Itoa(sourceID), obs: obs}
}

func (p *meteredPublisher) Push(ctx context.Context, env domain.Envelope) error {
	err := p.q.Push(ctx, env)
	switch {
	case err == nil:
		p.obs.IncCounter(ports.MetricEnqueued, 1, p.source)
	case errors.Is(err, domain.ErrQueueFull):
		p.obs.IncCounter(ports.MetricQueueRejected, 1, p.source)
		p.obs.LogWarn("queue_full_reject",
			ports.F("source", p.source), ports.F("kind", env.Kind().String()), ports.F("key", env.Key()))
	case errors.Is(err, domain.ErrQueueClosed):
		p.obs.LogInfo("queue_closed_discard", ports.F("source", p.source), ports.F("kind", env.Kind().String()))
	default:
		p.obs.LogWarn("enqueue_aborted", ports.F("source", p.source), ports.F("error", err.Error()))
	}
	return err
}
