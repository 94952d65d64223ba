package pipeline

import (
	"context"
	"fmt"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// fanOut offers env to every sink in order. A failing or panicking sink is
// logged and skipped; it never prevents delivery to the sinks after it.
// It returns how many sinks accepted the record.
func fanOut(ctx context.Context, sinks []ports.Sink, env domain.Envelope, obs ports.Observability) int {
	delivered := 0
	for _, s := range sinks {
		if err := commitOne(ctx, s, env); err != nil {
			obs.LogWarn("fanout_commit_failed",
				ports.F("sink", s.Name()), ports.F("kind", env.Kind().String()),
				ports.F("key", env.Key()), ports.F("error", err.Error()))
			continue
		}
		delivered++
	}
	return delivered
}

func commitOne(ctx context.Context, s ports.Sink, env domain.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.SinkCommitError{Sink: s.Name(), Kind: env.Kind(), Key: env.Key(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.Commit(ctx, env)
}
