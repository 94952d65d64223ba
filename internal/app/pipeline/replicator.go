package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

const (
	defaultFlushInterval  = 250 * time.Millisecond
	defaultConnectTimeout = 5 * time.Second
)

type Options struct {
	// FlushInterval is the process stage cadence.
	FlushInterval time.Duration
	// ConnectTimeout bounds each sink's first connection attempt in Start.
	ConnectTimeout time.Duration
}

// Replicator owns the queue, the sources and the sinks. Sources push into the
// queue; the consume stage forwards pass-through records straight to the
// sinks and parks quotes and margins in coalescing maps that the process
// stage drains every FlushInterval.
type Replicator struct {
	queue   ports.EnvelopeQueue
	sources []ports.Source
	sinks   []ports.Sink
	opts    Options
	obs     ports.Observability

	quotes  *Coalescer[string, domain.Envelope]
	margins *Coalescer[int64, domain.Envelope]
	// flushMu keeps drains in order so an older value never lands last.
	flushMu sync.Mutex

	mu        sync.Mutex
	started   bool
	stopped   bool
	runCancel context.CancelFunc
	// commits outlive the run context so the final flush still reaches sinks.
	commitCtx    context.Context
	commitCancel context.CancelFunc

	consumeDone chan struct{}
	processStop chan struct{}
	processDone chan struct{}
	supervisors sync.WaitGroup
}

// NewReplicator fails only when no sink is configured.
func NewReplicator(queue ports.EnvelopeQueue, sources []ports.Source, sinks []ports.Sink, opts Options, obs ports.Observability) (*Replicator, error) {
	if len(sinks) == 0 {
		return nil, &domain.ConfigError{Field: "sinks", Err: domain.ErrNoSinks}
	}
	if queue == nil {
		return nil, &domain.ConfigError{Field: "queue", Err: errors.New("queue is required")}
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Replicator{
		queue:       queue,
		sources:     sources,
		sinks:       sinks,
		opts:        opts,
		obs:         obs,
		quotes:      NewCoalescer[string, domain.Envelope](),
		margins:     NewCoalescer[int64, domain.Envelope](),
		consumeDone: make(chan struct{}),
		processStop: make(chan struct{}),
		processDone: make(chan struct{}),
	}, nil
}

// Publisher returns the queue entry point for the source with the given id.
// Embedding programs use it to feed envelopes without a Source.
func (r *Replicator) Publisher(sourceID int) ports.Publisher {
	return newPublisher(r.queue, sourceID, r.obs)
}

// Start connects the sinks in parallel, each bounded by ConnectTimeout, then
// launches both stages and the sources. Sink and source connection failures
// are logged and left to their reconnect loops; Start only fails when called
// twice.
func (r *Replicator) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("replicator already started")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.runCancel = cancel
	r.commitCtx, r.commitCancel = context.WithCancel(context.WithoutCancel(ctx))

	r.connectSinks(ctx)
	for _, s := range r.sinks {
		sup, ok := s.(ports.Supervisor)
		if !ok {
			continue
		}
		r.supervisors.Add(1)
		go func(name string) {
			defer r.supervisors.Done()
			if err := sup.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				r.obs.LogError("sink_supervisor_exit", err, ports.F("sink", name))
			}
		}(s.Name())
	}

	go r.consume()
	go r.process()

	for _, src := range r.sources {
		if err := src.Start(runCtx, r.Publisher(src.ID())); err != nil {
			r.obs.LogError("source_start_failed", err, ports.F("source", src.ID()))
		}
	}
	r.obs.LogInfo("replicator_started",
		ports.F("sources", len(r.sources)), ports.F("sinks", len(r.sinks)),
		ports.F("flush_interval", r.opts.FlushInterval.String()))
	return nil
}

func (r *Replicator) connectSinks(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range r.sinks {
		sup, ok := s.(ports.Supervisor)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(s ports.Sink) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
			defer cancel()
			if err := sup.Connect(cctx); err != nil {
				r.obs.LogWarn("sink_initial_connect_failed", ports.F("sink", s.Name()), ports.F("error", err.Error()))
			}
		}(s)
	}
	wg.Wait()
}

func (r *Replicator) consume() {
	defer close(r.consumeDone)
	for {
		env, ok := r.queue.Pop()
		if !ok {
			return
		}
		r.route(env)
	}
}

func (r *Replicator) route(env domain.Envelope) {
	switch rec := env.Record.(type) {
	case domain.Quote:
		if r.quotes.Put(rec.Symbol, env) {
			r.obs.IncCounter(ports.MetricCoalesceOverwrite, 1, domain.KindQuote.String())
		}
	case domain.Margin:
		if r.margins.Put(rec.Login, env) {
			r.obs.IncCounter(ports.MetricCoalesceOverwrite, 1, domain.KindMargin.String())
		}
	case nil:
		r.obs.LogWarn("empty_envelope_dropped", ports.F("source", env.Source))
	default:
		fanOut(r.commitCtx, r.sinks, env, r.obs)
	}
}

func (r *Replicator) process() {
	defer close(r.processDone)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Flush(r.commitCtx)
		case <-r.processStop:
			r.Flush(r.commitCtx)
			return
		}
	}
}

// Flush delivers the latest quote per symbol and margin per login to every
// sink and returns how many records were drained. An empty cycle is a no-op.
func (r *Replicator) Flush(ctx context.Context) int {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.obs.SetGauge(ports.MetricQueueLength, float64(r.queue.Len()))
	quotes := r.quotes.Drain()
	margins := r.margins.Drain()
	if len(quotes) == 0 && len(margins) == 0 {
		r.reportPending()
		return 0
	}

	start := time.Now()
	for _, env := range quotes {
		fanOut(ctx, r.sinks, env, r.obs)
	}
	for _, env := range margins {
		fanOut(ctx, r.sinks, env, r.obs)
	}
	r.obs.ObserveLatency(ports.MetricFlushLatency, time.Since(start).Seconds())
	r.reportPending()
	return len(quotes) + len(margins)
}

func (r *Replicator) reportPending() {
	r.obs.SetGauge(ports.MetricCoalescePending, float64(r.quotes.Len()), domain.KindQuote.String())
	r.obs.SetGauge(ports.MetricCoalescePending, float64(r.margins.Len()), domain.KindMargin.String())
}

// Shutdown stops the sources from producing, drains the queue, runs a final
// flush, closes the sinks and finally disconnects the sources. If ctx
// expires while draining, in-flight commits are cancelled and the remaining
// steps still run.
func (r *Replicator) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	for _, src := range r.sources {
		src.StopPumping()
	}
	r.queue.Shutdown()

	var errs []error
	select {
	case <-r.consumeDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("drain queue: %w", ctx.Err()))
		r.commitCancel()
		<-r.consumeDone
	}

	close(r.processStop)
	<-r.processDone

	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), err))
		}
	}
	r.runCancel()
	r.supervisors.Wait()

	for _, src := range r.sources {
		if err := src.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect source %d: %w", src.ID(), err))
		}
	}
	r.commitCancel()

	if err := errors.Join(errs...); err != nil {
		r.obs.LogError("replicator_shutdown", err)
		return err
	}
	r.obs.LogInfo("replicator_stopped")
	return nil
}

// Pending reports how many coalesced records wait for the next flush.
func (r *Replicator) Pending() (quotes, margins int) {
	return r.quotes.Len(), r.margins.Len()
}
