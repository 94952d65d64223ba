package tradereplica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ghalamif/TradeReplica/internal/adapters/deadletter"
	"github.com/ghalamif/TradeReplica/internal/adapters/observability"
	"github.com/ghalamif/TradeReplica/internal/adapters/queue"
	"github.com/ghalamif/TradeReplica/internal/adapters/sink"
	"github.com/ghalamif/TradeReplica/internal/adapters/source"
	"github.com/ghalamif/TradeReplica/internal/app/pipeline"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

const defaultShutdownTimeout = 10 * time.Second

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	sources       []Source
	sinks         []Sink
	queue         EnvelopeQueue
	observability Observability
	deadLetter    DeadLetter
}

// WithSource adds a source next to the gateways listed in the config.
func WithSource(src Source) RuntimeOption {
	return func(o *runtimeOverrides) {
		if src != nil {
			o.sources = append(o.sources, src)
		}
	}
}

// WithSink adds a sink next to the ones listed in the config.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithQueue replaces the in-memory queue built from the policy.
func WithQueue(q EnvelopeQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability replaces the zap + Prometheus backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithDeadLetter replaces the file dead-letter log.
func WithDeadLetter(dl DeadLetter) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.deadLetter = dl
	}
}

// ComponentStatus is one line of the /healthz report.
type ComponentStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Status is served as JSON on /healthz.
type Status struct {
	Sources        []ComponentStatus `json:"sources"`
	Sinks          []ComponentStatus `json:"sinks"`
	QueueLength    int               `json:"queue_length"`
	PendingQuotes  int               `json:"pending_quotes"`
	PendingMargins int               `json:"pending_margins"`
}

type stateful interface {
	State() ports.ConnState
}

// Runtime wires sources -> queue -> replicator -> sinks from a Config and
// serves metrics while it runs.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	logger     *zap.Logger
	registry   *prometheus.Registry
	deadLetter ports.DeadLetter
	queue      ports.EnvelopeQueue
	sources    []ports.Source
	sinks      []ports.Sink
	replicator *pipeline.Replicator
	metricsSrv *http.Server
	started    bool
}

// NewRuntime builds the default adapters for every source and sink in cfg:
// WebSocket gateway sessions, store-backed sink adapters, a MemQueue sized
// by the policy, a file dead-letter log and zap + Prometheus observability.
// Options add components or replace the defaults.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt.obs = overrides.observability
	if rt.obs == nil {
		logger, err := observability.NewLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		rt.logger = logger
		rt.obs = observability.NewPromObs(rt.registry, logger)
	}

	rt.deadLetter = overrides.deadLetter
	if rt.deadLetter == nil && !cfg.DeadLetter.Disabled {
		dl, err := deadletter.NewFileDeadLetter(cfg.DeadLetter.Dir, cfg.DeadLetter.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("dead letter: %w", err)
		}
		rt.deadLetter = dl
	}

	rt.queue = overrides.queue
	if rt.queue == nil {
		rt.queue = queue.NewFromPolicy(cfg.Policy)
	}

	for _, s := range cfg.Sinks {
		store, err := sink.NewStore(s.Descriptor())
		if err != nil {
			rt.release()
			return nil, err
		}
		rt.sinks = append(rt.sinks, sink.NewAdapter(store, cfg.SinkRuntime(s), rt.obs, rt.deadLetter))
	}
	rt.sinks = append(rt.sinks, overrides.sinks...)

	for _, s := range cfg.Sources {
		src, err := source.NewWSSource(cfg.SourceRuntime(s), rt.obs)
		if err != nil {
			rt.release()
			return nil, err
		}
		rt.sources = append(rt.sources, src)
	}
	rt.sources = append(rt.sources, overrides.sources...)

	rep, err := pipeline.NewReplicator(rt.queue, rt.sources, rt.sinks,
		pipeline.Options{FlushInterval: cfg.Policy.FlushInterval}, rt.obs)
	if err != nil {
		rt.release()
		return nil, err
	}
	rt.replicator = rep
	return rt, nil
}

// release closes the sinks and the dead-letter log without draining.
func (rt *Runtime) release() {
	for _, s := range rt.sinks {
		_ = s.Close()
	}
	if rt.deadLetter != nil {
		_ = rt.deadLetter.Close()
	}
}

// Start launches the replicator and the metrics server. It returns
// immediately; call Run to block on a context instead.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt == nil {
		return fmt.Errorf("runtime is nil")
	}
	if err := rt.replicator.Start(ctx); err != nil {
		return err
	}
	rt.started = true
	if !rt.cfg.Metrics.Disabled {
		rt.startMetrics()
	}
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down
// within defaultShutdownTimeout.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// Shutdown drains the replicator, then stops the metrics server and closes
// the dead-letter log. A runtime that never started only releases its sinks.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if !rt.started {
		rt.release()
		return nil
	}

	var errs []error

	if err := rt.replicator.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if rt.metricsSrv != nil {
		if err := rt.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if rt.deadLetter != nil {
		if err := rt.deadLetter.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
	return errors.Join(errs...)
}

// Publisher feeds envelopes into the queue on behalf of sourceID.
func (rt *Runtime) Publisher(sourceID int) Publisher {
	return rt.replicator.Publisher(sourceID)
}

// Flush forces one process cycle; it returns the number of records drained.
func (rt *Runtime) Flush(ctx context.Context) int {
	return rt.replicator.Flush(ctx)
}

func (rt *Runtime) Status() Status {
	st := Status{QueueLength: rt.queue.Len()}
	st.PendingQuotes, st.PendingMargins = rt.replicator.Pending()
	for _, src := range rt.sources {
		st.Sources = append(st.Sources, ComponentStatus{
			Name:  fmt.Sprintf("source-%d", src.ID()),
			State: src.State().String(),
		})
	}
	for _, s := range rt.sinks {
		state := "unknown"
		if sf, ok := s.(stateful); ok {
			state = sf.State().String()
		}
		st.Sinks = append(st.Sinks, ComponentStatus{Name: s.Name(), State: state})
	}
	return st
}

func (rt *Runtime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(rt.Status())
	})
	return mux
}

func (rt *Runtime) startMetrics() {
	rt.metricsSrv = &http.Server{
		Addr:              rt.cfg.Metrics.Addr,
		Handler:           rt.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.obs.LogError("metrics_server_exited", err, ports.F("addr", rt.cfg.Metrics.Addr))
		}
	}()
}
