package tradereplica

import (
	"context"
	"fmt"
)

// Flow assembles a replication Runtime step by step. The config names the
// gateways and stores; the StreamIN and StreamOUT stages add components built
// in code, such as an ExternalSource feeding the queue or a callback
// receiving every forwarded record.
//
//	flow, _ := tradereplica.Conf("replica.yaml")
//	rt, err := flow.StreamIN(tradereplica.StreamInSource(feed)).
//		StreamOUT(tradereplica.StreamOutCallback("audit", audit))
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption adjusts a Flow as soon as its config is available.
type FlowOption func(*Flow)

// StreamInOption changes what feeds the queue.
type StreamInOption func(*Flow)

// StreamOutOption changes where replicated records go.
type StreamOutOption func(*Flow)

// Conf reads the replica config at path.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts from a Config built in code. The defaults and
// validation done by LoadConfig are skipped.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	apply(f, opts...)
	return f, nil
}

// Config returns the live config. Changes made before StreamOUT are picked
// up by the Runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	apply(f, opts...)
	return f
}

// StreamOUT applies opts and builds the Runtime. Nothing connects until
// Start or Run.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	apply(f, opts...)
	return NewRuntime(f.cfg, f.opts...)
}

// Run replicates until ctx is cancelled, then drains and shuts down.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.appendOptions(opts...) }
}

// StreamInSource registers an extra event source, typically an
// ExternalSource fed by the embedding program.
func StreamInSource(src Source) StreamInOption {
	return func(f *Flow) {
		if src != nil {
			f.appendOptions(WithSource(src))
		}
	}
}

// StreamInQueue swaps the bounded in-memory queue sized by the policy.
func StreamInQueue(q EnvelopeQueue) StreamInOption {
	return func(f *Flow) {
		if q != nil {
			f.appendOptions(WithQueue(q))
		}
	}
}

func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutSink adds a sink next to the configured stores. It sees every
// record, quotes and margins after coalescing.
func StreamOutSink(s Sink) StreamOutOption {
	return func(f *Flow) {
		if s != nil {
			f.appendOptions(WithSink(s))
		}
	}
}

// StreamOutDeadLetter receives the records a store adapter gives up on.
func StreamOutDeadLetter(dl DeadLetter) StreamOutOption {
	return func(f *Flow) {
		if dl != nil {
			f.appendOptions(WithDeadLetter(dl))
		}
	}
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutCallback is StreamOutSink for a plain function.
func StreamOutCallback(name string, fn EnvelopeHandler) StreamOutOption {
	return func(f *Flow) { f.appendOptions(WithSink(NewCallbackSink(name, fn))) }
}

func apply[O ~func(*Flow)](f *Flow, opts ...O) {
	for _, opt := range opts {
		if fn := (func(*Flow))(opt); fn != nil {
			fn(f)
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
