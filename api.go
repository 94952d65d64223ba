package tradereplica

import (
	base "github.com/ghalamif/TradeReplica/pkg/tradereplica"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull         = base.ErrQueueFull
	ErrQueueClosed       = base.ErrQueueClosed
	ErrSinkDisconnected  = base.ErrSinkDisconnected
	ErrNoSinks           = base.ErrNoSinks
	ErrSourceStopped     = base.ErrSourceStopped
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/ghalamif/TradeReplica directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	SourceConfig     = base.SourceConfig
	SourceFlags      = base.SourceFlags
	SinkConfig       = base.SinkConfig
	MetricsConfig    = base.MetricsConfig
	LoggingConfig    = base.LoggingConfig
	DeadLetterConfig = base.DeadLetterConfig
	ReconnectConfig  = base.ReconnectConfig
	Flow             = base.Flow
	FlowOption       = base.FlowOption
	StreamInOption   = base.StreamInOption
	StreamOutOption  = base.StreamOutOption
	Runtime          = base.Runtime
	RuntimeOption    = base.RuntimeOption
	Status           = base.Status
	ComponentStatus  = base.ComponentStatus
	Envelope         = base.Envelope
	EnvelopeHandler  = base.EnvelopeHandler
	Record           = base.Record
	Quote            = base.Quote
	Trade            = base.Trade
	User             = base.User
	Symbol           = base.Symbol
	Group            = base.Group
	SymbolGroup      = base.SymbolGroup
	Margin           = base.Margin
	Action           = base.Action
	Source           = base.Source
	Sink             = base.Sink
	Publisher        = base.Publisher
	EnvelopeQueue    = base.EnvelopeQueue
	Observability    = base.Observability
	DeadLetter       = base.DeadLetter
	ExternalSource   = base.ExternalSource
	MarginSyncFunc   = base.MarginSyncFunc
)

const (
	ActionAdd    = base.ActionAdd
	ActionUpdate = base.ActionUpdate
	ActionDelete = base.ActionDelete
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSource(src Source) StreamInOption {
	return base.StreamInSource(src)
}

func StreamInQueue(q EnvelopeQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutDeadLetter(dl DeadLetter) StreamOutOption {
	return base.StreamOutDeadLetter(dl)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn EnvelopeHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSource(src Source) RuntimeOption {
	return base.WithSource(src)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithQueue(q EnvelopeQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithDeadLetter(dl DeadLetter) RuntimeOption {
	return base.WithDeadLetter(dl)
}

// Sink adapters.
func NewCallbackSink(name string, fn EnvelopeHandler) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan Envelope, func()) {
	return base.NewChannelSink(name, buffer)
}

// External source.
func NewExternalSource(id int, marginSync MarginSyncFunc) *ExternalSource {
	return base.NewExternalSource(id, marginSync)
}
