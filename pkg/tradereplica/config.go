package tradereplica

import (
	"github.com/ghalamif/TradeReplica/internal/app/config"
	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls queue capacity and flush cadence.
	Policy = ports.Policy
	// SourceConfig describes one trading-server gateway.
	SourceConfig = config.SourceConfig
	// SourceFlags toggles per-source features.
	SourceFlags = config.SourceFlags
	// SinkConfig describes one persistence target and its outage policy.
	SinkConfig = config.SinkConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LoggingConfig configures the zap logger.
	LoggingConfig = config.LoggingConfig
	// DeadLetterConfig configures the dead-letter log.
	DeadLetterConfig = config.DeadLetterConfig
	// ReconnectConfig bounds reconnect backoff.
	ReconnectConfig = config.ReconnectConfig
)

// Errors callers can match with errors.Is.
var (
	ErrQueueFull        = domain.ErrQueueFull
	ErrQueueClosed      = domain.ErrQueueClosed
	ErrSinkDisconnected = domain.ErrSinkDisconnected
	ErrNoSinks          = domain.ErrNoSinks
	ErrSourceStopped    = domain.ErrSourceStopped
)

// LoadConfig loads YAML from disk, applying defaults and validation.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
