package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/TradeReplica/internal/adapters/observability"
	"github.com/ghalamif/TradeReplica/internal/adapters/sink"
	"github.com/ghalamif/TradeReplica/internal/adapters/source"
	"github.com/ghalamif/TradeReplica/internal/backoff"
	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

type Config struct {
	Policy     ports.Policy     `yaml:"policy"`
	Sources    []SourceConfig   `yaml:"sources"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
}

// SourceConfig is one trading-server gateway.
type SourceConfig struct {
	ID           int           `yaml:"id"`
	Address      string        `yaml:"address"`
	Login        int64         `yaml:"login"`
	Password     string        `yaml:"password"`
	Flags        SourceFlags   `yaml:"flags"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type SourceFlags struct {
	SyncMargins        bool          `yaml:"sync_margins"`
	MarginSyncInterval time.Duration `yaml:"margin_sync_interval"`
	SkipQuotes         bool          `yaml:"skip_quotes"`
}

// SinkConfig is one persistence target plus its outage policy.
type SinkConfig struct {
	Name     string            `yaml:"name"`
	Driver   string            `yaml:"driver"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Schema   string            `yaml:"schema"`
	SSLMode  string            `yaml:"sslmode"`
	Params   map[string]string `yaml:"params"`
	DSN      string            `yaml:"dsn"`
	Path     string            `yaml:"path"`
	Brokers  []string          `yaml:"brokers"`
	Topic    string            `yaml:"topic"`
	RedisDB  int               `yaml:"redis_db"`

	OnFailure      string        `yaml:"on_failure"` // drop | retry
	RetryBuffer    int           `yaml:"retry_buffer"`
	HealthInterval time.Duration `yaml:"health_interval"`
	CommitTimeout  time.Duration `yaml:"commit_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

type MetricsConfig struct {
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

type LoggingConfig = observability.LogOptions

type DeadLetterConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
	Disabled bool   `yaml:"disabled"`
}

// ReconnectConfig bounds the exponential backoff shared by sources and sinks.
type ReconnectConfig struct {
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
	Jitter float64       `yaml:"jitter"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and environment overrides, then
// validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	switch {
	case c.Policy.MaxQueueLen == 0:
		c.Policy.MaxQueueLen = 100_000
	case c.Policy.MaxQueueLen < 0:
		c.Policy.MaxQueueLen = 0 // unbounded
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.FlushInterval <= 0 {
		c.Policy.FlushInterval = 250 * time.Millisecond
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.DeadLetter.Dir == "" {
		c.DeadLetter.Dir = "./data/deadletter"
	}
	if c.DeadLetter.MaxBytes == 0 {
		c.DeadLetter.MaxBytes = 1 << 30
	}
	def := backoff.Default()
	if c.Reconnect.Min <= 0 {
		c.Reconnect.Min = def.Min
	}
	if c.Reconnect.Max <= 0 {
		c.Reconnect.Max = def.Max
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = def.Jitter
	}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if s.Driver == "" {
			s.Driver = sink.DriverPostgres
		}
		if s.OnFailure == "" {
			s.OnFailure = string(sink.FailDrop)
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("%s-%d", s.Driver, i+1)
		}
	}
}

// applyEnv lets REPLICA_SOURCE_<ID>_PASSWORD and REPLICA_SINK_<NAME>_PASSWORD
// override credentials kept out of the file.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for i := range c.Sources {
		if v, ok := lookup("REPLICA_SOURCE_" + strconv.Itoa(c.Sources[i].ID) + "_PASSWORD"); ok {
			c.Sources[i].Password = v
		}
	}
	for i := range c.Sinks {
		if v, ok := lookup("REPLICA_SINK_" + envName(c.Sinks[i].Name) + "_PASSWORD"); ok {
			c.Sinks[i].Password = v
		}
	}
}

func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, name)
}

func (c *Config) validate() error {
	if len(c.Sinks) == 0 {
		return &domain.ConfigError{Field: "sinks", Err: domain.ErrNoSinks}
	}
	if c.Policy.OnQueueFull != "block" && c.Policy.OnQueueFull != "reject" {
		return &domain.ConfigError{Field: "policy.on_queue_full", Err: fmt.Errorf("unknown policy %q", c.Policy.OnQueueFull)}
	}
	if c.Reconnect.Max < c.Reconnect.Min {
		return &domain.ConfigError{Field: "reconnect.max", Err: errors.New("must not be below reconnect.min")}
	}

	ids := make(map[int]bool, len(c.Sources))
	for i, s := range c.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if ids[s.ID] {
			return &domain.ConfigError{Field: field + ".id", Err: fmt.Errorf("duplicate source id %d", s.ID)}
		}
		ids[s.ID] = true
		wc := c.SourceRuntime(s)
		if err := wc.Validate(); err != nil {
			return &domain.ConfigError{Field: field, Err: err}
		}
	}

	names := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		field := fmt.Sprintf("sinks[%d]", i)
		if names[s.Name] {
			return &domain.ConfigError{Field: field + ".name", Err: fmt.Errorf("duplicate sink name %q", s.Name)}
		}
		names[s.Name] = true
		if err := s.validate(); err != nil {
			return &domain.ConfigError{Field: field, Err: err}
		}
	}
	return nil
}

func (s SinkConfig) validate() error {
	switch sink.FailurePolicy(s.OnFailure) {
	case sink.FailDrop, sink.FailRetry:
	default:
		return fmt.Errorf("on_failure %q must be drop or retry", s.OnFailure)
	}
	switch s.Driver {
	case sink.DriverPostgres, sink.DriverGormPostgres:
		if s.DSN == "" && s.Database == "" {
			return errors.New("database or dsn is required")
		}
	case sink.DriverSQLite:
		if s.Path == "" {
			return errors.New("path is required")
		}
	case sink.DriverRedis:
	case sink.DriverKafka:
		if len(s.Brokers) == 0 {
			return errors.New("brokers are required")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

// Backoff is the reconnect policy handed to every adapter.
func (c *Config) Backoff() backoff.Backoff {
	return backoff.Backoff{Min: c.Reconnect.Min, Max: c.Reconnect.Max, Factor: 2, Jitter: c.Reconnect.Jitter}
}

// SourceRuntime maps a source entry onto the gateway adapter's config.
func (c *Config) SourceRuntime(s SourceConfig) source.Config {
	return source.Config{
		ID:                 s.ID,
		Address:            s.Address,
		Login:              s.Login,
		Password:           s.Password,
		SyncMargins:        s.Flags.SyncMargins,
		MarginSyncInterval: s.Flags.MarginSyncInterval,
		SkipQuotes:         s.Flags.SkipQuotes,
		PingInterval:       s.PingInterval,
		Backoff:            c.Backoff(),
	}
}

// Descriptor maps a sink entry onto its connection descriptor.
func (s SinkConfig) Descriptor() sink.Descriptor {
	return sink.Descriptor{
		Name:        s.Name,
		Driver:      s.Driver,
		Host:        s.Host,
		Port:        s.Port,
		User:        s.User,
		Password:    s.Password,
		Database:    s.Database,
		Schema:      s.Schema,
		SSLMode:     s.SSLMode,
		Params:      s.Params,
		DSN:         s.DSN,
		Path:        s.Path,
		Brokers:     s.Brokers,
		Topic:       s.Topic,
		RedisDB:     s.RedisDB,
		DialTimeout: s.DialTimeout,
	}
}

// SinkRuntime returns the adapter settings for a sink entry.
func (c *Config) SinkRuntime(s SinkConfig) sink.AdapterConfig {
	return sink.AdapterConfig{
		OnFailure:      sink.FailurePolicy(s.OnFailure),
		RetryBuffer:    s.RetryBuffer,
		HealthInterval: s.HealthInterval,
		CommitTimeout:  s.CommitTimeout,
		ConnectTimeout: s.DialTimeout,
		Backoff:        c.Backoff(),
	}
}
