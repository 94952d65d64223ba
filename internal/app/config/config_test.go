package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/TradeReplica/internal/adapters/sink"
	"github.com/ghalamif/TradeReplica/internal/domain"
)

const sample = `
policy:
  max_queue_len: 1000
sources:
  - id: 1
    address: wss://gw1.example:443/manager
    login: 900
    password: from-file
    flags:
      sync_margins: true
      margin_sync_interval: 30s
  - id: 2
    address: ws://gw2.example:8080/manager
    login: 901
    flags:
      skip_quotes: true
sinks:
  - name: reporting-db
    host: db.internal
    database: mt
    user: replica
    schema: mt4
    on_failure: retry
    retry_buffer: 500
  - name: cache
    driver: redis
    host: cache.internal
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Policy.MaxQueueLen != 1000 {
		t.Fatalf("expected max_queue_len 1000, got %d", cfg.Policy.MaxQueueLen)
	}
	if cfg.Policy.OnQueueFull != "block" {
		t.Fatalf("expected block default, got %s", cfg.Policy.OnQueueFull)
	}
	if cfg.Policy.FlushInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms flush default, got %s", cfg.Policy.FlushInterval)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.DeadLetter.Dir != "./data/deadletter" {
		t.Fatalf("expected default dead letter dir, got %s", cfg.DeadLetter.Dir)
	}
	if cfg.Sinks[0].Driver != sink.DriverPostgres || cfg.Sinks[1].OnFailure != "drop" {
		t.Fatalf("sink defaults not applied: %+v", cfg.Sinks)
	}

	src := cfg.SourceRuntime(cfg.Sources[0])
	if !src.SyncMargins || src.MarginSyncInterval != 30*time.Second {
		t.Fatalf("source flags not mapped: %+v", src)
	}
	if !cfg.SourceRuntime(cfg.Sources[1]).SkipQuotes {
		t.Fatalf("skip_quotes not mapped")
	}

	ac := cfg.SinkRuntime(cfg.Sinks[0])
	if ac.OnFailure != sink.FailRetry || ac.RetryBuffer != 500 {
		t.Fatalf("adapter config not mapped: %+v", ac)
	}
	if d := cfg.Sinks[0].Descriptor(); d.Schema != "mt4" || d.Host != "db.internal" {
		t.Fatalf("descriptor not mapped: %+v", d)
	}
}

func TestLoadNegativeQueueLenIsUnbounded(t *testing.T) {
	cfg, err := Parse([]byte("policy:\n  max_queue_len: -1\nsinks:\n  - driver: redis\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Policy.MaxQueueLen != 0 {
		t.Fatalf("expected unbounded queue, got %d", cfg.Policy.MaxQueueLen)
	}
	if cfg.Sinks[0].Name != "redis-1" {
		t.Fatalf("expected generated sink name, got %q", cfg.Sinks[0].Name)
	}
}

func TestValidateRejectsMissingSinks(t *testing.T) {
	_, err := Parse([]byte("sources:\n  - id: 1\n    address: ws://gw:1\n    login: 5\n"))
	if !errors.Is(err, domain.ErrNoSinks) {
		t.Fatalf("expected ErrNoSinks, got %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"sinks[0]":             "sinks:\n  - driver: oracle\n",
		"sinks[1].name":        "sinks:\n  - {name: a, driver: redis}\n  - {name: a, driver: redis}\n",
		"sources[1].id":        "sinks:\n  - driver: redis\nsources:\n  - {id: 1, address: 'ws://a:1', login: 1}\n  - {id: 1, address: 'ws://b:1', login: 2}\n",
		"sources[0]":           "sinks:\n  - driver: redis\nsources:\n  - {id: 1, address: 'http://a:1', login: 1}\n",
		"policy.on_queue_full": "policy:\n  on_queue_full: drop\nsinks:\n  - driver: redis\n",
	}
	for field, doc := range cases {
		_, err := Parse([]byte(doc))
		var cfgErr *domain.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Field != field {
			t.Fatalf("expected ConfigError on %s, got %v", field, err)
		}
	}
}

func TestEnvOverridesPasswords(t *testing.T) {
	cfg := &Config{
		Sources: []SourceConfig{{ID: 2, Password: "file"}},
		Sinks:   []SinkConfig{{Name: "reporting-db", Password: "file"}},
	}
	env := map[string]string{
		"REPLICA_SOURCE_2_PASSWORD":          "src-secret",
		"REPLICA_SINK_REPORTING_DB_PASSWORD": "db-secret",
	}
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Sources[0].Password != "src-secret" || cfg.Sinks[0].Password != "db-secret" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Sources[0], cfg.Sinks[0])
	}
}
