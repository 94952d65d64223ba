package tradereplica

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/TradeReplica/internal/adapters/queue"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig()

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	src := NewExternalSource(1, nil)
	q := queue.NewMemQueue(4, false)
	snk := &stubSink{}
	obs := &stubObservability{}

	rt, err := flow.
		StreamIN(
			StreamInSource(src),
			StreamInQueue(q),
			StreamInObservability(obs),
		).
		StreamOUT(
			StreamOutSink(snk),
			StreamOutCallback("cb", func(context.Context, Envelope) error { return nil }),
			StreamOutDeadLetter(&stubDeadLetter{}),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if len(rt.sources) != 1 || rt.sources[0] != src {
		t.Fatalf("expected external source to be wired")
	}
	if rt.queue != q {
		t.Fatalf("expected custom queue to be wired")
	}
	if rt.obs != obs {
		t.Fatalf("expected custom observability to be wired")
	}
	if len(rt.sinks) != 2 || rt.sinks[0] != snk || rt.sinks[1].Name() != "cb" {
		t.Fatalf("expected stub and callback sinks, got %d", len(rt.sinks))
	}
}

func TestConfFromConfigRequiresConfig(t *testing.T) {
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	var f *Flow
	if _, err := f.StreamOUT(); err == nil {
		t.Fatalf("expected error for nil flow")
	}
}

func TestConfLoadsYAMLAndRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.yaml")
	doc := "metrics:\n  disabled: true\ndead_letter:\n  disabled: true\nsinks:\n  - driver: redis\n    host: 127.0.0.1\n    port: 1\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flow, err := Conf(path, WithFlowOptions(WithObservability(&stubObservability{})))
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}
	if flow.Config().Sinks[0].Name != "redis-1" {
		t.Fatalf("expected defaults to be applied, got %+v", flow.Config().Sinks[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := flow.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestFlowSkipsNilOptions(t *testing.T) {
	snk := &stubSink{}
	flow, err := ConfFromConfig(testConfig(), nil, WithFlowOptions(nil, WithObservability(&stubObservability{})))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	rt, err := flow.
		Options(nil).
		StreamIN(nil, StreamInSource(nil), StreamInQueue(nil)).
		StreamOUT(nil, StreamOutSink(nil), StreamOutSink(snk), StreamOutDeadLetter(nil))
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if len(rt.sinks) != 1 || rt.sinks[0] != snk {
		t.Fatalf("expected only the stub sink, got %d sinks", len(rt.sinks))
	}
	if rt.queue == nil || rt.deadLetter != nil {
		t.Fatalf("nil overrides must leave the defaults in place")
	}
	if _, ok := rt.obs.(*stubObservability); !ok {
		t.Fatalf("expected the flow-level observability, got %T", rt.obs)
	}
}
