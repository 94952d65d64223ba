package observability

import (
	"go.uber.org/zap"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

type PromObs struct {
	log      *zap.Logger
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	histos   map[string]*prometheus.HistogramVec
}

// NewPromObs registers the replication metrics on reg. A nil logger
// disables logging.
func NewPromObs(reg prometheus.Registerer, log *zap.Logger) *PromObs {
	if log == nil {
		log = zap.NewNop()
	}
	p := &PromObs{
		log:      log,
		counters: map[string]*prometheus.CounterVec{},
		gauges:   map[string]*prometheus.GaugeVec{},
		histos:   map[string]*prometheus.HistogramVec{},
	}

	p.counter(ports.MetricEnqueued, "Envelopes accepted by the queue.", "source")
	p.counter(ports.MetricQueueRejected, "Envelopes refused by the queue capacity policy.", "source")
	p.counter(ports.MetricSourceDropped, "Source events dropped before enqueue.", "source", "reason")
	p.counter(ports.MetricSourceReconnects, "Source reconnect attempts.", "source")
	p.counter(ports.MetricCommits, "Sink commits by outcome.", "sink", "kind", "result")
	p.counter(ports.MetricSinkReconnects, "Sink reconnect attempts.", "sink")
	p.counter(ports.MetricDeadLetters, "Records a sink gave up on.", "sink")
	p.counter(ports.MetricCoalesceOverwrite, "Coalesced updates superseded before flush.", "kind")

	p.gauge(ports.MetricSourceConnected, "1 when the source session is connected.", "source")
	p.gauge(ports.MetricSinkConnected, "1 when the sink connection is usable.", "sink")
	p.gauge(ports.MetricRetryBuffer, "Records buffered for replay after reconnect.", "sink")
	p.gauge(ports.MetricQueueLength, "Envelopes waiting in the queue.")
	p.gauge(ports.MetricCoalescePending, "Keys waiting for the next flush.", "kind")

	p.histo(ports.MetricCommitLatency, "Latency of a single sink commit.", prometheus.ExponentialBuckets(0.0005, 2, 14), "sink")
	p.histo(ports.MetricFlushLatency, "Duration of one flush cycle.", prometheus.ExponentialBuckets(0.001, 2, 12))

	for _, c := range p.counters {
		reg.MustRegister(c)
	}
	for _, g := range p.gauges {
		reg.MustRegister(g)
	}
	for _, h := range p.histos {
		reg.MustRegister(h)
	}
	return p
}

func (p *PromObs) counter(name, help string, labels ...string) {
	p.counters[name] = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func (p *PromObs) gauge(name, help string, labels ...string) {
	p.gauges[name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

func (p *PromObs) histo(name, help string, buckets []float64, labels ...string) {
	p.histos[name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
}

func (p *PromObs) Logger() *zap.Logger { return p.log }

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(nil, fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, zapFields(nil, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, zapFields(err, fields)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.DPanic(msg, zapFields(err, fields)...)
}

// Unknown names and label arity mismatches are ignored.
func (p *PromObs) IncCounter(name string, v float64, labels ...string) {
	if c, ok := p.counters[name]; ok {
		if m, err := c.GetMetricWithLabelValues(labels...); err == nil {
			m.Add(v)
		}
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64, labels ...string) {
	if h, ok := p.histos[name]; ok {
		if m, err := h.GetMetricWithLabelValues(labels...); err == nil {
			m.Observe(seconds)
		}
	}
}

func (p *PromObs) SetGauge(name string, v float64, labels ...string) {
	if g, ok := p.gauges[name]; ok {
		if m, err := g.GetMetricWithLabelValues(labels...); err == nil {
			m.Set(v)
		}
	}
}

func (p *PromObs) RecordDeadLetter(sink string, env domain.Envelope, err error) {
	p.IncCounter(ports.MetricDeadLetters, 1, sink)
	p.log.Warn("dead_letter",
		zap.String("sink", sink),
		zap.Stringer("kind", env.Kind()),
		zap.String("key", env.Key()),
		zap.Int("source", env.Source),
		zap.Error(err),
	)
}

func zapFields(err error, fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
