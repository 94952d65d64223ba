package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/TradeReplica/internal/adapters/queue"
	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)                  {}
func (nopObs) LogWarn(string, ...ports.Field)                  {}
func (nopObs) LogError(string, error, ...ports.Field)          {}
func (nopObs) LogCritical(string, error, ...ports.Field)       {}
func (nopObs) IncCounter(string, float64, ...string)           {}
func (nopObs) ObserveLatency(string, float64, ...string)       {}
func (nopObs) SetGauge(string, float64, ...string)             {}
func (nopObs) RecordDeadLetter(string, domain.Envelope, error) {}

// journal records lifecycle events across sources and sinks in call order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	j.events = append(j.events, e)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type recordingSink struct {
	name  string
	fail  bool
	panic bool
	delay time.Duration
	log   *journal

	mu      sync.Mutex
	closed  bool
	commits []domain.Envelope
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Commit(_ context.Context, env domain.Envelope) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panic {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("commit after close")
	}
	if s.fail {
		return &domain.SinkCommitError{Sink: s.name, Kind: env.Kind(), Key: env.Key(), Err: errors.New("constraint")}
	}
	s.commits = append(s.commits, env)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("sink_close:" + s.name)
	}
	return nil
}

func (s *recordingSink) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.commits))
	for _, env := range s.commits {
		out = append(out, env.Key())
	}
	return out
}

func (s *recordingSink) committed() []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Envelope(nil), s.commits...)
}

type fakeSource struct {
	id  int
	log *journal

	mu  sync.Mutex
	out ports.Publisher
}

func (f *fakeSource) ID() int { return f.id }

func (f *fakeSource) Start(_ context.Context, out ports.Publisher) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) StopPumping()                      { f.log.add("source_stop_pumping") }
func (f *fakeSource) Disconnect() error                 { f.log.add("source_disconnect"); return nil }
func (f *fakeSource) SyncMargins(context.Context) error { return nil }
func (f *fakeSource) State() ports.ConnState            { return ports.StateConnected }
func (f *fakeSource) LastActivity() time.Time           { return time.Now() }
func (f *fakeSource) push(t *testing.T, env domain.Envelope) {
	t.Helper()
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	require.NoError(t, out.Push(context.Background(), env))
}

func quote(symbol, bid string) domain.Envelope {
	return domain.NewEnvelope(domain.ActionUpdate, 1, domain.Quote{
		Symbol: symbol, Bid: decimal.RequireFromString(bid), Ask: decimal.RequireFromString(bid), Time: time.Now(),
	})
}

func margin(login int64, equity string) domain.Envelope {
	return domain.NewEnvelope(domain.ActionUpdate, 1, domain.Margin{Login: login, Equity: decimal.RequireFromString(equity)})
}

func trade(order int64) domain.Envelope {
	return domain.NewEnvelope(domain.ActionAdd, 1, domain.Trade{Order: order, Symbol: "EURUSD"})
}

func newTestReplicator(t *testing.T, q ports.EnvelopeQueue, src *fakeSource, interval time.Duration, sinks ...ports.Sink) *Replicator {
	t.Helper()
	var sources []ports.Source
	if src != nil {
		sources = append(sources, src)
	}
	r, err := NewReplicator(q, sources, sinks, Options{FlushInterval: interval}, nopObs{})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	return r
}

func TestNewReplicatorRequiresSinks(t *testing.T) {
	_, err := NewReplicator(queue.NewMemQueue(0, false), nil, nil, Options{}, nopObs{})
	require.ErrorIs(t, err, domain.ErrNoSinks)

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "sinks", cfgErr.Field)
}

// Intermediate quote and margin values are superseded: only the
// latest value per key at a flush boundary reaches the sinks.
func TestReplicatorCoalescesQuotesAndMargins(t *testing.T) {
	log := &journal{}
	src := &fakeSource{id: 1, log: log}
	sink := &recordingSink{name: "db"}
	r := newTestReplicator(t, queue.NewMemQueue(0, false), src, time.Hour, sink)
	defer r.Shutdown(context.Background())

	src.push(t, quote("EURUSD", "1.1000"))
	src.push(t, quote("EURUSD", "1.1005"))
	src.push(t, margin(42, "1000"))

	require.Eventually(t, func() bool {
		q, m := r.Pending()
		return q == 1 && m == 1
	}, time.Second, time.Millisecond)
	require.Empty(t, sink.keys(), "coalesced kinds must wait for a flush")

	require.Equal(t, 2, r.Flush(context.Background()))
	got := sink.committed()
	require.Len(t, got, 2)

	byKey := map[string]domain.Envelope{}
	for _, env := range got {
		byKey[env.Key()] = env
	}
	require.True(t, byKey["EURUSD"].Record.(domain.Quote).Bid.Equal(decimal.RequireFromString("1.1005")))
	require.True(t, byKey["42"].Record.(domain.Margin).Equity.Equal(decimal.RequireFromString("1000")))

	require.Zero(t, r.Flush(context.Background()), "empty cycle must be a no-op")
	require.Len(t, sink.committed(), 2)
}

func TestReplicatorPassThroughKeepsSourceOrder(t *testing.T) {
	src := &fakeSource{id: 1, log: &journal{}}
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	r := newTestReplicator(t, queue.NewMemQueue(0, false), src, time.Hour, a, b)
	defer r.Shutdown(context.Background())

	var want []string
	for i := int64(1); i <= 50; i++ {
		src.push(t, trade(i))
		want = append(want, trade(i).Key())
	}
	src.push(t, domain.NewEnvelope(domain.ActionUpdate, 1, domain.User{Login: 7}))
	src.push(t, domain.NewEnvelope(domain.ActionUpdate, 1, domain.SymbolGroup{Group: "vip", Symbol: "XAUUSD"}))
	want = append(want, "7", "vip/XAUUSD")

	require.Eventually(t, func() bool { return len(b.keys()) == len(want) }, time.Second, time.Millisecond)
	require.Equal(t, want, a.keys())
	require.Equal(t, want, b.keys())
}

func TestReplicatorFanOutIsolatesFailingSink(t *testing.T) {
	src := &fakeSource{id: 1, log: &journal{}}
	broken := &recordingSink{name: "broken", fail: true}
	panicky := &recordingSink{name: "panicky", panic: true}
	healthy := &recordingSink{name: "healthy"}
	r := newTestReplicator(t, queue.NewMemQueue(0, false), src, time.Hour, broken, panicky, healthy)
	defer r.Shutdown(context.Background())

	for i := int64(1); i <= 10; i++ {
		src.push(t, trade(i))
	}
	src.push(t, quote("GBPUSD", "1.2500"))

	require.Eventually(t, func() bool {
		q, _ := r.Pending()
		return len(healthy.keys()) == 10 && q == 1
	}, time.Second, time.Millisecond)
	r.Flush(context.Background())
	require.Len(t, healthy.keys(), 11)
	require.Empty(t, broken.keys())
}

func TestReplicatorShutdownDrainsBeforeClosingSinks(t *testing.T) {
	log := &journal{}
	src := &fakeSource{id: 1, log: log}
	sink := &recordingSink{name: "db", log: log, delay: time.Millisecond}
	r := newTestReplicator(t, queue.NewMemQueue(0, false), src, time.Hour, sink)

	for i := int64(1); i <= 20; i++ {
		src.push(t, trade(i))
	}
	src.push(t, quote("EURUSD", "1.1000"))
	src.push(t, quote("EURUSD", "1.1005"))

	require.NoError(t, r.Shutdown(context.Background()))

	keys := sink.keys()
	require.Len(t, keys, 21, "every envelope pushed before shutdown must be delivered")
	require.Equal(t, "EURUSD", keys[20])
	require.Equal(t, []string{"source_stop_pumping", "sink_close:db", "source_disconnect"}, log.list())

	err := src.out.Push(context.Background(), trade(99))
	require.ErrorIs(t, err, domain.ErrQueueClosed)
	require.NoError(t, r.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestReplicatorPeriodicFlush(t *testing.T) {
	src := &fakeSource{id: 1, log: &journal{}}
	sink := &recordingSink{name: "db"}
	r := newTestReplicator(t, queue.NewMemQueue(0, false), src, 5*time.Millisecond, sink)
	defer r.Shutdown(context.Background())

	src.push(t, margin(42, "1000"))
	require.Eventually(t, func() bool { return len(sink.keys()) == 1 }, time.Second, time.Millisecond)
}

func TestReplicatorBackpressureLosesNothing(t *testing.T) {
	const producers, perProducer = 3, 100
	sink := &recordingSink{name: "slow", delay: 50 * time.Microsecond}
	r := newTestReplicator(t, queue.NewMemQueue(4, false), nil, time.Hour, sink)
	defer r.Shutdown(context.Background())

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			pub := r.Publisher(p + 1)
			for i := 0; i < perProducer; i++ {
				order := int64(p*perProducer + i + 1)
				if err := pub.Push(context.Background(), trade(order)); err != nil {
					t.Errorf("push %d: %v", order, err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(sink.keys()) == producers*perProducer }, 5*time.Second, time.Millisecond)
	seen := map[string]bool{}
	for _, k := range sink.keys() {
		require.False(t, seen[k], "duplicate delivery of %s", k)
		seen[k] = true
	}
}

func TestReplicatorRejectPolicySurfacesFullQueue(t *testing.T) {
	q := queue.NewMemQueue(1, true)
	pub := newPublisher(q, 3, nopObs{})
	require.NoError(t, pub.Push(context.Background(), trade(1)))
	require.ErrorIs(t, pub.Push(context.Background(), trade(2)), domain.ErrQueueFull)
}

// stalledSink never finishes connecting until its context is done.
type stalledSink struct {
	recordingSink
	connects chan time.Duration
}

func (s *stalledSink) Connect(ctx context.Context) error {
	start := time.Now()
	<-ctx.Done()
	s.connects <- time.Since(start)
	return ctx.Err()
}

func (s *stalledSink) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestReplicatorStartBoundsSinkConnect(t *testing.T) {
	connects := make(chan time.Duration, 2)
	a := &stalledSink{recordingSink: recordingSink{name: "a"}, connects: connects}
	b := &stalledSink{recordingSink: recordingSink{name: "b"}, connects: connects}
	src := &fakeSource{id: 1, log: &journal{}}

	r, err := NewReplicator(queue.NewMemQueue(0, false), []ports.Source{src}, []ports.Sink{a, b},
		Options{FlushInterval: time.Hour, ConnectTimeout: 50 * time.Millisecond}, nopObs{})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Start(context.Background()))
	require.Less(t, time.Since(start), 500*time.Millisecond, "stalled sinks must not hold up Start")
	defer r.Shutdown(context.Background())

	for i := 0; i < 2; i++ {
		require.Less(t, <-connects, 500*time.Millisecond)
	}
	src.push(t, trade(1))
	require.Eventually(t, func() bool { return len(a.keys()) == 1 && len(b.keys()) == 1 }, time.Second, time.Millisecond)
}

// Overlapping Flush calls must not let an older quote reach a sink after a
// newer one.
func TestReplicatorConcurrentFlushKeepsLatestLast(t *testing.T) {
	sink := &recordingSink{name: "db", delay: 50 * time.Microsecond}
	r, err := NewReplicator(queue.NewMemQueue(0, false), nil, []ports.Sink{sink}, Options{FlushInterval: time.Hour}, nopObs{})
	require.NoError(t, err)

	const updates = 300
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					r.Flush(context.Background())
				}
			}
		}()
	}
	for i := 1; i <= updates; i++ {
		r.route(quote("EURUSD", decimal.NewFromInt(int64(i)).String()))
		time.Sleep(10 * time.Microsecond)
	}
	close(stop)
	wg.Wait()
	r.Flush(context.Background())

	got := sink.committed()
	require.NotEmpty(t, got)
	prev := decimal.Zero
	for _, env := range got {
		bid := env.Record.(domain.Quote).Bid
		require.True(t, bid.GreaterThan(prev), "bid %s committed after %s", bid, prev)
		prev = bid
	}
	require.True(t, prev.Equal(decimal.NewFromInt(updates)))
}
