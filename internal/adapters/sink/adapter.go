package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/TradeReplica/internal/backoff"
	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// FailurePolicy decides what happens to records committed during an outage.
type FailurePolicy string

const (
	// FailDrop fails the commit and forgets the record.
	FailDrop FailurePolicy = "drop"
	// FailRetry keeps the record in a bounded buffer replayed after reconnect.
	FailRetry FailurePolicy = "retry"
)

type AdapterConfig struct {
	OnFailure      FailurePolicy
	RetryBuffer    int
	HealthInterval time.Duration
	CommitTimeout  time.Duration
	ConnectTimeout time.Duration
	Backoff        backoff.Backoff
}

func (c *AdapterConfig) applyDefaults() {
	if c.OnFailure == "" {
		c.OnFailure = FailDrop
	}
	if c.RetryBuffer <= 0 {
		c.RetryBuffer = 10000
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultDialTimeout
	}
	if c.Backoff.Min <= 0 {
		c.Backoff = backoff.Default()
	}
}

// Adapter wraps a Store with connection state, a liveness check, a
// reconnect loop and the configured outage policy.
//
// Lock order is connMu, mu, bufMu. connMu covers Open, the periodic ping
// and Close. mu covers store commits and only transitions out of
// Connected. bufMu covers the retry buffer and the move into Connected, so
// a commit that sees any other state never waits on store I/O.
type Adapter struct {
	store ports.Store
	cfg   AdapterConfig
	obs   ports.Observability
	dl    ports.DeadLetter

	connMu sync.Mutex
	mu     sync.Mutex
	bufMu  sync.Mutex
	state  atomic.Int32
	retry  *retryBuffer

	wake chan struct{}
	life context.Context
	kill context.CancelFunc
}

func NewAdapter(store ports.Store, cfg AdapterConfig, obs ports.Observability, dl ports.DeadLetter) *Adapter {
	cfg.applyDefaults()
	a := &Adapter{
		store: store,
		cfg:   cfg,
		obs:   obs,
		dl:    dl,
		wake:  make(chan struct{}, 1),
	}
	a.life, a.kill = context.WithCancel(context.Background())
	if cfg.OnFailure == FailRetry {
		a.retry = newRetryBuffer(cfg.RetryBuffer)
	}
	a.setState(ports.StateDisconnected)
	return a
}

func (a *Adapter) Name() string { return a.store.Name() }

func (a *Adapter) State() ports.ConnState { return ports.ConnState(a.state.Load()) }

func (a *Adapter) setState(s ports.ConnState) {
	a.state.Store(int32(s))
	v := 0.0
	if s == ports.StateConnected {
		v = 1
	}
	a.obs.SetGauge(ports.MetricSinkConnected, v, a.Name())
}

// Connect makes a single connection attempt bounded by ConnectTimeout. Run
// keeps retrying if it fails.
func (a *Adapter) Connect(ctx context.Context) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if !a.beginConnect() {
		return domain.ErrSinkDisconnected
	}
	if err := a.openStore(ctx); err != nil {
		a.abortConnect()
		return err
	}

	a.mu.Lock()
	a.bufMu.Lock()
	pending := a.retry != nil && a.retry.len() > 0
	if !pending && a.State() == ports.StateConnecting {
		a.setState(ports.StateConnected)
	}
	a.bufMu.Unlock()
	a.mu.Unlock()

	if pending {
		// Run replays the buffer before the sink becomes usable.
		a.signal()
		return nil
	}
	a.obs.LogInfo("sink_connected", ports.F("sink", a.Name()))
	return nil
}

// beginConnect moves the adapter to Connecting unless it is closed.
func (a *Adapter) beginConnect() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() == ports.StateClosed {
		return false
	}
	a.setState(ports.StateConnecting)
	return true
}

func (a *Adapter) abortConnect() {
	a.mu.Lock()
	if a.State() != ports.StateClosed {
		a.setState(ports.StateDisconnected)
	}
	a.mu.Unlock()
}

// openStore is cancelled by Close as well as by ctx.
func (a *Adapter) openStore(ctx context.Context) error {
	octx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(a.life, cancel)
	defer stop()
	return a.store.Open(octx)
}

// Commit is synchronous and never panics. While the sink is not connected it
// fails fast with a SinkConnectionError.
func (a *Adapter) Commit(ctx context.Context, env domain.Envelope) error {
	if a.State() != ports.StateConnected {
		if cause := a.unavailable(env); cause != nil {
			return cause
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() != ports.StateConnected {
		if cause := a.unavailable(env); cause != nil {
			return cause
		}
	}

	err := a.commitLocked(ctx, env)
	if err == nil {
		return nil
	}

	var connErr *domain.SinkConnectionError
	if errors.As(err, &connErr) || a.pingLocked(ctx) != nil {
		a.setState(ports.StateDisconnected)
		if connErr == nil {
			connErr = &domain.SinkConnectionError{Sink: a.Name(), Op: "commit", Err: err}
		}
		a.unavailable(env)
		a.obs.LogWarn("sink_connection_lost",
			ports.F("sink", a.Name()), ports.F("kind", env.Kind().String()), ports.F("key", env.Key()), ports.F("error", err.Error()))
		a.signal()
		return connErr
	}

	a.failed(env, err)
	var commitErr *domain.SinkCommitError
	if !errors.As(err, &commitErr) {
		commitErr = &domain.SinkCommitError{Sink: a.Name(), Kind: env.Kind(), Key: env.Key(), Err: err}
	}
	return commitErr
}

func (a *Adapter) commitLocked(ctx context.Context, env domain.Envelope) error {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.CommitTimeout)
	defer cancel()

	start := time.Now()
	err := a.storeCommit(cctx, env)
	a.obs.ObserveLatency(ports.MetricCommitLatency, time.Since(start).Seconds(), a.Name())
	if err == nil {
		a.obs.IncCounter(ports.MetricCommits, 1, a.Name(), env.Kind().String(), "ok")
	}
	return err
}

// storeCommit turns a store panic into a SinkCommitError for that record.
func (a *Adapter) storeCommit(ctx context.Context, env domain.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.SinkCommitError{Sink: a.Name(), Kind: env.Kind(), Key: env.Key(), Err: fmt.Errorf("panic: %v", r)}
			a.obs.LogError("sink_commit_panic", err, ports.F("sink", a.Name()), ports.F("key", env.Key()))
		}
	}()
	return a.store.Commit(ctx, env)
}

func (a *Adapter) pingLocked(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, a.cfg.CommitTimeout)
	defer cancel()
	return a.store.Ping(pctx)
}

// failed records a per-record commit error. The connection stays up.
func (a *Adapter) failed(env domain.Envelope, err error) {
	a.obs.IncCounter(ports.MetricCommits, 1, a.Name(), env.Kind().String(), "commit_error")
	a.obs.LogError("sink_commit_failed", err,
		ports.F("sink", a.Name()), ports.F("kind", env.Kind().String()), ports.F("key", env.Key()))
	a.deadLetter(env, err)
}

// unavailable applies the outage policy to env and returns the error handed
// to the caller. It returns nil if the sink became connected meanwhile.
func (a *Adapter) unavailable(env domain.Envelope) error {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	if a.State() == ports.StateConnected {
		return nil
	}

	cause := &domain.SinkConnectionError{Sink: a.Name(), Op: "commit", Err: domain.ErrSinkDisconnected}
	a.obs.IncCounter(ports.MetricCommits, 1, a.Name(), env.Kind().String(), "disconnected")
	if a.retry != nil && a.State() != ports.StateClosed {
		if evicted, ok := a.retry.push(env); ok {
			a.deadLetter(evicted, fmt.Errorf("retry buffer full: %w", cause))
		}
		a.obs.SetGauge(ports.MetricRetryBuffer, float64(a.retry.len()), a.Name())
		return cause
	}
	if !env.Kind().Coalesced() {
		a.obs.LogWarn("sink_commit_dropped",
			ports.F("sink", a.Name()), ports.F("kind", env.Kind().String()), ports.F("key", env.Key()))
		a.deadLetter(env, cause)
	}
	return cause
}

func (a *Adapter) deadLetter(env domain.Envelope, cause error) {
	a.obs.RecordDeadLetter(a.Name(), env, cause)
	if a.dl == nil {
		return
	}
	if err := a.dl.Append(a.Name(), env, cause); err != nil {
		a.obs.LogError("dead_letter_append_failed", err, ports.F("sink", a.Name()), ports.F("key", env.Key()))
	}
}

func (a *Adapter) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run supervises the connection until ctx is done or Close is called: it
// pings the store every HealthInterval and reconnects with backoff.
func (a *Adapter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.HealthInterval)
	defer ticker.Stop()

	if a.State() != ports.StateConnected {
		a.reconnect(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.life.Done():
			return nil
		case <-a.wake:
		case <-ticker.C:
			a.checkLiveness(ctx)
		}
		if s := a.State(); s != ports.StateConnected && s != ports.StateClosed {
			a.reconnect(ctx)
		}
	}
}

// checkLiveness pings outside mu so commits keep flowing during the ping.
func (a *Adapter) checkLiveness(ctx context.Context) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.State() != ports.StateConnected {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, a.cfg.CommitTimeout)
	err := a.store.Ping(pctx)
	cancel()
	if err == nil {
		return
	}
	a.mu.Lock()
	if a.State() == ports.StateConnected {
		a.setState(ports.StateDisconnected)
	}
	a.mu.Unlock()
	a.obs.LogWarn("sink_health_check_failed", ports.F("sink", a.Name()), ports.F("error", err.Error()))
}

func (a *Adapter) reconnect(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-a.life.Done():
			return
		default:
		}

		ok, err := a.reconnectOnce(ctx)
		if ok {
			a.obs.IncCounter(ports.MetricSinkReconnects, 1, a.Name())
			a.obs.LogInfo("sink_connected", ports.F("sink", a.Name()), ports.F("attempt", attempt))
			return
		}
		if err != nil {
			a.obs.LogWarn("sink_reconnect_failed",
				ports.F("sink", a.Name()), ports.F("attempt", attempt), ports.F("error", err.Error()))
		}

		if sleepErr := a.sleep(ctx, attempt); sleepErr != nil {
			return
		}
	}
}

func (a *Adapter) reconnectOnce(ctx context.Context) (bool, error) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if !a.beginConnect() {
		return false, nil
	}
	if err := a.openStore(ctx); err != nil {
		a.abortConnect()
		return false, err
	}
	if !a.drain(ctx) {
		a.abortConnect()
		return false, nil
	}
	return true, nil
}

func (a *Adapter) sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(a.cfg.Backoff.Next(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.life.Done():
		return domain.ErrSinkDisconnected
	case <-t.C:
		return nil
	}
}

// drain replays buffered records in order. Commits arriving meanwhile are
// appended behind them. The sink becomes Connected only once the buffer is
// empty.
func (a *Adapter) drain(ctx context.Context) bool {
	for {
		env, stamp, more, ok := a.nextReplay()
		if !ok {
			return false
		}
		if !more {
			return true
		}

		a.mu.Lock()
		err := a.commitLocked(ctx, env)
		var connErr *domain.SinkConnectionError
		lost := err != nil && (errors.As(err, &connErr) || a.pingLocked(ctx) != nil)
		a.mu.Unlock()
		if lost {
			return false
		}

		a.bufMu.Lock()
		a.retry.ack(stamp)
		a.obs.SetGauge(ports.MetricRetryBuffer, float64(a.retry.len()), a.Name())
		a.bufMu.Unlock()

		if err != nil {
			a.failed(env, err)
		}
	}
}

// nextReplay returns the oldest buffered record. When the buffer is empty it
// marks the sink Connected and reports more=false; ok=false means closed.
func (a *Adapter) nextReplay() (env domain.Envelope, stamp uint64, more, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	if a.State() == ports.StateClosed {
		return env, 0, false, false
	}
	if a.retry == nil || a.retry.len() == 0 {
		a.setState(ports.StateConnected)
		return env, 0, false, true
	}
	return a.retry.front(), a.retry.frontStamp(), true, true
}

// Close stops the supervisor, dead-letters anything still buffered and
// closes the store. A connection attempt in flight is cancelled.
func (a *Adapter) Close() error {
	a.kill()

	a.connMu.Lock()
	defer a.connMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bufMu.Lock()
	if a.State() == ports.StateClosed {
		a.bufMu.Unlock()
		return nil
	}
	a.setState(ports.StateClosed)
	if a.retry != nil {
		for a.retry.len() > 0 {
			a.deadLetter(a.retry.pop(), errors.New("sink closed before replay"))
		}
		a.obs.SetGauge(ports.MetricRetryBuffer, 0, a.Name())
	}
	a.bufMu.Unlock()
	return a.store.Close()
}

// Pending reports how many records wait for replay.
func (a *Adapter) Pending() int {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	if a.retry == nil {
		return 0
	}
	return a.retry.len()
}

var (
	_ ports.Sink       = (*Adapter)(nil)
	_ ports.Supervisor = (*Adapter)(nil)
)
