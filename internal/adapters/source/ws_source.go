package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghalamif/TradeReplica/internal/backoff"
	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// Config captures one trading-server gateway session.
type Config struct {
	ID                 int
	Address            string
	Login              int64
	Password           string
	SyncMargins        bool
	MarginSyncInterval time.Duration
	SkipQuotes         bool
	PingInterval       time.Duration
	ReadTimeout        time.Duration
	HandshakeTimeout   time.Duration
	Backoff            backoff.Backoff
}

func (c *Config) ApplyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.PingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MarginSyncInterval <= 0 {
		c.MarginSyncInterval = time.Minute
	}
	if c.Backoff.Min <= 0 {
		c.Backoff = backoff.Default()
	}
}

func (c *Config) Validate() error {
	if c.ID <= 0 {
		return errors.New("source id must be positive")
	}
	if c.Address == "" {
		return errors.New("address is required")
	}
	u, err := url.Parse(c.Address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("address scheme %q must be ws or wss", u.Scheme)
	}
	if c.Login <= 0 {
		return errors.New("login is required")
	}
	return nil
}

var (
	errNotConnected   = errors.New("not connected")
	errPumpingStopped = errors.New("server stopped pumping")
)

// WSSource keeps one authenticated gateway session alive and turns its
// events into envelopes. Events are handled on the read goroutine in
// arrival order; the only blocking call on that path is the queue push.
type WSSource struct {
	cfg   Config
	obs   ports.Observability
	label string

	state        atomic.Int32
	lastActivity atomic.Int64
	pumping      atomic.Bool
	accepting    atomic.Bool

	mu      sync.Mutex
	conn    *websocket.Conn
	out     ports.Publisher
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewWSSource(cfg Config, obs ports.Observability) (*WSSource, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &domain.ConfigError{Field: "sources[" + strconv.Itoa(cfg.ID) + "]", Err: err}
	}
	s := &WSSource{cfg: cfg, obs: obs, label: strconv.Itoa(cfg.ID)}
	s.setState(ports.StateDisconnected)
	return s, nil
}

func (s *WSSource) ID() int { return s.cfg.ID }

func (s *WSSource) State() ports.ConnState { return ports.ConnState(s.state.Load()) }

// LastActivity is the time of the last frame or pong from the gateway.
func (s *WSSource) LastActivity() time.Time {
	ns := s.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Pumping reports whether the gateway is currently streaming live events.
func (s *WSSource) Pumping() bool { return s.pumping.Load() }

func (s *WSSource) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *WSSource) setState(st ports.ConnState) {
	for {
		cur := s.state.Load()
		if ports.ConnState(cur) == ports.StateClosed && st != ports.StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			break
		}
	}
	v := 0.0
	if st == ports.StateConnected {
		v = 1
	}
	s.obs.SetGauge(ports.MetricSourceConnected, v, s.label)
}

// Start launches the session loop and returns immediately.
func (s *WSSource) Start(ctx context.Context, out ports.Publisher) error {
	s.mu.Lock()
	if s.State() == ports.StateClosed {
		s.mu.Unlock()
		return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "start", Err: domain.ErrSourceStopped}
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("source %d already started", s.cfg.ID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx, s.cancel, s.out, s.started = runCtx, cancel, out, true
	s.accepting.Store(true)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)
	if s.cfg.SyncMargins {
		s.wg.Add(1)
		go s.marginLoop(runCtx)
	}
	return nil
}

func (s *WSSource) run(ctx context.Context) {
	defer s.wg.Done()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		established, err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			attempt = 0
		}
		attempt++
		s.obs.IncCounter(ports.MetricSourceReconnects, 1, s.label)
		s.obs.LogWarn("source_disconnected",
			ports.F("source", s.cfg.ID), ports.F("attempt", attempt), ports.F("error", err.Error()))
		if s.cfg.Backoff.Sleep(ctx, attempt) != nil {
			return
		}
	}
}

// session runs one connection from dial to failure. established reports
// whether the login succeeded.
func (s *WSSource) session(ctx context.Context) (established bool, err error) {
	s.setState(ports.StateConnecting)
	defer s.setState(ports.StateDisconnected)

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.Address, nil)
	if err != nil {
		return false, &domain.SourceConnectionError{Source: s.cfg.ID, Op: "dial", Err: err}
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer s.closeConn(false)

	if err := s.login(conn); err != nil {
		return false, err
	}
	s.touch()
	s.setState(ports.StateConnected)
	s.obs.LogInfo("source_connected", ports.F("source", s.cfg.ID), ports.F("address", s.cfg.Address))

	conn.SetPongHandler(func(string) error {
		s.touch()
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	// Full snapshot first so state converges after events missed while down.
	if err := s.write(Frame{Type: frameSync}); err != nil {
		return true, &domain.SourceConnectionError{Source: s.cfg.ID, Op: "sync", Err: err}
	}

	done := make(chan struct{})
	defer close(done)
	go s.pinger(ctx, conn, done)

	return true, s.readLoop(conn)
}

func (s *WSSource) login(conn *websocket.Conn) error {
	if err := s.write(authFrame(s.cfg.Login, s.cfg.Password)); err != nil {
		return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "auth", Err: err}
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "auth", Err: err}
	}
	switch reply.Type {
	case frameAuthOK:
		return nil
	case frameAuthError:
		return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "auth", Err: fmt.Errorf("rejected: %s", reply.Error)}
	}
	return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "auth", Err: fmt.Errorf("unexpected %q reply", reply.Type)}
}

func (s *WSSource) write(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
	return conn.WriteJSON(f)
}

func (s *WSSource) pinger(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-t.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.ReadTimeout))
			if err != nil {
				s.obs.LogWarn("source_ping_failed", ports.F("source", s.cfg.ID), ports.F("error", err.Error()))
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *WSSource) readLoop(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "read", Err: err}
		}
		s.touch()

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.dropMalformed(&domain.SourceProtocolError{Source: s.cfg.ID, Type: "frame", Err: err})
			continue
		}
		if s.dispatch(f) {
			return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "read", Err: errPumpingStopped}
		}
	}
}

// dispatch routes one frame and reports whether the session must be restarted.
func (s *WSSource) dispatch(f Frame) bool {
	switch f.Type {
	case framePing, frameAuthOK:
		return false
	case framePumpingStart:
		s.OnPumpingStart()
		return false
	case framePumpingStop:
		s.OnPumpingStop()
		return true
	}

	action, rec, key, err := decodeEvent(f)
	if err != nil {
		s.dropMalformed(&domain.SourceProtocolError{Source: s.cfg.ID, Type: f.Type, Key: key, Err: err})
		return false
	}
	switch r := rec.(type) {
	case domain.Quote:
		s.OnQuote(r)
	case domain.Trade:
		s.OnTrade(action, r)
	case domain.User:
		s.OnUser(action, r)
	case domain.Symbol:
		s.OnSymbol(action, r)
	case domain.Group:
		s.OnGroup(action, r)
	case domain.SymbolGroup:
		s.OnSymbolGroup(action, r)
	case domain.Margin:
		s.OnMarginLevel(r)
	}
	return false
}

func (s *WSSource) dropMalformed(err *domain.SourceProtocolError) {
	s.obs.IncCounter(ports.MetricSourceDropped, 1, s.label, "malformed")
	s.obs.LogWarn("source_event_dropped",
		ports.F("source", s.cfg.ID), ports.F("type", err.Type), ports.F("key", err.Key), ports.F("error", err.Error()))
}

func (s *WSSource) OnPumpingStart() {
	s.pumping.Store(true)
	s.obs.LogInfo("source_pumping_started", ports.F("source", s.cfg.ID))
}

// OnPumpingStop marks the session dead; the read loop then reconnects.
func (s *WSSource) OnPumpingStop() {
	s.pumping.Store(false)
	s.setState(ports.StateDisconnected)
	s.obs.LogWarn("source_pumping_stopped", ports.F("source", s.cfg.ID))
}

func (s *WSSource) OnQuote(q domain.Quote) {
	if s.cfg.SkipQuotes {
		s.obs.IncCounter(ports.MetricSourceDropped, 1, s.label, "skip_quotes")
		return
	}
	s.emit(domain.ActionUpdate, q)
}

func (s *WSSource) OnTrade(action domain.Action, t domain.Trade)              { s.emit(action, t) }
func (s *WSSource) OnUser(action domain.Action, u domain.User)                { s.emit(action, u) }
func (s *WSSource) OnSymbol(action domain.Action, sym domain.Symbol)          { s.emit(action, sym) }
func (s *WSSource) OnGroup(action domain.Action, g domain.Group)              { s.emit(action, g) }
func (s *WSSource) OnSymbolGroup(action domain.Action, sg domain.SymbolGroup) { s.emit(action, sg) }
func (s *WSSource) OnMarginLevel(m domain.Margin)                             { s.emit(domain.ActionUpdate, m) }

func (s *WSSource) emit(action domain.Action, rec domain.Record) {
	if !s.accepting.Load() {
		s.obs.IncCounter(ports.MetricSourceDropped, 1, s.label, "stopped")
		return
	}
	s.mu.Lock()
	out, ctx := s.out, s.runCtx
	s.mu.Unlock()
	if out == nil {
		s.obs.IncCounter(ports.MetricSourceDropped, 1, s.label, "not_started")
		return
	}

	env := domain.NewEnvelope(action, s.cfg.ID, rec)
	if err := out.Push(ctx, env); err != nil {
		s.obs.IncCounter(ports.MetricSourceDropped, 1, s.label, dropReason(err))
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, domain.ErrQueueClosed):
		return "queue_closed"
	}
	return "cancelled"
}

// StopPumping makes every later event a no-op. The session stays open until
// Disconnect.
func (s *WSSource) StopPumping() {
	if s.accepting.Swap(false) {
		s.obs.LogInfo("source_pumping_disabled", ports.F("source", s.cfg.ID))
	}
}

// SyncMargins asks the gateway to resend every account's margin level.
func (s *WSSource) SyncMargins(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.State() != ports.StateConnected {
		return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "sync_margins", Err: errNotConnected}
	}
	if err := s.write(Frame{Type: frameSyncMargins}); err != nil {
		return &domain.SourceConnectionError{Source: s.cfg.ID, Op: "sync_margins", Err: err}
	}
	return nil
}

func (s *WSSource) marginLoop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.MarginSyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.State() != ports.StateConnected {
				continue
			}
			if err := s.SyncMargins(ctx); err != nil {
				s.obs.LogWarn("source_margin_sync_failed", ports.F("source", s.cfg.ID), ports.F("error", err.Error()))
			}
		}
	}
}

func (s *WSSource) closeConn(graceful bool) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	_ = conn.Close()
}

// Disconnect ends the session for good and waits for the loops to exit.
func (s *WSSource) Disconnect() error {
	s.accepting.Store(false)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.closeConn(true)
	s.wg.Wait()
	s.setState(ports.StateClosed)
	s.pumping.Store(false)
	s.obs.LogInfo("source_closed", ports.F("source", s.cfg.ID))
	return nil
}

var _ ports.Source = (*WSSource)(nil)
