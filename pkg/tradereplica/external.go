package tradereplica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// MarginSyncFunc answers a margin resync request for an ExternalSource.
type MarginSyncFunc func(ctx context.Context, src *ExternalSource) error

// ExternalSource lets an embedding program publish records it obtained
// itself, with the same queue policy and shutdown handling as a gateway
// session. Register it with WithSource or StreamInSource.
type ExternalSource struct {
	id         int
	marginSync MarginSyncFunc

	mu       sync.RWMutex
	out      ports.Publisher
	ctx      context.Context
	state    atomic.Int32
	pumping  atomic.Bool
	lastSeen atomic.Int64
}

// NewExternalSource creates a source with the given server id. marginSync
// may be nil, in which case SyncMargins is a no-op.
func NewExternalSource(id int, marginSync MarginSyncFunc) *ExternalSource {
	return &ExternalSource{id: id, marginSync: marginSync}
}

func (s *ExternalSource) ID() int { return s.id }

func (s *ExternalSource) Start(ctx context.Context, out Publisher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ports.ConnState(s.state.Load()) == ports.StateClosed {
		return &domain.SourceConnectionError{Source: s.id, Op: "start", Err: domain.ErrSourceStopped}
	}
	if s.out != nil {
		return fmt.Errorf("source %d already started", s.id)
	}
	s.out = out
	s.ctx = ctx
	s.pumping.Store(true)
	s.state.Store(int32(ports.StateConnected))
	return nil
}

// Publish wraps rec in an envelope and pushes it. It blocks under queue
// backpressure and fails with ErrSourceStopped once pumping stopped.
func (s *ExternalSource) Publish(ctx context.Context, action Action, rec Record) error {
	if rec == nil {
		return errors.New("record is required")
	}
	s.mu.RLock()
	out, runCtx := s.out, s.ctx
	s.mu.RUnlock()
	if out == nil || !s.pumping.Load() {
		return domain.ErrSourceStopped
	}
	if runCtx != nil && runCtx.Err() != nil {
		return domain.ErrSourceStopped
	}
	s.lastSeen.Store(time.Now().UnixNano())
	return out.Push(ctx, domain.NewEnvelope(action, s.id, rec))
}

func (s *ExternalSource) StopPumping() { s.pumping.Store(false) }

func (s *ExternalSource) Disconnect() error {
	s.pumping.Store(false)
	s.state.Store(int32(ports.StateClosed))
	return nil
}

func (s *ExternalSource) SyncMargins(ctx context.Context) error {
	if ports.ConnState(s.state.Load()) != ports.StateConnected {
		return &domain.SourceConnectionError{Source: s.id, Op: "sync_margins", Err: domain.ErrSourceStopped}
	}
	if s.marginSync == nil {
		return nil
	}
	return s.marginSync(ctx, s)
}

func (s *ExternalSource) State() ConnState { return ports.ConnState(s.state.Load()) }

func (s *ExternalSource) LastActivity() time.Time {
	n := s.lastSeen.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

var _ ports.Source = (*ExternalSource)(nil)
