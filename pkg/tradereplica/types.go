package tradereplica

import (
	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// Envelope is one change event travelling from a source to every sink.
type Envelope = domain.Envelope

// Record is the payload of an envelope: one of the record types below.
type Record = domain.Record

type (
	Quote       = domain.Quote
	Trade       = domain.Trade
	User        = domain.User
	Symbol      = domain.Symbol
	Group       = domain.Group
	SymbolGroup = domain.SymbolGroup
	Margin      = domain.Margin
	Meta        = domain.Meta
)

// Kind names a record type.
type Kind = domain.Kind

// Action is the change carried by an envelope: add, update or delete.
type Action = domain.Action

const (
	ActionAdd    = domain.ActionAdd
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// Source owns one trading-server session and pushes its events.
type Source = ports.Source

// Sink receives every forwarded envelope.
type Sink = ports.Sink

// Store is a raw persistence connection wrapped by the sink adapter.
type Store = ports.Store

// Publisher accepts envelopes into the queue.
type Publisher = ports.Publisher

// EnvelopeQueue decouples sources from the replicator.
type EnvelopeQueue = ports.EnvelopeQueue

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// DeadLetter keeps records a sink gave up on.
type DeadLetter = ports.DeadLetter

// ConnState is the connectivity status of a source or sink.
type ConnState = ports.ConnState

const (
	StateDisconnected = ports.StateDisconnected
	StateConnecting   = ports.StateConnecting
	StateConnected    = ports.StateConnected
	StateClosed       = ports.StateClosed
)

// NewEnvelope stamps rec with its source id and wraps it.
func NewEnvelope(action Action, sourceID int, rec Record) Envelope {
	return domain.NewEnvelope(action, sourceID, rec)
}
