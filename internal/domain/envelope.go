package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action mirrors the change type reported by the trading engine.
type Action uint8

const (
	ActionAdd Action = iota + 1
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// ParseAction accepts the wire names add, update and delete. Empty means update.
func ParseAction(s string) (Action, error) {
	switch s {
	case "add":
		return ActionAdd, nil
	case "", "update":
		return ActionUpdate, nil
	case "delete":
		return ActionDelete, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Envelope carries one record through the queue and out to every sink.
// It is passed by value and never mutated after NewEnvelope returns.
type Envelope struct {
	Action   Action
	Source   int
	Received time.Time
	Record   Record
}

// NewEnvelope stamps rec with its origin and wraps it.
func NewEnvelope(action Action, source int, rec Record) Envelope {
	now := time.Now().UTC()
	rec = rec.withMeta(Meta{
		Server:    source,
		Deleted:   action == ActionDelete,
		UpdatedAt: now,
	})
	return Envelope{Action: action, Source: source, Received: now, Record: rec}
}

func (e Envelope) Kind() Kind {
	if e.Record == nil {
		return 0
	}
	return e.Record.Kind()
}

// Key returns the record's natural key.
func (e Envelope) Key() string {
	if e.Record == nil {
		return ""
	}
	return e.Record.Key()
}

type envelopeJSON struct {
	Kind     string          `json:"kind"`
	Action   string          `json:"action"`
	Source   int             `json:"source"`
	Received time.Time       `json:"received"`
	Record   json.RawMessage `json:"record"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Record)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{
		Kind:     e.Kind().String(),
		Action:   e.Action.String(),
		Source:   e.Source,
		Received: e.Received,
		Record:   raw,
	})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	kind, ok := ParseKind(raw.Kind)
	if !ok {
		return fmt.Errorf("unknown kind %q", raw.Kind)
	}
	action, err := ParseAction(raw.Action)
	if err != nil {
		return err
	}
	rec, err := DecodeRecord(kind, raw.Record)
	if err != nil {
		return err
	}
	*e = Envelope{Action: action, Source: raw.Source, Received: raw.Received, Record: rec}
	return nil
}

// DecodeRecord unmarshals a JSON payload into the record type for kind.
func DecodeRecord(kind Kind, payload []byte) (Record, error) {
	var (
		rec Record
		err error
	)
	switch kind {
	case KindQuote:
		var v Quote
		err = json.Unmarshal(payload, &v)
		rec = v
	case KindTrade:
		var v Trade
		err = json.Unmarshal(payload, &v)
		rec = v
	case KindUser:
		var v User
		err = json.Unmarshal(payload, &v)
		rec = v
	case KindSymbol:
		var v Symbol
		err = json.Unmarshal(payload, &v)
		rec = v
	case KindGroup:
		var v Group
		err = json.Unmarshal(payload, &v)
		rec = v
	case KindSymbolGroup:
		var v SymbolGroup
		err = json.Unmarshal(payload, &v)
		rec = v
	case KindMargin:
		var v Margin
		err = json.Unmarshal(payload, &v)
		rec = v
	default:
		return nil, fmt.Errorf("unknown kind %d", kind)
	}
	if err != nil {
		return nil, err
	}
	if k := rec.Key(); k == "" || k == "0" || k == "/" {
		return nil, fmt.Errorf("%s record without key", kind)
	}
	return rec, nil
}
