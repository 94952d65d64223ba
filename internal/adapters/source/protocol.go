package source

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ghalamif/TradeReplica/internal/domain"
)

// Gateway frame types. Record events reuse the kind names (quote, trade,
// user, symbol, group, symbol_group, margin).
const (
	frameAuth         = "auth"
	frameAuthOK       = "auth_ok"
	frameAuthError    = "auth_error"
	frameSync         = "sync"
	frameSyncMargins  = "sync_margins"
	framePing         = "ping"
	framePumpingStart = "pumping_start"
	framePumpingStop  = "pumping_stop"
)

// Frame is one JSON text message on the gateway socket.
type Frame struct {
	Type     string          `json:"type"`
	Action   string          `json:"action,omitempty"`
	Login    int64           `json:"login,omitempty"`
	Password string          `json:"password,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func authFrame(login int64, password string) Frame {
	return Frame{Type: frameAuth, Login: login, Password: password}
}

// EventFrame encodes a record event the way the gateway sends it.
func EventFrame(action domain.Action, rec domain.Record) (Frame, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: rec.Kind().String(), Action: action.String(), Data: data}, nil
}

var errUnknownFrame = errors.New("unknown frame type")

// decodeEvent turns a record frame into its action and typed record. The
// returned key hint is set whenever the payload parsed far enough to have one.
func decodeEvent(f Frame) (domain.Action, domain.Record, string, error) {
	kind, ok := domain.ParseKind(f.Type)
	if !ok {
		return 0, nil, "", errUnknownFrame
	}
	action, err := domain.ParseAction(f.Action)
	if err != nil {
		return 0, nil, "", err
	}
	if len(f.Data) == 0 {
		return 0, nil, "", fmt.Errorf("missing data")
	}
	rec, err := domain.DecodeRecord(kind, f.Data)
	if err != nil {
		return 0, nil, keyHint(kind, f.Data), err
	}
	return action, rec, rec.Key(), nil
}

// keyHint digs the natural key out of a payload that failed to decode so the
// dropped event can still be traced.
func keyHint(kind domain.Kind, data json.RawMessage) string {
	var keyed struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
		Group  string `json:"group"`
		Order  any    `json:"order"`
		Login  any    `json:"login"`
	}
	if json.Unmarshal(data, &keyed) != nil {
		return ""
	}
	switch kind {
	case domain.KindQuote:
		return keyed.Symbol
	case domain.KindTrade:
		return fmt.Sprint(nonNil(keyed.Order))
	case domain.KindUser, domain.KindMargin:
		return fmt.Sprint(nonNil(keyed.Login))
	case domain.KindSymbol, domain.KindGroup:
		return keyed.Name
	case domain.KindSymbolGroup:
		return keyed.Group + "/" + keyed.Symbol
	}
	return ""
}

func nonNil(v any) any {
	if v == nil {
		return ""
	}
	return v
}
