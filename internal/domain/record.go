package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the closed set of replicated records.
type Kind uint8

const (
	KindQuote Kind = iota + 1
	KindTrade
	KindUser
	KindSymbol
	KindGroup
	KindSymbolGroup
	KindMargin
)

var kindNames = map[Kind]string{
	KindQuote:       "quote",
	KindTrade:       "trade",
	KindUser:        "user",
	KindSymbol:      "symbol",
	KindGroup:       "group",
	KindSymbolGroup: "symbol_group",
	KindMargin:      "margin",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind maps a wire name back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// Coalesced reports whether only the latest value per key is delivered.
func (k Kind) Coalesced() bool {
	return k == KindQuote || k == KindMargin
}

// Kinds lists every record kind in commit order.
func Kinds() []Kind {
	return []Kind{KindQuote, KindTrade, KindUser, KindSymbol, KindGroup, KindSymbolGroup, KindMargin}
}

// Record is one replicated trading-engine row. Implementations are plain
// values and are never mutated after an Envelope is built around them.
type Record interface {
	Kind() Kind
	// Key is the natural key used in logs and for coalescing.
	Key() string
	meta() Meta
	withMeta(Meta) Record
}

// Meta is stamped on every record when it enters the pipeline.
type Meta struct {
	Server    int       `json:"server" gorm:"index"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Quote struct {
	Symbol string          `json:"symbol" gorm:"primaryKey;size:32"`
	Bid    decimal.Decimal `json:"bid" gorm:"type:decimal(20,8)"`
	Ask    decimal.Decimal `json:"ask" gorm:"type:decimal(20,8)"`
	Time   time.Time       `json:"time" gorm:"column:quote_time"`
	Meta   `gorm:"embedded"`
}

type Trade struct {
	Order      int64           `json:"order" gorm:"column:order_id;primaryKey;autoIncrement:false"`
	Login      int64           `json:"login" gorm:"index"`
	Symbol     string          `json:"symbol" gorm:"size:32"`
	Cmd        int             `json:"cmd"`
	Volume     decimal.Decimal `json:"volume" gorm:"type:decimal(20,8)"`
	OpenPrice  decimal.Decimal `json:"open_price" gorm:"type:decimal(20,8)"`
	ClosePrice decimal.Decimal `json:"close_price" gorm:"type:decimal(20,8)"`
	StopLoss   decimal.Decimal `json:"sl" gorm:"column:sl;type:decimal(20,8)"`
	TakeProfit decimal.Decimal `json:"tp" gorm:"column:tp;type:decimal(20,8)"`
	Commission decimal.Decimal `json:"commission" gorm:"type:decimal(20,8)"`
	Swap       decimal.Decimal `json:"swap" gorm:"type:decimal(20,8)"`
	Profit     decimal.Decimal `json:"profit" gorm:"type:decimal(20,8)"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`
	Comment    string          `json:"comment"`
	Meta       `gorm:"embedded"`
}

type User struct {
	Login      int64           `json:"login" gorm:"primaryKey;autoIncrement:false"`
	Group      string          `json:"group" gorm:"column:group_name;size:64"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Country    string          `json:"country"`
	Leverage   int             `json:"leverage"`
	Balance    decimal.Decimal `json:"balance" gorm:"type:decimal(20,8)"`
	Credit     decimal.Decimal `json:"credit" gorm:"type:decimal(20,8)"`
	Enabled    bool            `json:"enabled"`
	Registered time.Time       `json:"registered"`
	Meta       `gorm:"embedded"`
}

type Symbol struct {
	Name         string          `json:"name" gorm:"primaryKey;size:32"`
	Description  string          `json:"description"`
	Currency     string          `json:"currency"`
	Digits       int             `json:"digits"`
	ContractSize decimal.Decimal `json:"contract_size" gorm:"type:decimal(20,8)"`
	TickSize     decimal.Decimal `json:"tick_size" gorm:"type:decimal(20,8)"`
	Spread       int             `json:"spread"`
	StopsLevel   int             `json:"stops_level"`
	TradeMode    int             `json:"trade_mode"`
	Meta         `gorm:"embedded"`
}

type Group struct {
	Name          string `json:"name" gorm:"primaryKey;size:64"`
	Company       string `json:"company"`
	Currency      string `json:"currency"`
	DefaultLevel  int    `json:"default_leverage" gorm:"column:default_leverage"`
	MarginCall    int    `json:"margin_call"`
	MarginStopOut int    `json:"margin_stopout"`
	Enabled       bool   `json:"enabled"`
	Meta          `gorm:"embedded"`
}

// SymbolGroup carries per-group overrides for one symbol.
type SymbolGroup struct {
	Group      string          `json:"group" gorm:"column:group_name;primaryKey;size:64"`
	Symbol     string          `json:"symbol" gorm:"primaryKey;size:32"`
	SpreadDiff int             `json:"spread_diff"`
	Commission decimal.Decimal `json:"commission" gorm:"type:decimal(20,8)"`
	LotMin     decimal.Decimal `json:"lot_min" gorm:"type:decimal(20,8)"`
	LotMax     decimal.Decimal `json:"lot_max" gorm:"type:decimal(20,8)"`
	TradeMode  int             `json:"trade_mode"`
	Meta       `gorm:"embedded"`
}

type Margin struct {
	Login       int64           `json:"login" gorm:"primaryKey;autoIncrement:false"`
	Group       string          `json:"group" gorm:"column:group_name;size:64"`
	Leverage    int             `json:"leverage"`
	Balance     decimal.Decimal `json:"balance" gorm:"type:decimal(20,8)"`
	Equity      decimal.Decimal `json:"equity" gorm:"type:decimal(20,8)"`
	Margin      decimal.Decimal `json:"margin" gorm:"type:decimal(20,8)"`
	FreeMargin  decimal.Decimal `json:"free_margin" gorm:"type:decimal(20,8)"`
	MarginLevel decimal.Decimal `json:"margin_level" gorm:"type:decimal(20,8)"`
	Meta        `gorm:"embedded"`
}

func (Quote) Kind() Kind       { return KindQuote }
func (Trade) Kind() Kind       { return KindTrade }
func (User) Kind() Kind        { return KindUser }
func (Symbol) Kind() Kind      { return KindSymbol }
func (Group) Kind() Kind       { return KindGroup }
func (SymbolGroup) Kind() Kind { return KindSymbolGroup }
func (Margin) Kind() Kind      { return KindMargin }

func (q Quote) Key() string       { return q.Symbol }
func (t Trade) Key() string       { return strconv.FormatInt(t.Order, 10) }
func (u User) Key() string        { return strconv.FormatInt(u.Login, 10) }
func (s Symbol) Key() string      { return s.Name }
func (g Group) Key() string       { return g.Name }
func (s SymbolGroup) Key() string { return s.Group + "/" + s.Symbol }
func (m Margin) Key() string      { return strconv.FormatInt(m.Login, 10) }

func (q Quote) meta() Meta       { return q.Meta }
func (t Trade) meta() Meta       { return t.Meta }
func (u User) meta() Meta        { return u.Meta }
func (s Symbol) meta() Meta      { return s.Meta }
func (g Group) meta() Meta       { return g.Meta }
func (s SymbolGroup) meta() Meta { return s.Meta }
func (m Margin) meta() Meta      { return m.Meta }

func (q Quote) withMeta(m Meta) Record       { q.Meta = m; return q }
func (t Trade) withMeta(m Meta) Record       { t.Meta = m; return t }
func (u User) withMeta(m Meta) Record        { u.Meta = m; return u }
func (s Symbol) withMeta(m Meta) Record      { s.Meta = m; return s }
func (g Group) withMeta(m Meta) Record       { g.Meta = m; return g }
func (s SymbolGroup) withMeta(m Meta) Record { s.Meta = m; return s }
func (mg Margin) withMeta(m Meta) Record     { mg.Meta = m; return mg }

// RecordMeta exposes the stamp of a record built through NewEnvelope.
func RecordMeta(r Record) Meta {
	return r.meta()
}

// NewRecord returns a zero value of the record type for kind.
func NewRecord(k Kind) (Record, bool) {
	switch k {
	case KindQuote:
		return Quote{}, true
	case KindTrade:
		return Trade{}, true
	case KindUser:
		return User{}, true
	case KindSymbol:
		return Symbol{}, true
	case KindGroup:
		return Group{}, true
	case KindSymbolGroup:
		return SymbolGroup{}, true
	case KindMargin:
		return Margin{}, true
	}
	return nil, false
}
