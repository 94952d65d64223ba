package sink

import (
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/ghalamif/TradeReplica/internal/domain"
)

// table maps one record kind onto an upsert target.
type table struct {
	kind domain.Kind
	name string
	keys []string
	cols []string
	args func(domain.Record) []any
}

var metaCols = []string{"server", "deleted", "updated_at"}

func metaArgs(m domain.Meta) []any {
	return []any{m.Server, m.Deleted, m.UpdatedAt}
}

var tables = []table{
	{
		kind: domain.KindQuote,
		name: "quotes",
		keys: []string{"symbol"},
		cols: []string{"symbol", "bid", "ask", "quote_time"},
		args: func(r domain.Record) []any {
			q := r.(domain.Quote)
			return append([]any{q.Symbol, q.Bid, q.Ask, q.Time}, metaArgs(q.Meta)...)
		},
	},
	{
		kind: domain.KindTrade,
		name: "trades",
		keys: []string{"order_id"},
		cols: []string{"order_id", "login", "symbol", "cmd", "volume", "open_price", "close_price",
			"sl", "tp", "commission", "swap", "profit", "open_time", "close_time", "comment"},
		args: func(r domain.Record) []any {
			t := r.(domain.Trade)
			return append([]any{t.Order, t.Login, t.Symbol, t.Cmd, t.Volume, t.OpenPrice, t.ClosePrice,
				t.StopLoss, t.TakeProfit, t.Commission, t.Swap, t.Profit, t.OpenTime, t.CloseTime, t.Comment},
				metaArgs(t.Meta)...)
		},
	},
	{
		kind: domain.KindUser,
		name: "users",
		keys: []string{"login"},
		cols: []string{"login", "group_name", "name", "email", "country", "leverage", "balance", "credit",
			"enabled", "registered"},
		args: func(r domain.Record) []any {
			u := r.(domain.User)
			return append([]any{u.Login, u.Group, u.Name, u.Email, u.Country, u.Leverage, u.Balance, u.Credit,
				u.Enabled, u.Registered}, metaArgs(u.Meta)...)
		},
	},
	{
		kind: domain.KindSymbol,
		name: "symbols",
		keys: []string{"name"},
		cols: []string{"name", "description", "currency", "digits", "contract_size", "tick_size", "spread",
			"stops_level", "trade_mode"},
		args: func(r domain.Record) []any {
			s := r.(domain.Symbol)
			return append([]any{s.Name, s.Description, s.Currency, s.Digits, s.ContractSize, s.TickSize, s.Spread,
				s.StopsLevel, s.TradeMode}, metaArgs(s.Meta)...)
		},
	},
	{
		kind: domain.KindGroup,
		name: "groups",
		keys: []string{"name"},
		cols: []string{"name", "company", "currency", "default_leverage", "margin_call", "margin_stop_out", "enabled"},
		args: func(r domain.Record) []any {
			g := r.(domain.Group)
			return append([]any{g.Name, g.Company, g.Currency, g.DefaultLevel, g.MarginCall, g.MarginStopOut,
				g.Enabled}, metaArgs(g.Meta)...)
		},
	},
	{
		kind: domain.KindSymbolGroup,
		name: "symbol_groups",
		keys: []string{"group_name", "symbol"},
		cols: []string{"group_name", "symbol", "spread_diff", "commission", "lot_min", "lot_max", "trade_mode"},
		args: func(r domain.Record) []any {
			s := r.(domain.SymbolGroup)
			return append([]any{s.Group, s.Symbol, s.SpreadDiff, s.Commission, s.LotMin, s.LotMax, s.TradeMode},
				metaArgs(s.Meta)...)
		},
	},
	{
		kind: domain.KindMargin,
		name: "margins",
		keys: []string{"login"},
		cols: []string{"login", "group_name", "leverage", "balance", "equity", "margin", "free_margin", "margin_level"},
		args: func(r domain.Record) []any {
			m := r.(domain.Margin)
			return append([]any{m.Login, m.Group, m.Leverage, m.Balance, m.Equity, m.Margin, m.FreeMargin,
				m.MarginLevel}, metaArgs(m.Meta)...)
		},
	},
}

func tableFor(k domain.Kind) (table, bool) {
	for _, t := range tables {
		if t.kind == k {
			return t, true
		}
	}
	return table{}, false
}

func qualify(schema, name string) string {
	if schema == "" {
		return name
	}
	return pq.QuoteIdentifier(schema) + "." + name
}

// upsertSQL renders INSERT ... ON CONFLICT (keys) DO UPDATE for t.
func upsertSQL(schema string, t table) string {
	cols := append(append([]string{}, t.cols...), metaCols...)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qualify(schema, t.name))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("$" + strconv.Itoa(i+1))
	}
	b.WriteString(") ON CONFLICT (")
	b.WriteString(strings.Join(t.keys, ", "))
	b.WriteString(") DO UPDATE SET ")

	first := true
	for _, c := range cols {
		if isKey(t, c) {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(c + " = EXCLUDED." + c)
	}
	return b.String()
}

func isKey(t table, col string) bool {
	for _, k := range t.keys {
		if k == col {
			return true
		}
	}
	return false
}
