package sink

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ghalamif/TradeReplica/internal/domain"
)

func newMockedSQLStore(t *testing.T, schema string) (*SQLStore, sqlmock.Sqlmock, map[domain.Kind]*sqlmock.ExpectedPrepare) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(Descriptor{Name: "pg", Schema: schema})
	store.openDB = func(string, string) (*sql.DB, error) { return db, nil }

	preps := make(map[domain.Kind]*sqlmock.ExpectedPrepare, len(tables))
	for _, tb := range tables {
		preps[tb.kind] = mock.ExpectPrepare(regexp.QuoteMeta(upsertSQL(schema, tb)))
	}
	return store, mock, preps
}

func TestSQLStoreCommitQuote(t *testing.T) {
	store, mock, preps := newMockedSQLStore(t, "")
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	expected := "INSERT INTO quotes (symbol, bid, ask, quote_time, server, deleted, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7) " +
		"ON CONFLICT (symbol) DO UPDATE SET bid = EXCLUDED.bid, ask = EXCLUDED.ask, quote_time = EXCLUDED.quote_time, " +
		"server = EXCLUDED.server, deleted = EXCLUDED.deleted, updated_at = EXCLUDED.updated_at"
	if got := upsertSQL("", tables[0]); got != expected {
		t.Fatalf("unexpected quote upsert:\n%s", got)
	}

	bid := decimal.RequireFromString("1.1005")
	ask := decimal.RequireFromString("1.1007")
	preps[domain.KindQuote].ExpectExec().
		WithArgs("EURUSD", bid, ask, sqlmock.AnyArg(), 3, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	env := domain.NewEnvelope(domain.ActionUpdate, 3, domain.Quote{Symbol: "EURUSD", Bid: bid, Ask: ask, Time: time.Now()})
	if err := store.Commit(context.Background(), env); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreCommitDeleteSetsFlag(t *testing.T) {
	store, mock, preps := newMockedSQLStore(t, "replica")
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	preps[domain.KindSymbolGroup].ExpectExec().
		WithArgs("vip", "XAUUSD", 2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0, 1, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	env := domain.NewEnvelope(domain.ActionDelete, 1, domain.SymbolGroup{Group: "vip", Symbol: "XAUUSD", SpreadDiff: 2})
	if err := store.Commit(context.Background(), env); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreClassifiesFailures(t *testing.T) {
	store, mock, preps := newMockedSQLStore(t, "")
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	preps[domain.KindTrade].ExpectExec().WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	preps[domain.KindTrade].ExpectExec().WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	env := domain.NewEnvelope(domain.ActionAdd, 1, domain.Trade{Order: 1001})

	var commitErr *domain.SinkCommitError
	if err := store.Commit(context.Background(), env); !errors.As(err, &commitErr) || commitErr.Key != "1001" {
		t.Fatalf("expected SinkCommitError for 1001, got %v", err)
	}
	var connErr *domain.SinkConnectionError
	if err := store.Commit(context.Background(), env); !errors.As(err, &connErr) {
		t.Fatalf("expected SinkConnectionError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreFailsFastWhenNotOpen(t *testing.T) {
	store := NewSQLStore(Descriptor{Name: "pg"})

	var connErr *domain.SinkConnectionError
	if err := store.Ping(context.Background()); !errors.As(err, &connErr) {
		t.Fatalf("expected connection error from ping, got %v", err)
	}
	env := domain.NewEnvelope(domain.ActionAdd, 1, domain.User{Login: 1})
	if err := store.Commit(context.Background(), env); !errors.Is(err, domain.ErrSinkDisconnected) {
		t.Fatalf("expected ErrSinkDisconnected, got %v", err)
	}
}

func TestSQLStoreOpenPrepareFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewSQLStore(Descriptor{Name: "pg"})
	store.openDB = func(string, string) (*sql.DB, error) { return db, nil }
	mock.ExpectPrepare("INSERT INTO quotes").WillReturnError(errors.New("permission denied"))

	var connErr *domain.SinkConnectionError
	if err := store.Open(context.Background()); !errors.As(err, &connErr) || connErr.Op != "prepare quotes" {
		t.Fatalf("expected prepare failure, got %v", err)
	}
	if store.db != nil || store.stmts != nil {
		t.Fatalf("failed open must not leave a handle behind")
	}
}

func TestDescriptorPostgresDSN(t *testing.T) {
	d := Descriptor{Host: "db", Port: 5433, User: "repl", Password: "s3cret", Database: "mt"}
	if got := d.postgresDSN(); got != "postgres://repl:s3cret@db:5433/mt?connect_timeout=5&sslmode=disable" {
		t.Fatalf("unexpected dsn %s", got)
	}
	if got := (Descriptor{DSN: "postgres://x"}).postgresDSN(); got != "postgres://x" {
		t.Fatalf("explicit dsn not honoured: %s", got)
	}
	if got := (Descriptor{DialTimeout: 300 * time.Millisecond}).postgresDSN(); !strings.Contains(got, "connect_timeout=1&") {
		t.Fatalf("sub-second dial timeout must round up to 1s: %s", got)
	}
	if got := (Descriptor{DialTimeout: 2100 * time.Millisecond}).postgresDSN(); !strings.Contains(got, "connect_timeout=3&") {
		t.Fatalf("dial timeout must round up: %s", got)
	}
	if got := qualify("mt4", "quotes"); got != `"mt4".quotes` {
		t.Fatalf("unexpected qualified name %s", got)
	}
}
