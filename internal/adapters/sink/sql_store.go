package sink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// SQLStore commits through one prepared upsert per record kind over
// database/sql. The statements are re-prepared on every Open.
type SQLStore struct {
	name   string
	driver string
	dsn    string
	schema string

	openDB func(driver, dsn string) (*sql.DB, error)

	db    *sql.DB
	stmts map[domain.Kind]*sql.Stmt
}

func NewSQLStore(d Descriptor) *SQLStore {
	return &SQLStore{
		name:   d.Name,
		driver: "postgres",
		dsn:    d.postgresDSN(),
		schema: d.Schema,
		openDB: sql.Open,
	}
}

func (s *SQLStore) Name() string { return s.name }

func (s *SQLStore) Open(ctx context.Context) error {
	s.release()

	db, err := s.openDB(s.driver, s.dsn)
	if err != nil {
		return &domain.SinkConnectionError{Sink: s.name, Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &domain.SinkConnectionError{Sink: s.name, Op: "connect", Err: err}
	}

	stmts := make(map[domain.Kind]*sql.Stmt, len(tables))
	for _, t := range tables {
		stmt, err := db.PrepareContext(ctx, upsertSQL(s.schema, t))
		if err != nil {
			for _, st := range stmts {
				st.Close()
			}
			db.Close()
			return &domain.SinkConnectionError{Sink: s.name, Op: "prepare " + t.name, Err: err}
		}
		stmts[t.kind] = stmt
	}

	s.db = db
	s.stmts = stmts
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return &domain.SinkConnectionError{Sink: s.name, Op: "ping", Err: domain.ErrSinkDisconnected}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.SinkConnectionError{Sink: s.name, Op: "ping", Err: err}
	}
	return nil
}

func (s *SQLStore) Commit(ctx context.Context, env domain.Envelope) error {
	stmt, ok := s.stmts[env.Kind()]
	if !ok {
		if s.db == nil {
			return &domain.SinkConnectionError{Sink: s.name, Op: "commit", Err: domain.ErrSinkDisconnected}
		}
		return &domain.SinkCommitError{Sink: s.name, Kind: env.Kind(), Key: env.Key(), Err: fmt.Errorf("no statement for kind")}
	}
	t, _ := tableFor(env.Kind())

	if _, err := stmt.ExecContext(ctx, t.args(env.Record)...); err != nil {
		if isConnError(err) {
			return &domain.SinkConnectionError{Sink: s.name, Op: "commit", Err: err}
		}
		return &domain.SinkCommitError{Sink: s.name, Kind: env.Kind(), Key: env.Key(), Err: err}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.release()
}

func (s *SQLStore) release() error {
	var errs []error
	for _, st := range s.stmts {
		errs = append(errs, st.Close())
	}
	s.stmts = nil
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}

// isConnError separates lost connections from per-record failures.
func isConnError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "57": // connection exception, operator intervention
			return true
		}
	}
	return false
}

var _ ports.Store = (*SQLStore)(nil)
