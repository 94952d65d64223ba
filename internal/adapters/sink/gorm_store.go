package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

// GormStore upserts through gorm and creates its tables on Open.
type GormStore struct {
	name      string
	dialector func() gorm.Dialector
	prefix    string

	db *gorm.DB
}

// NewGormStore supports the gorm-postgres and sqlite drivers.
func NewGormStore(d Descriptor) (*GormStore, error) {
	g := &GormStore{name: d.Name}
	switch d.Driver {
	case DriverGormPostgres:
		dsn := d.postgresDSN()
		g.dialector = func() gorm.Dialector { return postgres.Open(dsn) }
		if d.Schema != "" {
			g.prefix = d.Schema + "."
		}
	case DriverSQLite:
		path := d.Path
		if path == "" {
			return nil, fmt.Errorf("sink %s: sqlite needs a path", d.Name)
		}
		g.dialector = func() gorm.Dialector { return sqlite.Open(path) }
		if d.Schema != "" {
			g.prefix = d.Schema + "_"
		}
	default:
		return nil, fmt.Errorf("sink %s: unsupported gorm driver %q", d.Name, d.Driver)
	}
	return g, nil
}

func (g *GormStore) Name() string { return g.name }

func (g *GormStore) Open(ctx context.Context) error {
	g.release()

	db, err := gorm.Open(g.dialector(), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{TablePrefix: g.prefix},
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return &domain.SinkConnectionError{Sink: g.name, Op: "connect", Err: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return &domain.SinkConnectionError{Sink: g.name, Op: "connect", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return &domain.SinkConnectionError{Sink: g.name, Op: "connect", Err: err}
	}

	models := make([]any, 0, len(domain.Kinds()))
	for _, k := range domain.Kinds() {
		rec, _ := domain.NewRecord(k)
		models = append(models, model(rec))
	}
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		sqlDB.Close()
		return &domain.SinkConnectionError{Sink: g.name, Op: "migrate", Err: err}
	}

	g.db = db
	return nil
}

func (g *GormStore) Ping(ctx context.Context) error {
	if g.db == nil {
		return &domain.SinkConnectionError{Sink: g.name, Op: "ping", Err: domain.ErrSinkDisconnected}
	}
	sqlDB, err := g.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return &domain.SinkConnectionError{Sink: g.name, Op: "ping", Err: err}
	}
	return nil
}

func (g *GormStore) Commit(ctx context.Context, env domain.Envelope) error {
	if g.db == nil {
		return &domain.SinkConnectionError{Sink: g.name, Op: "commit", Err: domain.ErrSinkDisconnected}
	}
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(model(env.Record))
	if res.Error != nil {
		if isConnError(res.Error) || errors.Is(res.Error, gorm.ErrInvalidDB) {
			return &domain.SinkConnectionError{Sink: g.name, Op: "commit", Err: res.Error}
		}
		return &domain.SinkCommitError{Sink: g.name, Kind: env.Kind(), Key: env.Key(), Err: res.Error}
	}
	return nil
}

func (g *GormStore) Close() error {
	return g.release()
}

func (g *GormStore) release() error {
	if g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	g.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// model returns a pointer gorm can reflect on.
func model(r domain.Record) any {
	switch v := r.(type) {
	case domain.Quote:
		return &v
	case domain.Trade:
		return &v
	case domain.User:
		return &v
	case domain.Symbol:
		return &v
	case domain.Group:
		return &v
	case domain.SymbolGroup:
		return &v
	case domain.Margin:
		return &v
	}
	panic(fmt.Sprintf("sink: unknown record %T", r))
}

var _ ports.Store = (*GormStore)(nil)
