package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

const defaultRedisPrefix = "replica"

// RedisStore keeps the latest JSON state per record under
// <prefix>:<kind>:<key> and publishes every change on <prefix>.<kind>.
// A delete action removes the key and still publishes.
type RedisStore struct {
	name   string
	opts   *redis.Options
	prefix string

	rdb *redis.Client
}

func NewRedisStore(d Descriptor) *RedisStore {
	prefix := d.Schema
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		name:   d.Name,
		prefix: prefix,
		opts: &redis.Options{
			Addr:        d.redisAddr(),
			Username:    d.User,
			Password:    d.Password,
			DB:          d.RedisDB,
			DialTimeout: d.dialTimeout(),
			MaxRetries:  -1,
		},
	}
}

func (r *RedisStore) Name() string { return r.name }

func (r *RedisStore) Open(ctx context.Context) error {
	r.release()

	rdb := redis.NewClient(r.opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return &domain.SinkConnectionError{Sink: r.name, Op: "connect", Err: err}
	}
	r.rdb = rdb
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if r.rdb == nil {
		return &domain.SinkConnectionError{Sink: r.name, Op: "ping", Err: domain.ErrSinkDisconnected}
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return &domain.SinkConnectionError{Sink: r.name, Op: "ping", Err: err}
	}
	return nil
}

func (r *RedisStore) Commit(ctx context.Context, env domain.Envelope) error {
	if r.rdb == nil {
		return &domain.SinkConnectionError{Sink: r.name, Op: "commit", Err: domain.ErrSinkDisconnected}
	}

	state, err := json.Marshal(env.Record)
	if err != nil {
		return &domain.SinkCommitError{Sink: r.name, Kind: env.Kind(), Key: env.Key(), Err: err}
	}
	change, err := json.Marshal(env)
	if err != nil {
		return &domain.SinkCommitError{Sink: r.name, Kind: env.Kind(), Key: env.Key(), Err: err}
	}

	key := r.stateKey(env.Kind(), env.Key())
	pipe := r.rdb.Pipeline()
	if env.Action == domain.ActionDelete {
		pipe.Del(ctx, key)
	} else {
		pipe.Set(ctx, key, state, 0)
	}
	pipe.Publish(ctx, r.channel(env.Kind()), change)

	if _, err := pipe.Exec(ctx); err != nil {
		if isRedisConnError(err) {
			return &domain.SinkConnectionError{Sink: r.name, Op: "commit", Err: err}
		}
		return &domain.SinkCommitError{Sink: r.name, Kind: env.Kind(), Key: env.Key(), Err: err}
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.release()
}

func (r *RedisStore) release() error {
	if r.rdb == nil {
		return nil
	}
	err := r.rdb.Close()
	r.rdb = nil
	return err
}

func (r *RedisStore) stateKey(k domain.Kind, key string) string {
	return r.prefix + ":" + k.String() + ":" + key
}

func (r *RedisStore) channel(k domain.Kind) string {
	return r.prefix + "." + k.String()
}

func isRedisConnError(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ ports.Store = (*RedisStore)(nil)
