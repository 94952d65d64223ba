package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStore appends every change to one topic keyed by kind and natural
// key, so a partition sees all updates of a record in order.
type KafkaStore struct {
	name    string
	brokers []string
	topic   string
	timeout time.Duration

	newWriter func() messageWriter
	dial      func(ctx context.Context, addr string) (io.Closer, error)

	w messageWriter
}

func NewKafkaStore(d Descriptor) (*KafkaStore, error) {
	if len(d.Brokers) == 0 {
		return nil, fmt.Errorf("sink %s: kafka needs at least one broker", d.Name)
	}
	topic := d.Topic
	if topic == "" {
		topic = defaultRedisPrefix + ".changes"
		if d.Schema != "" {
			topic = d.Schema + ".changes"
		}
	}
	k := &KafkaStore{
		name:    d.Name,
		brokers: d.Brokers,
		topic:   topic,
		timeout: d.dialTimeout(),
	}
	k.newWriter = func() messageWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(k.brokers...),
			Topic:        k.topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: k.timeout,
			MaxAttempts:  1,
		}
	}
	k.dial = func(ctx context.Context, addr string) (io.Closer, error) {
		return kafka.DialContext(ctx, "tcp", addr)
	}
	return k, nil
}

func (k *KafkaStore) Name() string { return k.name }

func (k *KafkaStore) Open(ctx context.Context) error {
	k.release()
	if err := k.Ping(ctx); err != nil {
		return err
	}
	k.w = k.newWriter()
	return nil
}

// Ping succeeds when any broker accepts a connection.
func (k *KafkaStore) Ping(ctx context.Context) error {
	var errs []error
	for _, addr := range k.brokers {
		dctx, cancel := context.WithTimeout(ctx, k.timeout)
		conn, err := k.dial(dctx, addr)
		cancel()
		if err == nil {
			conn.Close()
			return nil
		}
		errs = append(errs, err)
	}
	return &domain.SinkConnectionError{Sink: k.name, Op: "ping", Err: errors.Join(errs...)}
}

func (k *KafkaStore) Commit(ctx context.Context, env domain.Envelope) error {
	if k.w == nil {
		return &domain.SinkConnectionError{Sink: k.name, Op: "commit", Err: domain.ErrSinkDisconnected}
	}
	value, err := json.Marshal(env)
	if err != nil {
		return &domain.SinkCommitError{Sink: k.name, Kind: env.Kind(), Key: env.Key(), Err: err}
	}

	msg := kafka.Message{
		Key:   []byte(env.Kind().String() + ":" + env.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(env.Kind().String())},
			{Key: "action", Value: []byte(env.Action.String())},
		},
		Time: env.Received,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		if isKafkaConnError(err) {
			return &domain.SinkConnectionError{Sink: k.name, Op: "commit", Err: err}
		}
		return &domain.SinkCommitError{Sink: k.name, Kind: env.Kind(), Key: env.Key(), Err: err}
	}
	return nil
}

func (k *KafkaStore) Close() error {
	return k.release()
}

func (k *KafkaStore) release() error {
	if k.w == nil {
		return nil
	}
	err := k.w.Close()
	k.w = nil
	return err
}

func isKafkaConnError(err error) bool {
	var kErr kafka.Error
	if errors.As(err, &kErr) {
		return kErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

var _ ports.Store = (*KafkaStore)(nil)
