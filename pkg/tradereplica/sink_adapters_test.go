package tradereplica

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackSink(t *testing.T) {
	var received []Envelope
	sink := NewCallbackSink("cb", func(_ context.Context, env Envelope) error {
		received = append(received, env)
		return nil
	})

	input := NewEnvelope(ActionAdd, 3, Trade{Order: 42, Login: 7})
	if err := sink.Commit(context.Background(), input); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(received))
	}
	if got := received[0]; got.Key() != "42" || got.Source != 3 {
		t.Fatalf("mismatched envelope: %+v", got)
	}
	if sink.Name() != "cb" {
		t.Fatalf("unexpected name %q", sink.Name())
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %q", sink.Name())
	}
	if err := sink.Commit(context.Background(), NewEnvelope(ActionAdd, 1, User{Login: 1})); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 0)
	defer closeFn()

	input := NewEnvelope(ActionUpdate, 1, Margin{Login: 9})
	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.Commit(context.Background(), input)
	}()

	select {
	case env := <-ch:
		if env.Key() != "9" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel envelope")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	closeFn()
	if err := sink.Commit(context.Background(), input); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
	if _, open := <-ch; open {
		t.Fatalf("expected channel to be closed")
	}
}

func TestChannelSinkCloseReleasesBlockedCommit(t *testing.T) {
	sink, _, _ := NewChannelSink("chan", 0)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.Commit(context.Background(), NewEnvelope(ActionAdd, 1, Group{Name: "g"}))
	}()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = sink.Close()
		close(done)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked commit was not released")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestChannelSinkHonoursContext(t *testing.T) {
	sink, _, closeFn := NewChannelSink("chan", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := sink.Commit(ctx, NewEnvelope(ActionAdd, 1, Symbol{Name: "XAUUSD"})); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
