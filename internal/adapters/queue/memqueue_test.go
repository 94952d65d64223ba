package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/TradeReplica/internal/domain"
)

func trade(order int64) domain.Envelope {
	return domain.NewEnvelope(domain.ActionAdd, 1, domain.Trade{Order: order})
}

func TestMemQueuePushPopOrder(t *testing.T) {
	q := NewMemQueue(4, false)
	ctx := context.Background()

	if err := q.Push(ctx, trade(1)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Push(ctx, trade(2)); err != nil {
		t.Fatalf("push: %v", err)
	}

	first, ok := q.Pop()
	if !ok || first.Key() != "1" {
		t.Fatalf("unexpected first pop: %+v ok=%v", first, ok)
	}
	second, ok := q.Pop()
	if !ok || second.Key() != "2" {
		t.Fatalf("unexpected second pop: %+v ok=%v", second, ok)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueRejectPolicy(t *testing.T) {
	q := NewMemQueue(2, true)
	ctx := context.Background()

	if q.Push(ctx, trade(1)) != nil || q.Push(ctx, trade(2)) != nil {
		t.Fatalf("expected push within capacity")
	}
	if err := q.Push(ctx, trade(3)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	q.Pop()
	if err := q.Push(ctx, trade(4)); err != nil {
		t.Fatalf("expected push to succeed after pop: %v", err)
	}
}

func TestMemQueueBlocksAtCapacity(t *testing.T) {
	q := NewMemQueue(1, false)
	ctx := context.Background()
	if err := q.Push(ctx, trade(1)); err != nil {
		t.Fatalf("push: %v", err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, trade(2)) }()

	select {
	case <-pushed:
		t.Fatalf("push should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	if env, _ := q.Pop(); env.Key() != "1" {
		t.Fatalf("unexpected pop %s", env.Key())
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("blocked push failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked push was never released")
	}
}

func TestMemQueuePushHonoursContext(t *testing.T) {
	q := NewMemQueue(1, false)
	_ = q.Push(context.Background(), trade(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, trade(2)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestMemQueueShutdownDrainsThenStops(t *testing.T) {
	q := NewMemQueue(0, false)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_ = q.Push(ctx, trade(i))
	}
	q.Shutdown()

	if err := q.Push(ctx, trade(4)); !errors.Is(err, domain.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after shutdown, got %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, ok := q.Pop(); !ok {
			t.Fatalf("pending envelope %d lost on shutdown", i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected sentinel after drain")
	}
}

func TestMemQueueShutdownWakesBlockedCallers(t *testing.T) {
	q := NewMemQueue(1, false)
	_ = q.Push(context.Background(), trade(1))

	var wg sync.WaitGroup
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- q.Push(context.Background(), trade(2))
	}()

	time.Sleep(10 * time.Millisecond)
	q.Shutdown()
	wg.Wait()
	if err := <-errs; !errors.Is(err, domain.ErrQueueClosed) {
		t.Fatalf("expected blocked producer to see ErrQueueClosed, got %v", err)
	}

	empty := NewMemQueue(0, false)
	popped := make(chan bool, 1)
	go func() {
		_, ok := empty.Pop()
		popped <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	empty.Shutdown()
	select {
	case ok := <-popped:
		if ok {
			t.Fatalf("expected sentinel from empty queue")
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked pop was never woken")
	}
}

func TestMemQueueSlowConsumerLosesNothing(t *testing.T) {
	const producers, perProducer = 4, 250
	q := NewMemQueue(8, false)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				order := int64(p*perProducer + i + 1)
				if err := q.Push(context.Background(), trade(order)); err != nil {
					t.Errorf("push %d: %v", order, err)
					return
				}
			}
		}(p)
	}

	seen := make(map[string]bool, producers*perProducer)
	lastPerProducer := make(map[int]int64)
	for len(seen) < producers*perProducer {
		env, ok := q.Pop()
		if !ok {
			t.Fatalf("queue closed unexpectedly")
		}
		if seen[env.Key()] {
			t.Fatalf("duplicate envelope %s", env.Key())
		}
		seen[env.Key()] = true

		order := env.Record.(domain.Trade).Order
		p := int((order - 1) / perProducer)
		if order <= lastPerProducer[p] {
			t.Fatalf("producer %d order violated: %d after %d", p, order, lastPerProducer[p])
		}
		lastPerProducer[p] = order
		if len(seen)%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}
