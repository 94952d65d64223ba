package sink

import "github.com/ghalamif/TradeReplica/internal/domain"

// retryBuffer is a bounded FIFO of envelopes awaiting replay. Quote and
// margin entries are replaced in place by newer values for the same key.
// Every push or replacement gets a fresh stamp so a replayed entry is only
// acknowledged if nothing overwrote it meanwhile.
type retryBuffer struct {
	items []retryEntry
	base  uint64 // sequence number of items[0]
	index map[string]uint64
	max   int
	stamp uint64
}

type retryEntry struct {
	env   domain.Envelope
	stamp uint64
}

func newRetryBuffer(max int) *retryBuffer {
	return &retryBuffer{index: make(map[string]uint64), max: max}
}

func coalesceKey(env domain.Envelope) string {
	return env.Kind().String() + ":" + env.Key()
}

// push appends env. When the buffer is full the oldest entry is evicted and
// returned.
func (b *retryBuffer) push(env domain.Envelope) (domain.Envelope, bool) {
	b.stamp++
	if env.Kind().Coalesced() {
		if seq, ok := b.index[coalesceKey(env)]; ok {
			b.items[seq-b.base] = retryEntry{env: env, stamp: b.stamp}
			return domain.Envelope{}, false
		}
	}

	var (
		evicted domain.Envelope
		full    bool
	)
	if len(b.items) >= b.max {
		evicted, full = b.pop(), true
	}
	if env.Kind().Coalesced() {
		b.index[coalesceKey(env)] = b.base + uint64(len(b.items))
	}
	b.items = append(b.items, retryEntry{env: env, stamp: b.stamp})
	return evicted, full
}

func (b *retryBuffer) front() domain.Envelope {
	return b.items[0].env
}

func (b *retryBuffer) frontStamp() uint64 {
	return b.items[0].stamp
}

// ack pops the front entry if it still carries stamp.
func (b *retryBuffer) ack(stamp uint64) bool {
	if len(b.items) == 0 || b.items[0].stamp != stamp {
		return false
	}
	b.pop()
	return true
}

func (b *retryBuffer) pop() domain.Envelope {
	env := b.items[0].env
	if env.Kind().Coalesced() {
		if seq, ok := b.index[coalesceKey(env)]; ok && seq == b.base {
			delete(b.index, coalesceKey(env))
		}
	}
	b.items[0] = retryEntry{}
	b.items = b.items[1:]
	b.base++
	if len(b.items) == 0 {
		b.items = nil
	}
	return env
}

func (b *retryBuffer) len() int {
	return len(b.items)
}
