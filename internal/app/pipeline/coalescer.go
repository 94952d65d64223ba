package pipeline

import "sync"

// Coalescer keeps the latest value per key until the next Drain.
type Coalescer[K comparable, V any] struct {
	mu         sync.Mutex
	m          map[K]V
	overwrites uint64
}

func NewCoalescer[K comparable, V any]() *Coalescer[K, V] {
	return &Coalescer[K, V]{m: make(map[K]V)}
}

// Put stores v under k and reports whether an undelivered value was replaced.
func (c *Coalescer[K, V]) Put(k K, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, replaced := c.m[k]
	c.m[k] = v
	if replaced {
		c.overwrites++
	}
	return replaced
}

// Drain swaps in an empty map and returns the previous contents. Puts that
// race with Drain land in the new map.
func (c *Coalescer[K, V]) Drain() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.m) == 0 {
		return nil
	}
	out := c.m
	c.m = make(map[K]V, len(out))
	return out
}

func (c *Coalescer[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Overwrites counts values superseded before delivery.
func (c *Coalescer[K, V]) Overwrites() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overwrites
}
