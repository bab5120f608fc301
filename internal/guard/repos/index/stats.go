package index

import "sync/atomic"

// counter is a monotonic, lock-free counter used by Stats.
type counter struct {
	v atomic.Uint64
}

func (c *counter) add(n uint64) { c.v.Add(n) }
func (c *counter) load() uint64 { return c.v.Load() }
