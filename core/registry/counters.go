package registry

import "sync"

// Counters holds the process-wide accepted/denied totals. They only ever
// grow, except when the standby replaces them wholesale from a snapshot.
// Lock order across the process is registry first, counters second; no
// call site ever acquires them the other way around.
type Counters struct {
	mu       sync.Mutex
	accepted int64
	denied   int64
}

func NewCounters() *Counters { return &Counters{} }

func (c *Counters) IncAccepted() {
	c.mu.Lock()
	c.accepted++
	c.mu.Unlock()
}

func (c *Counters) IncDenied() {
	c.mu.Lock()
	c.denied++
	c.mu.Unlock()
}

// Totals returns the current accepted and denied counts.
func (c *Counters) Totals() (accepted, denied int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted, c.denied
}

// Set replaces both totals. Only the snapshot restore path uses it.
func (c *Counters) Set(accepted, denied int64) {
	c.mu.Lock()
	c.accepted = accepted
	c.denied = denied
	c.mu.Unlock()
}
