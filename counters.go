package nvsim

import (
	"fmt"
	"sort"
)

// Counters holds the named event/duration counters for a single
// component instance. Counters are owned by their controller; there is
// no global singleton (per the "Counters as module-level state" design
// note) — dumping aggregates by tree walk in DumpTree.
type Counters struct {
	domain string // component type, e.g. "rmw", "ait", "ddr4"
	name   string // instance name, e.g. "rmw0"
	counts map[string]uint64
}

// NewCounters creates a counter set for a component of the given domain
// (type) and instance name.
func NewCounters(domain, name string) *Counters {
	return &Counters{domain: domain, name: name, counts: make(map[string]uint64)}
}

// Inc increments the named counter by one.
func (c *Counters) Inc(key string) { c.Add(key, 1) }

// Add increments the named counter by n.
func (c *Counters) Add(key string, n uint64) {
	c.counts[key] += n
}

// Get returns the current value of the named counter.
func (c *Counters) Get(key string) uint64 { return c.counts[key] }

// Lines renders this counter set as sorted "cnt.<domain>.<name>.<key>: N"
// lines, per §6.4.
func (c *Counters) Lines() []string {
	keys := make([]string, 0, len(c.counts))
	for k := range c.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("cnt.%s.%s.%s: %d", c.domain, c.name, k, c.counts[k]))
	}
	return lines
}
