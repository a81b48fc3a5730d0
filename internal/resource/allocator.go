// Package resource tracks a pool of typed, quantized resources and grants
// or denies allocation requests as a whole.
package resource

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Pool maps a resource type to a quantity.
type Pool map[string]int

// Clone returns an independent copy of the pool.
func (p Pool) Clone() Pool {
	out := make(Pool, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Types returns resource type names in sorted order.
func (p Pool) Types() []string {
	types := make([]string, 0, len(p))
	for k := range p {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// String renders the pool as "a=1,b=2" in sorted order.
func (p Pool) String() string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Types() {
		parts = append(parts, fmt.Sprintf("%s=%d", k, p[k]))
	}
	return strings.Join(parts, ",")
}

// Allocation is a granted reservation held by a task.
type Allocation struct {
	TaskID string
	Demand Pool
}

// Denial explains why a request was refused. Shortfall holds, per resource
// type, how many units were missing. A denial is a scheduling signal, not
// an error.
type Denial struct {
	TaskID    string
	Shortfall Pool
}

func (d *Denial) String() string {
	return fmt.Sprintf("task %q short of %s", d.TaskID, d.Shortfall)
}

// Usage describes one resource type at a point in time.
type Usage struct {
	Type      string
	Capacity  int
	Available int
	InUse     int
}

// Allocator grants resource requests atomically against a fixed pool.
// It never blocks: callers retry denied requests in a later cycle.
type Allocator struct {
	mu        sync.Mutex
	capacity  Pool
	available Pool
	held      map[string]Pool // taskID -> granted demand
}

// NewAllocator creates an allocator with the given capacity.
// Negative capacities are treated as zero.
func NewAllocator(capacity Pool) *Allocator {
	c := make(Pool, len(capacity))
	for k, v := range capacity {
		if v < 0 {
			v = 0
		}
		c[k] = v
	}
	return &Allocator{
		capacity:  c,
		available: c.Clone(),
		held:      make(map[string]Pool),
	}
}

// Request reserves demand for taskID. It grants only if every requested
// type has enough available quantity; otherwise nothing is reserved and the
// per-type shortfall is returned. Zero or negative quantities are ignored.
// Requesting again for a task that already holds an allocation is denied
// with an empty shortfall.
func (a *Allocator) Request(taskID string, demand Pool) (*Allocation, *Denial) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, holding := a.held[taskID]; holding {
		return nil, &Denial{TaskID: taskID, Shortfall: Pool{}}
	}

	want := make(Pool, len(demand))
	shortfall := make(Pool)
	// Check in sorted order so shortfall reporting is deterministic
	for _, typ := range demand.Types() {
		qty := demand[typ]
		if qty <= 0 {
			continue
		}
		want[typ] = qty
		if avail := a.available[typ]; avail < qty {
			shortfall[typ] = qty - avail
		}
	}

	if len(shortfall) > 0 {
		return nil, &Denial{TaskID: taskID, Shortfall: shortfall}
	}

	for typ, qty := range want {
		a.available[typ] -= qty
	}
	a.held[taskID] = want

	return &Allocation{TaskID: taskID, Demand: want.Clone()}, nil
}

// Release returns the task's allocation to the pool. It reports false if
// the task held nothing, so a second release is a harmless no-op.
func (a *Allocator) Release(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	demand, ok := a.held[taskID]
	if !ok {
		return false
	}
	for typ, qty := range demand {
		a.available[typ] += qty
	}
	delete(a.held, taskID)
	return true
}

// Fits reports whether demand could ever be granted by this pool's
// capacity, regardless of current holdings.
func (a *Allocator) Fits(demand Pool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for typ, qty := range demand {
		if qty > 0 && a.capacity[typ] < qty {
			return false
		}
	}
	return true
}

// Available returns a copy of the currently unreserved quantities.
func (a *Allocator) Available() Pool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available.Clone()
}

// Held returns a copy of the allocation held by taskID, if any.
func (a *Allocator) Held(taskID string) (Pool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.held[taskID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Usage returns per-type capacity and availability in sorted type order.
func (a *Allocator) Usage() []Usage {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Usage, 0, len(a.capacity))
	for _, typ := range a.capacity.Types() {
		out = append(out, Usage{
			Type:      typ,
			Capacity:  a.capacity[typ],
			Available: a.available[typ],
			InUse:     a.capacity[typ] - a.available[typ],
		})
	}
	return out
}
