package session

import (
	"errors"
	"sync"
)

// ErrNoPorts is returned when every port in the configured range is
// allocated.
var ErrNoPorts = errors.New("no available ports")

// Allocator hands out host ports from a fixed inclusive range. The
// lowest free port wins, which keeps allocations deterministic and
// easy to follow in logs.
type Allocator struct {
	mu    sync.Mutex
	min   int
	max   int
	inUse map[int]bool
}

// NewAllocator creates an allocator over [min, max].
func NewAllocator(min, max int) *Allocator {
	return &Allocator{
		min:   min,
		max:   max,
		inUse: make(map[int]bool),
	}
}

// Allocate reserves the lowest free port in the range.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.min; port <= a.max; port++ {
		if !a.inUse[port] {
			a.inUse[port] = true
			return port, nil
		}
	}
	return 0, ErrNoPorts
}

// Release returns a port to the pool. Releasing a port that is already
// free is a no-op, so teardown paths can release unconditionally.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.inUse, port)
}

// InUse returns the number of allocated ports.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.inUse)
}

// Capacity returns the size of the port range.
func (a *Allocator) Capacity() int {
	return a.max - a.min + 1
}
