package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/types"
)

// Fake is an in-memory Driver for tests. Like the real driver it
// applies autoremove semantics: a container disappears as soon as it
// stops, whether through Stop or Kill.
type Fake struct {
	mu      sync.Mutex
	workers map[string]*fakeWorker
	seq     int
	stops   int

	// CreateErr, when set, fails every CreateAndStart call.
	CreateErr error

	// AliveErr, when set, fails every Alive call, simulating a runtime
	// that cannot be reached.
	AliveErr error

	// LogLines is served from Logs for every container.
	LogLines []string

	// Networks records every EnsureNetwork call.
	Networks []string

	// Images records every EnsureImage call.
	Images []string
}

type fakeWorker struct {
	spec    types.WorkerSpec
	running bool
}

// NewFake creates an empty fake driver
func NewFake() *Fake {
	return &Fake{
		workers: make(map[string]*fakeWorker),
	}
}

func (f *Fake) CreateAndStart(ctx context.Context, spec types.WorkerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return "", f.CreateErr
	}

	f.seq++
	id := fmt.Sprintf("fake%08d", f.seq)
	f.workers[id] = &fakeWorker{spec: spec, running: true}
	return id, nil
}

func (f *Fake) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	delete(f.workers, containerID)
	return nil
}

func (f *Fake) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.workers, containerID)
	return nil
}

func (f *Fake) Alive(ctx context.Context, containerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AliveErr != nil {
		return false, f.AliveErr
	}
	w, ok := f.workers[containerID]
	return ok && w.running, nil
}

func (f *Fake) Logs(ctx context.Context, containerID string, tail int, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.workers[containerID]; !ok {
		return nil, fmt.Errorf("no such container: %s", containerID)
	}

	lines := f.LogLines
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return append([]string(nil), lines...), nil
}

func (f *Fake) ListSessionContainers(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions := make(map[string]string, len(f.workers))
	for id, w := range f.workers {
		sessions[w.spec.SessionID] = id
	}
	return sessions, nil
}

func (f *Fake) EnsureNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Networks = append(f.Networks, name)
	return nil
}

func (f *Fake) EnsureImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Images = append(f.Images, ref)
	return nil
}

func (f *Fake) Close() error {
	return nil
}

// Kill simulates the worker process dying: with autoremove the
// container vanishes without any Stop call.
func (f *Fake) Kill(containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.workers, containerID)
}

// Count returns the number of containers currently present
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.workers)
}

// StopCount returns how many Stop calls the fake has seen
func (f *Fake) StopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.stops
}

// Spec returns the spec a container was created with
func (f *Fake) Spec(containerID string) (types.WorkerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workers[containerID]
	if !ok {
		return types.WorkerSpec{}, false
	}
	return w.spec, true
}
