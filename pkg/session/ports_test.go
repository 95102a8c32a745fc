package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorLowestFree(t *testing.T) {
	a := NewAllocator(4200, 4202)

	for _, want := range []int{4200, 4201, 4202} {
		port, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, port)
	}

	_, err := a.Allocate()
	assert.ErrorIs(t, err, ErrNoPorts)
}

func TestAllocatorReusesReleasedPort(t *testing.T) {
	a := NewAllocator(4200, 4202)

	for i := 0; i < 3; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}

	a.Release(4201)

	port, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 4201, port)
}

func TestAllocatorReleaseIdempotent(t *testing.T) {
	a := NewAllocator(4200, 4201)

	port, err := a.Allocate()
	require.NoError(t, err)

	a.Release(port)
	a.Release(port)
	a.Release(9999)

	assert.Equal(t, 0, a.InUse())

	got, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, port, got)
}

func TestAllocatorConcurrentSinglePort(t *testing.T) {
	a := NewAllocator(4200, 4200)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Allocate(); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one allocation should win a single-port range")
	assert.Equal(t, 1, a.InUse())
}

func TestAllocatorCapacity(t *testing.T) {
	assert.Equal(t, 100, NewAllocator(4200, 4299).Capacity())
	assert.Equal(t, 1, NewAllocator(4200, 4200).Capacity())
}
