package runner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// gpuPool hands out device IDs all-or-nothing so two tasks never deadlock
// holding half of what they need.
type gpuPool struct {
	mu       sync.Mutex
	free     []int
	size     int
	released chan struct{} // closed and replaced on every release
}

func newGPUPool(ids []int) *gpuPool {
	free := append([]int(nil), ids...)
	sort.Ints(free)
	return &gpuPool{free: free, size: len(free), released: make(chan struct{})}
}

// Acquire blocks until n devices are free or ctx is done.
func (p *gpuPool) Acquire(ctx context.Context, n int) ([]int, error) {
	if n > p.size {
		return nil, fmt.Errorf("need %d gpus, pool has %d", n, p.size)
	}
	for {
		p.mu.Lock()
		if len(p.free) >= n {
			got := append([]int(nil), p.free[:n]...)
			p.free = p.free[n:]
			p.mu.Unlock()
			return got, nil
		}
		wait := p.released
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Release returns devices to the pool and wakes waiters.
func (p *gpuPool) Release(ids []int) {
	if len(ids) == 0 {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, ids...)
	sort.Ints(p.free)
	close(p.released)
	p.released = make(chan struct{})
	p.mu.Unlock()
}

// Free returns the number of idle devices.
func (p *gpuPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func visibleDevices(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
