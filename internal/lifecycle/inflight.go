package lifecycle

import (
	"context"
	"sync"
)

// inflight is a set of platform keys with work in progress. Polls use TryAcquire and are skipped
// while the key is held; deploy and decommission wait for it.
type inflight struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newInflight() *inflight {
	return &inflight{held: map[string]chan struct{}{}}
}

func (f *inflight) TryAcquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.held[key]; busy {
		return false
	}
	f.held[key] = make(chan struct{})
	return true
}

func (f *inflight) Acquire(ctx context.Context, key string) error {
	for {
		f.mu.Lock()
		done, busy := f.held[key]
		if !busy {
			f.held[key] = make(chan struct{})
			f.mu.Unlock()
			return nil
		}
		f.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *inflight) Release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if done, ok := f.held[key]; ok {
		close(done)
		delete(f.held, key)
	}
}
