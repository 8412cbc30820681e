package pipeline

import (
	"context"
	"sync"
)

// StateLocks serialises plan/deploy across stacks sharing a state path.
// The lock is advisory and process-local; the backend's own state lock is
// still owned by the toolchain for the duration of each invocation.
type StateLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewStateLocks() *StateLocks {
	return &StateLocks{
		locks: make(map[string]chan struct{}),
	}
}

// Acquire blocks until the lock for key is held or the context is cancelled.
// The returned release function must be called exactly once.
func (l *StateLocks) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-ch })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
