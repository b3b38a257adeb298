package dispatch

import (
	"context"
	"sync"
)

// Lease is a held project lock.
type Lease interface {
	// Done is closed once the lease is no longer held, whether released or
	// lost.
	Done() <-chan struct{}
	Release(ctx context.Context) error
}

// Locker grants exclusive project leases without blocking.
type Locker interface {
	// TryLock reports false when key is already held.
	TryLock(ctx context.Context, key string) (Lease, bool, error)
}

// LocalLocker is an in-process Locker keyed by project id.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker builds an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock takes key if it is free.
func (l *LocalLocker) TryLock(_ context.Context, key string) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return &localLease{locker: l, key: key, done: make(chan struct{})}, true, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	done   chan struct{}
	once   sync.Once
}

func (l *localLease) Done() <-chan struct{} {
	return l.done
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		defer l.locker.mu.Unlock()
		delete(l.locker.held, l.key)
		close(l.done)
	})
	return nil
}
