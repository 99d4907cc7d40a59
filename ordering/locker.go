package ordering

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eladsnd/sunday/domain"
)

// Locker serializes writers of the same scope. Lock acquires every key or
// none; implementations take keys in sorted order so two writers locking
// overlapping scopes cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

// SortedKeys returns the distinct keys in lock order.
func SortedKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LocalLocker is an in-process Locker keyed by scope.
type LocalLocker struct {
	wait  time.Duration
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker. When wait is positive a Lock that
// cannot acquire its keys within wait fails with a concurrency conflict.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{wait: wait, locks: make(map[string]*scopeLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	keys = SortedKeys(keys)
	held := make([]*scopeLock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].sem
		}
		l.mu.Lock()
		for i, k := range keys[:len(held)] {
			l.unref(k, held[i])
		}
		l.mu.Unlock()
	}

	for _, k := range keys {
		sl := l.ref(k)
		select {
		case sl.sem <- struct{}{}:
			held = append(held, sl)
		case <-ctx.Done():
			l.mu.Lock()
			l.unref(k, sl)
			l.mu.Unlock()
			release()
			return nil, fmt.Errorf("%w: waiting for %s: %v", domain.ErrConcurrencyConflict, k, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *LocalLocker) ref(key string) *scopeLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &scopeLock{sem: make(chan struct{}, 1)}
		l.locks[key] = sl
	}
	sl.refs++
	return sl
}

// unref must be called with l.mu held.
func (l *LocalLocker) unref(key string, sl *scopeLock) {
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, key)
	}
}

// ChainLocker acquires each Locker in turn, typically an in-process lock
// followed by a distributed one, and releases them in reverse.
type ChainLocker []Locker

func (c ChainLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		if l == nil {
			continue
		}
		unlock, err := l.Lock(ctx, keys)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
