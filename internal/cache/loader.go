// Package cache provides keyed stores for independently-fetchable facts
// where "not yet known" is distinct from "known to be empty". A cache miss
// triggers exactly one backend fetch per key even under concurrent callers,
// and a failed fetch resolves the key to a safe default instead of leaving it
// perpetually unresolved.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the value for one key from the backend.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// CommitFunc lands a freshly fetched value, typically via the engine's
// per-key write operations.
type CommitFunc[V any] func(key string, value V)

// Loader is a keyed cache with request coalescing. Values are committed
// through the commit callback so they merge with concurrent push deltas by
// the engine's per-key rules; the Loader itself only tracks which keys are
// known.
type Loader[V any] struct {
	fetch    FetchFunc[V]
	commit   CommitFunc[V]
	fallback V
	logger   *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	known map[string]V
}

// NewLoader creates a Loader. fallback is committed when a fetch fails.
// commit may be nil when the Loader's own store is the destination.
func NewLoader[V any](fetch FetchFunc[V], commit CommitFunc[V], fallback V, logger *slog.Logger) *Loader[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader[V]{
		fetch:    fetch,
		commit:   commit,
		fallback: fallback,
		logger:   logger,
		known:    make(map[string]V),
	}
}

// Get returns the cached value and whether the key is known. It never
// triggers a fetch.
func (l *Loader[V]) Get(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.known[key]
	if !ok {
		return l.fallback, false
	}
	return v, true
}

// EnsureLoaded fetches the value for key if it is not yet known. Concurrent
// calls for the same key collapse into a single underlying fetch; the fetch
// runs detached from any one caller's context so a canceled caller cannot
// fail the others. A backend failure resolves the key to the fallback value;
// a canceled or timed-out fetch leaves the key unknown so the next call
// retries.
func (l *Loader[V]) EnsureLoaded(ctx context.Context, key string) (V, error) {
	l.mu.Lock()
	if v, ok := l.known[key]; ok {
		l.mu.Unlock()
		return v, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(key, func() (any, error) {
		value, err := l.fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			l.logger.Warn("fetch failed, committing fallback", "key", key, "error", err)
			value = l.fallback
		}
		l.mu.Lock()
		// A Put that raced the fetch wins.
		if existing, ok := l.known[key]; ok {
			l.mu.Unlock()
			return existing, nil
		}
		l.known[key] = value
		l.mu.Unlock()
		if l.commit != nil {
			l.commit(key, value)
		}
		return value, nil
	})
	if err != nil {
		return l.fallback, err
	}
	return v.(V), nil
}

// Put records a value that arrived outside the fetch path (e.g. a push
// delta), marking the key known without committing it again.
func (l *Loader[V]) Put(key string, value V) {
	l.mu.Lock()
	l.known[key] = value
	l.mu.Unlock()
}

// Invalidate returns a key to the unknown state so the next EnsureLoaded
// refetches it.
func (l *Loader[V]) Invalidate(key string) {
	l.mu.Lock()
	delete(l.known, key)
	l.mu.Unlock()
}

// Known reports whether the key has been resolved.
func (l *Loader[V]) Known(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.known[key]
	return ok
}
