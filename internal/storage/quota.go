package storage

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
)

// Quota caps the total bytes (keys plus values) held by the wrapped backend,
// the way browsers cap localStorage. Writes that would exceed the cap fail
// with ErrQuotaExceeded and leave the backend untouched.
type Quota struct {
	inner Backend
	max   uint64

	mu     sync.Mutex
	loaded bool
	sizes  map[string]uint64
	used   uint64
}

func WithQuota(inner Backend, maxBytes uint64) *Quota {
	return &Quota{inner: inner, max: maxBytes, sizes: make(map[string]uint64)}
}

func (q *Quota) Name() string { return q.inner.Name() }

// Used returns the bytes currently accounted against the quota.
func (q *Quota) Used() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	_ = q.load()
	return q.used
}

func (q *Quota) load() error {
	if q.loaded {
		return nil
	}
	keys, err := q.inner.Keys("")
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, err := q.inner.Get(k)
		if err != nil {
			continue
		}
		sz := uint64(len(k) + len(v))
		q.sizes[k] = sz
		q.used += sz
	}
	q.loaded = true
	return nil
}

func (q *Quota) Get(key string) ([]byte, error) { return q.inner.Get(key) }

func (q *Quota) Set(key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.load(); err != nil {
		return err
	}
	sz := uint64(len(key) + len(value))
	next := q.used - q.sizes[key] + sz
	if next > q.max {
		return fmt.Errorf("%w: need %s, limit %s", ErrQuotaExceeded, humanize.Bytes(next), humanize.Bytes(q.max))
	}
	if err := q.inner.Set(key, value); err != nil {
		return err
	}
	q.used = next
	q.sizes[key] = sz
	return nil
}

func (q *Quota) Remove(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.inner.Remove(key); err != nil {
		return err
	}
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

func (q *Quota) Keys(prefix string) ([]string, error) { return q.inner.Keys(prefix) }

func (q *Quota) Close() error { return Close(q.inner) }
