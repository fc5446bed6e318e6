package storage

import (
	"bytes"
	"sync"
	"time"

	"bizshell/internal/clock"
)

// Change describes a key whose value differs from the previous poll.
// Old or New is nil when the key was absent.
type Change struct {
	Key string
	Old []byte
	New []byte
}

// Watcher polls a fixed set of keys and reports mutations made by anyone
// sharing the backend, including other processes.
type Watcher struct {
	backend  Backend
	keys     []string
	clock    clock.Clock
	interval time.Duration

	mu       sync.Mutex
	last     map[string][]byte
	handlers []func(Change)
	timer    clock.Timer
}

func NewWatcher(b Backend, clk clock.Clock, interval time.Duration, keys ...string) *Watcher {
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{backend: b, keys: keys, clock: clk, interval: interval, last: make(map[string][]byte)}
}

// OnChange registers fn; it runs on the polling goroutine.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, fn)
	w.mu.Unlock()
}

// Start snapshots the current values and begins polling.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		return
	}
	for _, k := range w.keys {
		w.last[k] = w.read(k)
	}
	w.timer = w.clock.Every(w.interval, w.Poll)
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Poll compares every watched key against the last snapshot now.
func (w *Watcher) Poll() {
	w.mu.Lock()
	var changes []Change
	for _, k := range w.keys {
		cur := w.read(k)
		prev := w.last[k]
		if bytes.Equal(prev, cur) && (prev == nil) == (cur == nil) {
			continue
		}
		changes = append(changes, Change{Key: k, Old: prev, New: cur})
		w.last[k] = cur
	}
	handlers := append([]func(Change){}, w.handlers...)
	w.mu.Unlock()

	for _, c := range changes {
		for _, h := range handlers {
			h(c)
		}
	}
}

// read treats unreadable storage as an absent key.
func (w *Watcher) read(key string) []byte {
	v, err := w.backend.Get(key)
	if err != nil {
		return nil
	}
	return v
}
