package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"bizshell/internal/clock"
)

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()

	if _, err := b.Get("missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := b.Set("sg_cache_a", []byte("1")); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := b.Set("sg_cache_b", []byte("2")); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if err := b.Set("sgxcache_c", []byte("3")); err != nil {
		t.Fatalf("set c: %v", err)
	}
	if err := b.Set("sg_cache_a", []byte("11")); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}
	v, err := b.Get("sg_cache_a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if string(v) != "11" {
		t.Fatalf("expected overwritten value 11, got %q", v)
	}

	keys, err := b.Keys("sg_cache_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "sg_cache_a" || keys[1] != "sg_cache_b" {
		t.Fatalf("expected prefix match without wildcard leaks, got %v", keys)
	}

	if err := b.Remove("sg_cache_a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := b.Remove("sg_cache_a"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if _, err := b.Get("sg_cache_a"); !IsNotFound(err) {
		t.Fatalf("expected removed key to be absent, got %v", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemory(""))
}

func TestPebbleBackend(t *testing.T) {
	p, err := OpenPebble(filepath.Join(t.TempDir(), "durable"), false)
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer p.Close()
	exerciseBackend(t, p)
}

func TestSQLiteBackend(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := OpenSQL(SQLConfig{Driver: "sqlite", DSN: dsn, Label: "session"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	if s.Name() != "session" {
		t.Fatalf("expected label session, got %s", s.Name())
	}
	exerciseBackend(t, s)
}

func TestQuotaRejectsOversizedWrites(t *testing.T) {
	q := WithQuota(NewMemory(""), 16)
	if err := q.Set("k1", []byte("0123456789")); err != nil {
		t.Fatalf("first write within quota: %v", err)
	}
	err := q.Set("k2", []byte("0123456789"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if _, err := q.Get("k2"); !IsNotFound(err) {
		t.Fatalf("rejected write must not be stored")
	}
	// Overwriting an existing key only counts the delta.
	if err := q.Set("k1", []byte("01234567890123")); err != nil {
		t.Fatalf("overwrite within quota: %v", err)
	}
	if err := q.Remove("k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if q.Used() != 0 {
		t.Fatalf("expected usage to drop to zero, got %d", q.Used())
	}
}

func TestDisabledBackend(t *testing.T) {
	d := Disabled{}
	if err := d.Set("k", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := d.Get("k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		spec    string
		name    string
		wantErr bool
	}{
		{spec: "", name: "memory"},
		{spec: "memory", name: "memory"},
		{spec: "disabled", name: "disabled"},
		{spec: "pebble://" + filepath.Join(t.TempDir(), "p"), name: "durable"},
		{spec: "sqlite://file:open_test?mode=memory&cache=shared", name: "durable"},
		{spec: "redis://localhost", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			label := tc.name
			if tc.spec == "" || tc.spec == "memory" || tc.spec == "disabled" {
				label = ""
			}
			b, err := Open(tc.spec, label)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("open %q: %v", tc.spec, err)
			}
			defer Close(b)
			if b.Name() != tc.name {
				t.Fatalf("expected name %q, got %q", tc.name, b.Name())
			}
		})
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	fc := clock.NewFake(time.UnixMilli(0))
	m := NewMemory("")
	_ = m.Set("isLoggedIn", []byte("true"))

	w := NewWatcher(m, fc, time.Second, "isLoggedIn", "jwt")
	var got []Change
	w.OnChange(func(c Change) { got = append(got, c) })
	w.Start()
	defer w.Stop()

	fc.Advance(time.Second)
	if len(got) != 0 {
		t.Fatalf("expected no changes yet, got %v", got)
	}

	_ = m.Remove("isLoggedIn")
	_ = m.Set("jwt", []byte("tok"))
	fc.Advance(time.Second)

	if len(got) != 2 {
		t.Fatalf("expected two changes, got %d", len(got))
	}
	if got[0].Key != "isLoggedIn" || string(got[0].Old) != "true" || got[0].New != nil {
		t.Fatalf("unexpected login change: %+v", got[0])
	}
	if got[1].Key != "jwt" || got[1].Old != nil || string(got[1].New) != "tok" {
		t.Fatalf("unexpected jwt change: %+v", got[1])
	}

	w.Stop()
	_ = m.Set("isLoggedIn", []byte("true"))
	fc.Advance(5 * time.Second)
	if len(got) != 2 {
		t.Fatalf("stopped watcher must not report, got %d changes", len(got))
	}
}
