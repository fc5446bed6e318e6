package cache

import (
	"sync"
	"testing"
	"time"

	"bizshell/internal/clock"
	"bizshell/internal/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// countingBackend records reads so tests can tell which tier served a hit.
type countingBackend struct {
	storage.Backend
	mu   sync.Mutex
	gets int
}

func (c *countingBackend) Get(key string) ([]byte, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Backend.Get(key)
}

func (c *countingBackend) reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

type tiers struct {
	memory  *storage.Memory
	durable storage.Backend
	session storage.Backend
}

func newManager(t *testing.T, durable, sess storage.Backend) (*Manager, *clock.Fake, tiers) {
	t.Helper()
	if durable == nil {
		durable = storage.NewMemory("durable")
	}
	if sess == nil {
		sess = storage.NewMemory("session")
	}
	tr := tiers{memory: storage.NewMemory("memory"), durable: durable, session: sess}
	clk := clock.NewFake(epoch)
	m := New(Config{Tiers: []storage.Backend{tr.memory, durable, sess}, Clock: clk})
	return m, clk, tr
}

func has(b storage.Backend, key string) bool {
	_, err := b.Get(DefaultPrefix + key)
	return err == nil
}

func TestExpiryBoundary(t *testing.T) {
	m, clk, tr := newManager(t, nil, nil)
	m.Set("profile", map[string]string{"name": "Gem"}, m.After(10*time.Second))

	clk.Advance(10 * time.Second)
	var got map[string]string
	if !m.Get("profile", &got) || got["name"] != "Gem" {
		t.Fatalf("expected value readable at its expiry instant, got %v", got)
	}

	clk.Advance(time.Millisecond)
	if m.Get("profile", &got) {
		t.Fatalf("expected miss after expiry")
	}
	for _, b := range []storage.Backend{tr.memory, tr.durable, tr.session} {
		if has(b, "profile") {
			t.Fatalf("expected expired key purged from %s", b.Name())
		}
	}
}

func TestGroupsScenario(t *testing.T) {
	m, clk, tr := newManager(t, nil, nil)
	type group struct {
		ID int `json:"id"`
	}
	m.Set(KeyGroups, []group{{ID: 1}}, m.After(3_600_000*time.Millisecond))

	var got []group
	if !m.Get(KeyGroups, &got) || len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected [{id:1}], got %v", got)
	}

	clk.Advance(3_700_000 * time.Millisecond)
	got = nil
	if m.Get(KeyGroups, &got) || got != nil {
		t.Fatalf("expected miss after an hour, got %v", got)
	}
	if has(tr.durable, KeyGroups) {
		t.Fatalf("expected groups absent from durable storage")
	}
}

func TestPromotionToMemory(t *testing.T) {
	durable := &countingBackend{Backend: storage.NewMemory("durable")}
	writer := New(Config{Tiers: []storage.Backend{storage.NewMemory("other-memory"), durable}, Clock: clock.NewFake(epoch)})
	writer.Set("current_user", map[string]string{"email": "owner@brand.test"}, time.Time{})

	m, _, tr := newManager(t, durable, nil)
	if has(tr.memory, "current_user") {
		t.Fatalf("precondition: key must start outside memory")
	}

	var got map[string]string
	if !m.Get("current_user", &got) || got["email"] != "owner@brand.test" {
		t.Fatalf("expected durable hit, got %v", got)
	}
	reads := durable.reads()
	if !m.Get("current_user", &got) {
		t.Fatalf("expected second read to hit")
	}
	if durable.reads() != reads {
		t.Fatalf("second read touched durable storage")
	}
	if !has(tr.memory, "current_user") {
		t.Fatalf("expected entry promoted into memory")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	m, _, _ := newManager(t, nil, nil)
	m.Set("k", 1, time.Time{})
	for i := 0; i < 2; i++ {
		m.Remove("k")
		var v int
		if m.Get("k", &v) {
			t.Fatalf("expected miss after remove #%d", i+1)
		}
	}
}

func TestSetFallsBackAcrossTiers(t *testing.T) {
	tests := []struct {
		name        string
		durable     storage.Backend
		session     storage.Backend
		wantDurable bool
		wantSession bool
	}{
		{name: "durable accepts", durable: storage.NewMemory("durable"), session: storage.NewMemory("session"), wantDurable: true},
		{name: "durable over quota", durable: storage.WithQuota(storage.NewMemory("durable"), 32), session: storage.NewMemory("session"), wantSession: true},
		{name: "durable disabled", durable: storage.Disabled{Label: "durable"}, session: storage.NewMemory("session"), wantSession: true},
		{name: "everything disabled", durable: storage.Disabled{Label: "durable"}, session: storage.Disabled{Label: "session"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _, tr := newManager(t, tc.durable, tc.session)
			m.Set("app_state", map[string]string{"theme": "dark", "sidebar": "collapsed"}, time.Time{})

			if !has(tr.memory, "app_state") {
				t.Fatalf("memory tier must always receive the write")
			}
			if got := has(tr.durable, "app_state"); got != tc.wantDurable {
				t.Fatalf("durable holds entry = %v, want %v", got, tc.wantDurable)
			}
			if got := has(tr.session, "app_state"); got != tc.wantSession {
				t.Fatalf("session holds entry = %v, want %v", got, tc.wantSession)
			}
			var got map[string]string
			if !m.Get("app_state", &got) || got["theme"] != "dark" {
				t.Fatalf("expected value readable, got %v", got)
			}
		})
	}
}

func TestExpiredInFastTierStopsSearch(t *testing.T) {
	m, clk, tr := newManager(t, nil, nil)
	m.Set("k", "stale", m.After(time.Second))
	clk.Advance(2 * time.Second)
	// a fresh copy only in durable storage
	fresh := New(Config{Tiers: []storage.Backend{tr.durable}, Clock: clk})
	fresh.Set("k", "fresh", time.Time{})

	var got string
	if m.Get("k", &got) {
		t.Fatalf("expected expired memory entry to end the lookup, got %q", got)
	}
	if has(tr.durable, "k") {
		t.Fatalf("expected the key removed from every tier")
	}
}

func TestCorruptEntriesAreMisses(t *testing.T) {
	m, _, tr := newManager(t, nil, nil)
	_ = tr.durable.Set(DefaultPrefix+"broken", []byte("{not json"))
	_ = tr.session.Set(DefaultPrefix+"broken", []byte(`{"data":"ok","timestamp":1,"expiry":null}`))

	var got string
	if !m.Get("broken", &got) || got != "ok" {
		t.Fatalf("expected corrupt tier skipped in favour of session copy, got %q", got)
	}

	var n int
	if m.Get("broken", &n) {
		t.Fatalf("value of the wrong shape must read as a miss")
	}
}

func TestClearOnlyTouchesNamespace(t *testing.T) {
	m, _, tr := newManager(t, nil, nil)
	m.Set("a", 1, time.Time{})
	_ = tr.session.Set(DefaultPrefix+"b", []byte(`{"data":2,"timestamp":1,"expiry":null}`))
	_ = tr.durable.Set("isLoggedIn", []byte("true"))
	_ = tr.durable.Set("sg_open_tabs", []byte("[]"))
	_ = tr.memory.Set("sg_cachex", []byte("other"))

	if n := m.Clear(); n != 3 {
		t.Fatalf("expected 3 removals, got %d", n)
	}
	for _, k := range []string{"isLoggedIn", "sg_open_tabs"} {
		if _, err := tr.durable.Get(k); err != nil {
			t.Fatalf("clear removed unrelated key %s", k)
		}
	}
	if _, err := tr.memory.Get("sg_cachex"); err != nil {
		t.Fatalf("clear removed a key outside the prefix")
	}
	var v int
	if m.Get("a", &v) || m.Get("b", &v) {
		t.Fatalf("expected namespace empty after clear")
	}
}

func TestCleanupExpiredEntries(t *testing.T) {
	m, clk, tr := newManager(t, nil, nil)
	m.Set("short", 1, m.After(time.Minute))
	m.Set("long", 2, m.After(time.Hour))
	m.Set("forever", 3, time.Time{})
	_ = tr.durable.Set(DefaultPrefix+"corrupt", []byte("nope"))
	_ = tr.durable.Set("unrelated", []byte("nope"))

	if n := m.CleanupExpiredEntries(); n != 1 {
		t.Fatalf("expected only the corrupt entry removed, got %d", n)
	}

	clk.Advance(2 * time.Minute)
	// short lives in memory and durable
	if n := m.CleanupExpiredEntries(); n != 2 {
		t.Fatalf("expected 2 removals, got %d", n)
	}
	var v int
	if !m.Get("long", &v) || v != 2 || !m.Get("forever", &v) || v != 3 {
		t.Fatalf("live entries must survive cleanup")
	}
	if _, err := tr.durable.Get("unrelated"); err != nil {
		t.Fatalf("cleanup must ignore keys outside the prefix")
	}
}

func TestStats(t *testing.T) {
	m, _, _ := newManager(t, nil, storage.Disabled{Label: "session"})
	m.Set("a", "x", time.Time{})
	m.Set("b", "y", time.Time{})

	st := m.Stats()
	if len(st.Tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %+v", st.Tiers)
	}
	if st.Tiers[0].Entries != 2 || st.Tiers[1].Entries != 2 || st.Tiers[2].Entries != 0 {
		t.Fatalf("unexpected per-tier counts %+v", st.Tiers)
	}
	if st.Tiers[2].Error == "" {
		t.Fatalf("expected disabled tier to report an error")
	}
	if st.TotalEntries != 4 || st.TotalBytes == 0 || st.TotalSize == "" {
		t.Fatalf("unexpected totals %+v", st)
	}

	saved := m.SaveDiagnostics()
	var got Stats
	if !m.Get(KeyDiagnostics, &got) || got.TotalEntries != saved.TotalEntries {
		t.Fatalf("expected diagnostics snapshot stored, got %+v", got)
	}
}
