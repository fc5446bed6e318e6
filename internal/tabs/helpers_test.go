package tabs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"bizshell/internal/broadcast"
	"bizshell/internal/clock"
	"bizshell/internal/jwtsigner"
	"bizshell/internal/session"
	"bizshell/internal/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeWindow struct {
	mu        sync.Mutex
	url       string
	focused   int
	navigated []string
}

func (w *fakeWindow) Focus() {
	w.mu.Lock()
	w.focused++
	w.mu.Unlock()
}

func (w *fakeWindow) Navigate(path string) {
	w.mu.Lock()
	w.navigated = append(w.navigated, path)
	w.mu.Unlock()
}

func (w *fakeWindow) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}

func (w *fakeWindow) focusCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.focused
}

func (w *fakeWindow) navigations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.navigated...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	permitted bool
	fail      bool
	shown     []string
}

func (n *fakeNotifier) Permitted() bool { return n.permitted }

func (n *fakeNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notifications blocked")
	}
	n.shown = append(n.shown, body)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.shown)
}

// failingTransport rejects every send and counts the attempts.
type failingTransport struct {
	mu     sync.Mutex
	posts  int
	closed bool
}

func (f *failingTransport) Post(broadcast.Message) error {
	f.mu.Lock()
	f.posts++
	f.mu.Unlock()
	return errors.New("channel unsupported")
}

func (f *failingTransport) Subscribe(func(broadcast.Message)) error { return nil }

func (f *failingTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *failingTransport) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts
}

func login(t *testing.T, store storage.Backend, clk clock.Clock, ttl time.Duration) *session.Session {
	t.Helper()
	signer, err := jwtsigner.NewFromBase64("", "test", "bizshell")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	signer.WithClock(clk.Now)
	tok, err := signer.Sign("owner@brand.test", ttl, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	s := session.New(store, clk, nil)
	if err := s.Login("owner@brand.test", tok); err != nil {
		t.Fatalf("login: %v", err)
	}
	return s
}

type tabFixture struct {
	c      *Coordinator
	window *fakeWindow
}

func newTab(t *testing.T, opts Options) tabFixture {
	t.Helper()
	w := &fakeWindow{url: "https://business.socialgems.test/"}
	if opts.Window == nil {
		opts.Window = w
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return tabFixture{c: c, window: w}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
