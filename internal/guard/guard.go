package guard

import (
	"log/slog"
	"sync"
	"time"

	"bizshell/internal/clock"
	"bizshell/internal/session"
	"bizshell/internal/storage"
	"bizshell/internal/tabs"
)

const (
	DefaultRedirectDelay = time.Second
	DefaultPollInterval  = 30 * time.Second
)

// Decision tells the host what to show after a mount. Immediate redirects
// have already been sent to the window; Pending means a delayed redirect
// is scheduled and the host should show a placeholder until it fires.
type Decision struct {
	Render   bool
	Redirect string
	Pending  bool
}

// Authenticator reports whether the current session is valid.
type Authenticator interface {
	Authenticated() bool
}

// Registrar is the part of the tab coordinator a protected route needs.
type Registrar interface {
	Authenticator
	RegisterTab(path string) tabs.Registration
	ForceLogout()
}

type Options struct {
	Window tabs.Window
	// Store is watched for changes to the login flag.
	Store  storage.Backend
	Clock  clock.Clock
	Logger *slog.Logger

	RedirectDelay time.Duration
	PollInterval  time.Duration
	WatchInterval time.Duration
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RedirectDelay <= 0 {
		o.RedirectDelay = DefaultRedirectDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.WatchInterval <= 0 {
		o.WatchInterval = tabs.DefaultWatchInterval
	}
}

// Protected guards routes that need a session and a unique tab.
type Protected struct {
	reg  Registrar
	opts Options

	mu         sync.Mutex
	mounted    bool
	path       string
	redirected bool
	redirect   clock.Timer
	poll       clock.Timer
	watcher    *storage.Watcher
}

func NewProtected(reg Registrar, opts Options) *Protected {
	opts.defaults()
	return &Protected{reg: reg, opts: opts}
}

// Mount runs the mount-time checks for path and arms polling.
func (p *Protected) Mount(path string) Decision {
	p.Unmount()

	p.mu.Lock()
	p.mounted = true
	p.path = path
	p.redirected = false
	p.poll = p.opts.Clock.Every(p.opts.PollInterval, p.check)
	if p.opts.Store != nil {
		p.watcher = storage.NewWatcher(p.opts.Store, p.opts.Clock, p.opts.WatchInterval, session.KeyLoggedIn)
		p.watcher.OnChange(p.onLoginFlag)
		p.watcher.Start()
	}
	p.mu.Unlock()

	if !p.reg.Authenticated() {
		p.toLogin("mount")
		return Decision{Redirect: tabs.LoginPath}
	}

	r := p.reg.RegisterTab(path)
	switch r.Action {
	case tabs.ActionLogout:
		p.markRedirected()
		p.reg.ForceLogout()
		return Decision{Redirect: tabs.LoginPath}
	case tabs.ActionAutoRedirect:
		existing := ""
		if r.ExistingTab != nil {
			existing = r.ExistingTab.TabID
		}
		p.opts.Logger.Info("guard_duplicate_tab", "path", path, "existing_tab_id", existing)
		p.mu.Lock()
		if p.mounted {
			p.redirect = p.opts.Clock.AfterFunc(p.opts.RedirectDelay, p.yield)
		}
		p.mu.Unlock()
		return Decision{Redirect: tabs.DashboardPath, Pending: true}
	}
	return Decision{Render: true}
}

func (p *Protected) yield() {
	if !p.markRedirected() {
		return
	}
	p.opts.Window.Navigate(tabs.DashboardPath)
}

func (p *Protected) check() {
	if !p.reg.Authenticated() {
		p.toLogin("poll")
	}
}

func (p *Protected) onLoginFlag(ch storage.Change) {
	if string(ch.New) == "true" {
		return
	}
	p.toLogin("storage")
}

func (p *Protected) toLogin(trigger string) {
	if !p.markRedirected() {
		return
	}
	p.opts.Logger.Info("guard_redirect_login", "path", p.currentPath(), "trigger", trigger)
	p.opts.Window.Navigate(tabs.LoginPath)
}

// markRedirected reports whether the guard may still navigate, and blocks
// further navigation until the next mount.
func (p *Protected) markRedirected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mounted || p.redirected {
		return false
	}
	p.redirected = true
	if p.redirect != nil {
		p.redirect.Stop()
		p.redirect = nil
	}
	return true
}

func (p *Protected) currentPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

// Unmount cancels the pending redirect, the poll and the watcher.
func (p *Protected) Unmount() {
	p.mu.Lock()
	p.mounted = false
	if p.redirect != nil {
		p.redirect.Stop()
		p.redirect = nil
	}
	if p.poll != nil {
		p.poll.Stop()
		p.poll = nil
	}
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// Auth guards the login and signup pages: signed-in users are sent to the
// dashboard. It never registers a tab.
type Auth struct {
	auth Authenticator
	opts Options

	mu         sync.Mutex
	mounted    bool
	redirected bool
	poll       clock.Timer
}

func NewAuth(auth Authenticator, opts Options) *Auth {
	opts.defaults()
	return &Auth{auth: auth, opts: opts}
}

func (a *Auth) Mount() Decision {
	a.Unmount()

	a.mu.Lock()
	a.mounted = true
	a.redirected = false
	a.poll = a.opts.Clock.Every(a.opts.PollInterval, a.check)
	a.mu.Unlock()

	if a.toDashboard() {
		return Decision{Redirect: tabs.DashboardPath}
	}
	return Decision{Render: true}
}

func (a *Auth) check() { a.toDashboard() }

func (a *Auth) toDashboard() bool {
	if !a.auth.Authenticated() {
		return false
	}
	a.mu.Lock()
	if !a.mounted || a.redirected {
		a.mu.Unlock()
		return false
	}
	a.redirected = true
	a.mu.Unlock()

	a.opts.Window.Navigate(tabs.DashboardPath)
	return true
}

func (a *Auth) Unmount() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mounted = false
	if a.poll != nil {
		a.poll.Stop()
		a.poll = nil
	}
}
