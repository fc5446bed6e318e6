package tabs

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bizshell/internal/broadcast"
	"bizshell/internal/clock"
	"bizshell/internal/observability/metrics"
	"bizshell/internal/session"
	"bizshell/internal/storage"

	"github.com/google/uuid"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultAuthCheckInterval = 30 * time.Second
	DefaultWatchInterval     = time.Second
	DefaultStaleAfter        = 30 * time.Second
)

const (
	notifyTitle = "Social Gems"
	notifyBody  = "Switched to existing tab"
)

type Options struct {
	// Store is the durable backend shared by every tab.
	Store     storage.Backend
	Transport broadcast.Transport
	Session   *session.Session
	Window    Window
	Notifier  Notifier
	Clock     clock.Clock
	Logger    *slog.Logger

	HeartbeatInterval time.Duration
	AuthCheckInterval time.Duration
	WatchInterval     time.Duration
	StaleAfter        time.Duration

	// TabID overrides the generated id.
	TabID string
}

// Coordinator tracks this tab in the shared collection, arbitrates
// duplicate tabs on the same route and enforces authentication.
type Coordinator struct {
	id        string
	store     *Store
	transport broadcast.Transport
	session   *session.Session
	window    Window
	notifier  Notifier
	clock     clock.Clock
	logger    *slog.Logger

	heartbeatEvery time.Duration
	authEvery      time.Duration
	staleAfter     time.Duration
	watcher        *storage.Watcher

	mu          sync.Mutex
	state       State
	channelOpen bool
	started     bool
	closed      bool
	heartbeat   clock.Timer
	authCheck   clock.Timer
}

func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("tabs: store required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("tabs: session required")
	}
	if opts.Window == nil {
		return nil, fmt.Errorf("tabs: window required")
	}
	if opts.Transport == nil {
		opts.Transport = broadcast.Noop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.AuthCheckInterval <= 0 {
		opts.AuthCheckInterval = DefaultAuthCheckInterval
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = DefaultWatchInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	id := opts.TabID
	if id == "" {
		id = NewTabID(opts.Clock.Now())
	}
	logger := opts.Logger.With("tab_id", id)
	return &Coordinator{
		id:             id,
		store:          NewStore(opts.Store, logger),
		transport:      opts.Transport,
		session:        opts.Session,
		window:         opts.Window,
		notifier:       opts.Notifier,
		clock:          opts.Clock,
		logger:         logger,
		heartbeatEvery: opts.HeartbeatInterval,
		authEvery:      opts.AuthCheckInterval,
		staleAfter:     opts.StaleAfter,
		watcher:        storage.NewWatcher(opts.Store, opts.Clock, opts.WatchInterval, session.KeyLoggedIn, session.KeyToken),
		state:          StateInitializing,
		channelOpen:    true,
	}, nil
}

// NewTabID returns tab_<epoch ms>_<9 random hex chars>.
func NewTabID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("tab_%d_%s", clock.Millis(now), suffix)
}

func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChannelOpen reports whether the broadcast transport is still in use.
func (c *Coordinator) ChannelOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelOpen
}

func (c *Coordinator) Authenticated() bool {
	return c.session.Valid()
}

func (c *Coordinator) now() int64 { return clock.Millis(c.clock.Now()) }

// Start arms the heartbeat and auth timers, the storage watcher and the
// broadcast subscription.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.heartbeat = c.clock.Every(c.heartbeatEvery, c.UpdateHeartbeat)
	c.authCheck = c.clock.Every(c.authEvery, func() { c.CheckAuth() })
	open := c.channelOpen
	c.mu.Unlock()

	c.watcher.OnChange(c.onStorageChange)
	c.watcher.Start()

	if open {
		if err := c.transport.Subscribe(c.handleMessage); err != nil {
			c.closeChannel("subscribe", err)
		}
	}
	c.logger.Info("tab_started")
}

// RegisterTab records this tab under path unless another live tab already
// shows the same path, in which case that tab is asked to take focus.
func (c *Coordinator) RegisterTab(path string) Registration {
	if !c.Authenticated() {
		metrics.TabRegistrationsTotal.WithLabelValues(string(ActionLogout)).Inc()
		return Registration{Action: ActionLogout}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Registration{Action: ActionContinue}
	}
	tabs := c.sweepLocked()
	var existing *Record
	for i := range tabs {
		if tabs[i].Path == path && tabs[i].TabID != c.id {
			r := tabs[i]
			existing = &r
			break
		}
	}
	if existing != nil {
		c.state = StateDuplicateDetected
		c.mu.Unlock()

		c.logger.Info("tab_duplicate_detected", "path", path, "existing_tab_id", existing.TabID)
		metrics.TabRegistrationsTotal.WithLabelValues(string(ActionAutoRedirect)).Inc()
		c.post(broadcast.FocusRequest(existing.TabID, c.id, path))
		return Registration{IsDuplicate: true, ExistingTab: existing, Action: ActionAutoRedirect}
	}

	now := c.now()
	tabs = upsert(tabs, Record{TabID: c.id, Path: path, Timestamp: now, LastSeen: now, URL: c.window.URL()})
	_ = c.store.Save(tabs)
	c.state = StateActive
	c.mu.Unlock()

	metrics.TabRegistrationsTotal.WithLabelValues(string(ActionContinue)).Inc()
	return Registration{Action: ActionContinue}
}

// UpdateTabPath moves this tab's record to path and announces it.
func (c *Coordinator) UpdateTabPath(path string) {
	if !c.Authenticated() {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	tabs := c.sweepLocked()
	now := c.now()
	tabs = upsert(tabs, Record{TabID: c.id, Path: path, Timestamp: now, LastSeen: now, URL: c.window.URL()})
	_ = c.store.Save(tabs)
	c.mu.Unlock()

	c.post(broadcast.URLUpdated(path, c.id, now))
}

// OpenTabs returns the live tabs, purging stale ones from storage.
func (c *Coordinator) OpenTabs() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

func (c *Coordinator) sweepLocked() []Record {
	live, pruned := c.store.Sweep(c.now(), c.staleAfter)
	if pruned > 0 {
		c.logger.Debug("tab_stale_pruned", "count", pruned)
		metrics.TabsPrunedTotal.Add(float64(pruned))
	}
	metrics.TabsOpen.Set(float64(len(live)))
	return live
}

// UpdateHeartbeat refreshes this tab's lastSeen. Tabs that never
// registered are left out of the collection.
func (c *Coordinator) UpdateHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	tabs := c.sweepLocked()
	for i := range tabs {
		if tabs[i].TabID == c.id {
			tabs[i].LastSeen = c.now()
			_ = c.store.Save(tabs)
			return
		}
	}
}

// CheckAuth validates the session and forces a logout when it fails.
// Repeated failures after the first are silent until the session recovers.
func (c *Coordinator) CheckAuth() bool {
	err := c.session.Check()
	if err == nil {
		c.markAuthRestored()
		return true
	}
	if c.markAuthLost() {
		c.logger.Info("tab_auth_check_failed", "reason", err)
		c.forceLogout("auth_check")
	}
	return false
}

// ForceLogout clears the session, tells sibling tabs and goes to login.
// It does nothing once the tab is closed.
func (c *Coordinator) ForceLogout() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthLost
	c.mu.Unlock()
	c.forceLogout("explicit")
}

func (c *Coordinator) forceLogout(trigger string) {
	metrics.ForcedLogoutsTotal.WithLabelValues(trigger).Inc()
	if err := c.session.Logout(); err != nil {
		c.logger.Warn("tab_logout_failed", "error", err)
	}
	c.post(broadcast.UserLoggedOut())
	c.window.Navigate(LoginPath)
}

// markAuthLost moves to AuthLost and reports whether this call made the
// transition, so only one trigger acts on a given loss.
func (c *Coordinator) markAuthLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateAuthLost {
		return false
	}
	c.state = StateAuthLost
	return true
}

func (c *Coordinator) markAuthRestored() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAuthLost {
		c.state = StateActive
	}
}

func (c *Coordinator) onStorageChange(ch storage.Change) {
	if c.session.Valid() {
		c.markAuthRestored()
		return
	}
	if !c.markAuthLost() {
		return
	}
	c.logger.Info("tab_auth_lost_elsewhere", "key", ch.Key)
	metrics.ForcedLogoutsTotal.WithLabelValues("storage").Inc()
	c.window.Navigate(LoginPath)
}

func (c *Coordinator) handleMessage(msg broadcast.Message) {
	c.mu.Lock()
	open := c.channelOpen && !c.closed
	c.mu.Unlock()
	if !open {
		return
	}
	metrics.BroadcastMessagesTotal.WithLabelValues("in", msg.Type).Inc()

	switch msg.Type {
	case broadcast.TypeFocusRequest:
		if msg.TargetTabID != c.id {
			return
		}
		c.logger.Info("tab_focus_requested", "new_tab_id", msg.NewTabID, "path", msg.Path)
		c.window.Focus()
		c.post(broadcast.FocusConfirmed(c.id, msg.NewTabID))
		c.notifySwitched()
	case broadcast.TypeUserLoggedOut:
		if !c.markAuthLost() {
			return
		}
		metrics.ForcedLogoutsTotal.WithLabelValues("broadcast").Inc()
		c.window.Navigate(LoginPath)
	case broadcast.TypeFocusConfirmed:
		c.logger.Debug("tab_focus_confirmed", "original_tab_id", msg.OriginalTabID, "new_tab_id", msg.NewTabID)
	case broadcast.TypeURLUpdated:
		c.logger.Debug("tab_url_updated", "peer_tab_id", msg.TabID, "path", msg.Path)
	}
}

func (c *Coordinator) notifySwitched() {
	if c.notifier == nil || !c.notifier.Permitted() {
		return
	}
	if err := c.notifier.Notify(notifyTitle, notifyBody); err != nil {
		c.logger.Debug("tab_notify_failed", "error", err)
	}
}

// post sends msg unless the channel has failed before. A send error closes
// the channel for the rest of the tab's life.
func (c *Coordinator) post(msg broadcast.Message) {
	c.mu.Lock()
	open := c.channelOpen
	c.mu.Unlock()
	if !open {
		return
	}
	if err := c.transport.Post(msg); err != nil {
		c.closeChannel("post", err)
		return
	}
	metrics.BroadcastMessagesTotal.WithLabelValues("out", msg.Type).Inc()
}

func (c *Coordinator) closeChannel(op string, err error) {
	c.mu.Lock()
	wasOpen := c.channelOpen
	c.channelOpen = false
	c.mu.Unlock()
	if wasOpen {
		c.logger.Warn("tab_broadcast_unavailable", "op", op, "error", err)
		metrics.BroadcastFailuresTotal.Inc()
	}
}

// Close stops the timers, removes this tab's record and closes the
// transport. Safe to call more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateTerminated
	if c.heartbeat != nil {
		c.heartbeat.Stop()
	}
	if c.authCheck != nil {
		c.authCheck.Stop()
	}
	tabs, found := without(c.store.Load(), c.id)
	if found {
		_ = c.store.Save(tabs)
	}
	c.mu.Unlock()

	c.watcher.Stop()
	err := c.transport.Close()
	c.logger.Info("tab_closed")
	return err
}
