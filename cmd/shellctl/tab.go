package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bizshell/internal/broadcast"
	"bizshell/internal/config"
	"bizshell/internal/guard"
	"bizshell/internal/jwtsigner"
	"bizshell/internal/observability/logging"
	"bizshell/internal/session"
	"bizshell/internal/storage"
	"bizshell/internal/tabs"

	"github.com/joho/godotenv"
)

// consoleWindow stands in for a browser window. Navigations are queued for
// the run loop so guard and coordinator callbacks never re-enter them.
type consoleWindow struct {
	mu   sync.Mutex
	url  string
	nav  chan string
	logf func(format string, args ...any)
}

func (w *consoleWindow) Focus() { w.logf("focus requested") }

func (w *consoleWindow) Navigate(path string) {
	w.mu.Lock()
	w.url = path
	w.mu.Unlock()
	w.logf("navigate %s", path)
	select {
	case w.nav <- path:
	default:
	}
}

func (w *consoleWindow) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}

type consoleNotifier struct {
	logf func(format string, args ...any)
}

func (consoleNotifier) Permitted() bool { return true }

func (n consoleNotifier) Notify(title, body string) error {
	n.logf("notification %q: %s", title, body)
	return nil
}

func runTab(args []string) error {
	_ = godotenv.Load(".env")
	cfg := config.Load()

	fs := flag.NewFlagSet("tab", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	durableLoc := fs.String("durable", cfg.Durable, "shared storage location")
	transportLoc := fs.String("broadcast", cfg.Broadcast, "cross-tab transport")
	channel := fs.String("channel", cfg.Channel, "broadcast channel name")
	path := fs.String("path", tabs.DashboardPath, "route to open")
	email := fs.String("email", "", "log in with a fresh dev token before opening")
	ttl := fs.Duration("ttl", cfg.DevTokenTTL, "dev token lifetime")
	runFor := fs.Duration("for", 0, "close the tab after this long (0 waits for a signal)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "shellctl",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Output:      os.Stderr,
	})
	slog.SetDefault(logger)
	logf := func(format string, a ...any) { fmt.Fprintf(os.Stderr, "tab: "+format+"\n", a...) }

	store, err := storage.Open(*durableLoc, "durable")
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close(store)

	sess := session.New(store, nil, logger)
	if *email != "" {
		signer, err := jwtsigner.NewFromBase64(cfg.DevSigningKey, "dev", "shellctl")
		if err != nil {
			return err
		}
		token, err := signer.Sign(*email, *ttl, nil)
		if err != nil {
			return err
		}
		if err := sess.Login(*email, token); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	tr, err := broadcast.Open(*transportLoc, *channel)
	if err != nil {
		return fmt.Errorf("open broadcast: %w", err)
	}

	win := &consoleWindow{url: *path, nav: make(chan string, 8), logf: logf}
	coord, err := tabs.New(tabs.Options{
		Store:             store,
		Transport:         tr,
		Session:           sess,
		Window:            win,
		Notifier:          consoleNotifier{logf: logf},
		Logger:            logger,
		HeartbeatInterval: cfg.HeartbeatInterval,
		AuthCheckInterval: cfg.AuthCheckInterval,
		WatchInterval:     cfg.WatchInterval,
		StaleAfter:        cfg.StaleAfter,
	})
	if err != nil {
		return err
	}
	defer coord.Close()
	coord.Start()
	logf("opened %s as %s (channel open: %v)", *path, coord.ID(), coord.ChannelOpen())

	g := guard.NewProtected(coord, guard.Options{
		Window:        win,
		Store:         store,
		Logger:        logger,
		WatchInterval: cfg.WatchInterval,
	})
	defer g.Unmount()
	d := g.Mount(*path)
	switch {
	case d.Render:
		logf("rendering %s", *path)
	case d.Pending:
		logf("duplicate tab, yielding to %s shortly", d.Redirect)
	default:
		logf("redirected to %s", d.Redirect)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *runFor)
		defer cancel()
	}

	for {
		select {
		case <-ctx.Done():
			logf("closing %s", coord.ID())
			return nil
		case next := <-win.nav:
			if next == tabs.LoginPath {
				logf("session ended, closing %s", coord.ID())
				return nil
			}
			coord.UpdateTabPath(next)
			if next == tabs.DashboardPath {
				g.Unmount()
			}
		case <-time.After(cfg.AuthCheckInterval):
			logf("still open on %s, %d tab(s) live", win.URL(), len(coord.OpenTabs()))
		}
	}
}
