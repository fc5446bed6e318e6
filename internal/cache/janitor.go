package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultCleanupCron sweeps every five minutes.
const DefaultCleanupCron = "*/5 * * * *"

// Janitor runs CleanupExpiredEntries on a cron schedule.
type Janitor struct {
	m      *Manager
	expr   string
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewJanitor(m *Manager, expr string, logger *slog.Logger) (*Janitor, error) {
	if expr == "" {
		expr = DefaultCleanupCron
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("cache: invalid cleanup cron %q", expr)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{m: m, expr: expr, logger: logger}, nil
}

// RunOnce sweeps expired entries, refreshes the diagnostics snapshot and
// returns the number removed. Overlapping runs are skipped.
func (j *Janitor) RunOnce() int {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return 0
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	removed := j.m.CleanupExpiredEntries()
	j.m.SaveDiagnostics()
	j.logger.Info("cache_janitor_run", "removed", removed)
	return removed
}

// NextRun returns the first scheduled run after t.
func (j *Janitor) NextRun(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.expr, t, false)
}

// Run blocks, sweeping on schedule until ctx is done. Waits go through the
// manager's clock.
func (j *Janitor) Run(ctx context.Context) error {
	j.logger.Info("cache_janitor_started", "cron", j.expr)
	clk := j.m.clock
	for {
		now := clk.Now()
		next, err := j.NextRun(now)
		wait := next.Sub(now)
		if err != nil {
			j.logger.Error("cache_janitor_nexttick_failed", "cron", j.expr, "error", err)
			wait = 30 * time.Second
		} else if wait <= 0 {
			wait = time.Second
		}

		fired := make(chan struct{}, 1)
		t := clk.AfterFunc(wait, func() { fired <- struct{}{} })
		select {
		case <-fired:
			if err == nil {
				j.RunOnce()
			}
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}
