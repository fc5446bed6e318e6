package main

import (
	"sync"

	"bizshell/internal/broadcast"
	"bizshell/internal/guard"
	"bizshell/internal/tabs"
)

// page owns the tab opened by one page load. The tab is created on the
// first mount and torn down once when the page goes away.
type page struct {
	opts          tabs.Options
	openTransport func() broadcast.Transport

	mu    sync.Mutex
	coord *tabs.Coordinator
	guard *guard.Protected
}

func newPage(opts tabs.Options, openTransport func() broadcast.Transport) *page {
	return &page{opts: opts, openTransport: openTransport}
}

func (p *page) mount(path string) (guard.Decision, error) {
	g, err := p.tab()
	if err != nil {
		return guard.Decision{}, err
	}
	return g.Mount(path), nil
}

func (p *page) tab() (*guard.Protected, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.guard != nil {
		return p.guard, nil
	}
	opts := p.opts
	if p.openTransport != nil {
		opts.Transport = p.openTransport()
	}
	c, err := tabs.New(opts)
	if err != nil {
		return nil, err
	}
	c.Start()
	p.coord = c
	p.guard = guard.NewProtected(c, guard.Options{
		Window: opts.Window,
		Store:  opts.Store,
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})
	return p.guard, nil
}

func (p *page) current() *tabs.Coordinator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coord
}

// teardown stops the guard and closes the tab, removing its record so a
// reload of the same route is not mistaken for a duplicate.
func (p *page) teardown() {
	p.mu.Lock()
	c, g := p.coord, p.guard
	p.coord, p.guard = nil, nil
	p.mu.Unlock()
	if g != nil {
		g.Unmount()
	}
	if c != nil {
		_ = c.Close()
	}
}
