package broadcast

import (
	"log/slog"
	"sync"
)

const hubQueueSize = 64

// Hub connects transports opened inside one process, keyed by channel name.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*HubChannel]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*HubChannel]struct{})}
}

var defaultHub = NewHub()

// DefaultHub is the process-wide hub used by Open("hub", ...).
func DefaultHub() *Hub { return defaultHub }

// Open joins the named channel.
func (h *Hub) Open(name string) *HubChannel {
	c := &HubChannel{hub: h, name: name, queue: make(chan Message, hubQueueSize), done: make(chan struct{})}
	h.mu.Lock()
	if h.subs[name] == nil {
		h.subs[name] = make(map[*HubChannel]struct{})
	}
	h.subs[name][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) peers(c *HubChannel) []*HubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*HubChannel, 0, len(h.subs[c.name]))
	for p := range h.subs[c.name] {
		if p != c {
			out = append(out, p)
		}
	}
	return out
}

func (h *Hub) leave(c *HubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[c.name], c)
	if len(h.subs[c.name]) == 0 {
		delete(h.subs, c.name)
	}
}

// HubChannel is one tab's membership in a hub channel.
type HubChannel struct {
	hub  *Hub
	name string

	mu      sync.Mutex
	closed  bool
	started bool
	queue   chan Message
	done    chan struct{}
}

func (c *HubChannel) Post(msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, p := range c.hub.peers(c) {
		p.enqueue(msg)
	}
	return nil
}

func (c *HubChannel) enqueue(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- msg:
	default:
		slog.Warn("broadcast_queue_full", "channel", c.name, "type", msg.Type)
	}
}

func (c *HubChannel) Subscribe(handler func(Message)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	go func() {
		for {
			select {
			case <-c.done:
				return
			case msg := <-c.queue:
				handler(msg)
			}
		}
	}()
	return nil
}

func (c *HubChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.hub.leave(c)
	return nil
}
