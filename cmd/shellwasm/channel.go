//go:build js && wasm

package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"syscall/js"

	"bizshell/internal/broadcast"
)

// broadcastChannel is a broadcast.Transport over the page's BroadcastChannel,
// which already skips the posting context.
type broadcastChannel struct {
	obj js.Value

	mu       sync.Mutex
	closed   bool
	listener js.Func
	inbox    chan broadcast.Message
}

func openBroadcastChannel(name string) (t broadcast.Transport) {
	defer func() {
		if r := recover(); r != nil {
			t = broadcast.Noop{}
		}
	}()
	ctor := js.Global().Get("BroadcastChannel")
	if ctor.IsUndefined() {
		return broadcast.Noop{}
	}
	return &broadcastChannel{obj: ctor.New(name)}
}

func (c *broadcastChannel) Post(msg broadcast.Message) (err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return broadcast.ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", broadcast.ErrClosed, r)
		}
	}()
	c.obj.Call("postMessage", string(data))
	return nil
}

// Subscribe queues incoming messages for a single delivery goroutine so
// the JS event callback returns immediately.
func (c *broadcastChannel) Subscribe(handler func(broadcast.Message)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broadcast.ErrClosed
	}
	c.inbox = make(chan broadcast.Message, 64)
	inbox := c.inbox
	c.listener = js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) == 0 {
			return nil
		}
		data := args[0].Get("data")
		if data.Type() != js.TypeString {
			return nil
		}
		msg, ok := broadcast.Decode([]byte(data.String()))
		if !ok {
			return nil
		}
		select {
		case inbox <- msg:
		default:
		}
		return nil
	})
	c.obj.Call("addEventListener", "message", c.listener)
	go func() {
		for msg := range inbox {
			handler(msg)
		}
	}()
	return nil
}

func (c *broadcastChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.inbox != nil {
		c.obj.Call("removeEventListener", "message", c.listener)
		c.listener.Release()
		close(c.inbox)
	}
	c.obj.Call("close")
	return nil
}
