//go:build js && wasm

package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"syscall/js"
	"time"

	"bizshell/internal/broadcast"
	"bizshell/internal/cache"
	"bizshell/internal/observability/logging"
	"bizshell/internal/session"
	"bizshell/internal/storage"
	"bizshell/internal/tabs"
)

const channelName = "sg_tabs"

type shell struct {
	session *session.Session
	cache   *cache.Manager
	page    *page
}

func main() {
	logger := logging.NewLogger(logging.Config{
		ServiceName: "shellwasm",
		Environment: "browser",
		Level:       "warn",
		Output:      os.Stderr,
	})
	slog.SetDefault(logger)

	local := openWebStorage("localStorage")
	sess := session.New(local, nil, logger)
	s := &shell{
		session: sess,
		cache: cache.New(cache.Config{
			Tiers:  []storage.Backend{storage.NewMemory("memory"), local, openWebStorage("sessionStorage")},
			Logger: logger,
		}),
		page: newPage(tabs.Options{
			Store:    local,
			Session:  sess,
			Window:   browserWindow{},
			Notifier: browserNotifier{},
			Logger:   logger,
		}, func() broadcast.Transport { return openBroadcastChannel(channelName) }),
	}

	// pagehide also fires on reloads and bfcache entries, where
	// beforeunload does not.
	js.Global().Call("addEventListener", "pagehide", js.FuncOf(s.close))

	js.Global().Set("shellCacheSet", js.FuncOf(s.cacheSet))
	js.Global().Set("shellCacheGet", js.FuncOf(s.cacheGet))
	js.Global().Set("shellCacheRemove", js.FuncOf(s.cacheRemove))
	js.Global().Set("shellCacheClear", js.FuncOf(s.cacheClear))
	js.Global().Set("shellCacheCleanup", js.FuncOf(s.cacheCleanup))
	js.Global().Set("shellCacheStats", js.FuncOf(s.cacheStats))
	js.Global().Set("shellUnreadMessages", js.FuncOf(s.unread))
	js.Global().Set("shellSessionLogin", js.FuncOf(s.login))
	js.Global().Set("shellTabMount", js.FuncOf(s.mount))
	js.Global().Set("shellTabNavigate", js.FuncOf(s.navigate))
	js.Global().Set("shellTabLogout", js.FuncOf(s.logout))
	// Manual teardown only; page unload is handled by the pagehide listener.
	js.Global().Set("shellTabClose", js.FuncOf(s.close))
	select {}
}

// cacheSet(key, json, ttlMs): a ttl of 0 or less never expires.
func (s *shell) cacheSet(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return false
	}
	var expires time.Time
	if len(args) > 2 && args[2].Type() == js.TypeNumber && args[2].Int() > 0 {
		expires = s.cache.After(time.Duration(args[2].Int()) * time.Millisecond)
	}
	raw := json.RawMessage(args[1].String())
	if !json.Valid(raw) {
		return false
	}
	s.cache.Set(args[0].String(), raw, expires)
	return true
}

func (s *shell) cacheGet(this js.Value, args []js.Value) any {
	if len(args) == 0 {
		return js.Null()
	}
	raw, ok := s.cache.GetRaw(args[0].String())
	if !ok {
		return js.Null()
	}
	return string(raw)
}

func (s *shell) cacheRemove(this js.Value, args []js.Value) any {
	if len(args) > 0 {
		s.cache.Remove(args[0].String())
	}
	return nil
}

func (s *shell) cacheClear(this js.Value, args []js.Value) any {
	return s.cache.Clear()
}

func (s *shell) cacheCleanup(this js.Value, args []js.Value) any {
	return s.cache.CleanupExpiredEntries()
}

func (s *shell) cacheStats(this js.Value, args []js.Value) any {
	return toJSON(s.cache.Stats())
}

func (s *shell) unread(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return js.Null()
	}
	return toJSON(s.cache.GetUnreadMessages(args[0].String(), args[1].String()))
}

func (s *shell) login(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return "missing email or token"
	}
	if err := s.session.Login(args[0].String(), args[1].String()); err != nil {
		return err.Error()
	}
	return nil
}

// mount(path) opens the tab on first use and runs the protected route
// checks, resolving to {render, redirect, pending}.
func (s *shell) mount(this js.Value, args []js.Value) any {
	if len(args) == 0 {
		return js.Null()
	}
	path := args[0].String()
	return async(func(resolve, reject js.Value) {
		d, err := s.page.mount(path)
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		resolve.Invoke(js.ValueOf(map[string]any{
			"render":   d.Render,
			"redirect": d.Redirect,
			"pending":  d.Pending,
		}))
	})
}

func (s *shell) navigate(this js.Value, args []js.Value) any {
	if c := s.page.current(); c != nil && len(args) > 0 {
		path := args[0].String()
		go c.UpdateTabPath(path)
	}
	return nil
}

func (s *shell) logout(this js.Value, args []js.Value) any {
	if c := s.page.current(); c != nil {
		go c.ForceLogout()
		return nil
	}
	go func() { _ = s.session.Logout() }()
	return nil
}

// close runs synchronously so the record is gone before the page unloads.
func (s *shell) close(this js.Value, args []js.Value) any {
	s.page.teardown()
	return nil
}

func toJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return js.Null()
	}
	return string(data)
}

func async(fn func(resolve, reject js.Value)) js.Value {
	promise := js.Global().Get("Promise")
	handler := js.FuncOf(func(this js.Value, args []js.Value) any {
		resolve := args[0]
		reject := args[1]
		go fn(resolve, reject)
		return nil
	})
	return promise.New(handler)
}
