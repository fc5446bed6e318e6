//go:build js && wasm

package main

import (
	"fmt"
	"strings"
	"syscall/js"

	"bizshell/internal/storage"
)

// webStorage adapts window.localStorage or window.sessionStorage.
type webStorage struct {
	label string
	obj   js.Value
}

// openWebStorage returns the named Storage object, or a disabled backend
// when the page denies access to it.
func openWebStorage(name string) (b storage.Backend) {
	defer func() {
		if r := recover(); r != nil {
			b = storage.Disabled{Label: name}
		}
	}()
	obj := js.Global().Get(name)
	if obj.IsUndefined() || obj.IsNull() {
		return storage.Disabled{Label: name}
	}
	return &webStorage{label: name, obj: obj}
}

func (w *webStorage) Name() string { return w.label }

// call invokes a Storage method, turning a thrown DOMException into an error.
func (w *webStorage) call(method string, args ...any) (v js.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			if strings.Contains(msg, "QuotaExceeded") {
				err = fmt.Errorf("%w: %s", storage.ErrQuotaExceeded, msg)
				return
			}
			err = fmt.Errorf("%w: %s", storage.ErrUnavailable, msg)
		}
	}()
	return w.obj.Call(method, args...), nil
}

func (w *webStorage) Get(key string) ([]byte, error) {
	v, err := w.call("getItem", key)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, storage.ErrNotFound
	}
	return []byte(v.String()), nil
}

func (w *webStorage) Set(key string, value []byte) error {
	_, err := w.call("setItem", key, string(value))
	return err
}

func (w *webStorage) Remove(key string) error {
	_, err := w.call("removeItem", key)
	return err
}

func (w *webStorage) Keys(prefix string) ([]string, error) {
	n := w.obj.Get("length").Int()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v, err := w.call("key", i)
		if err != nil {
			return nil, err
		}
		if v.IsNull() {
			continue
		}
		if k := v.String(); strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
