//go:build js && wasm

package main

import (
	"fmt"
	"syscall/js"
)

type browserWindow struct{}

func (browserWindow) Focus() { js.Global().Call("focus") }

func (browserWindow) Navigate(path string) {
	js.Global().Get("location").Call("assign", path)
}

func (browserWindow) URL() string {
	return js.Global().Get("location").Get("href").String()
}

type browserNotifier struct{}

func (browserNotifier) Permitted() bool {
	n := js.Global().Get("Notification")
	return !n.IsUndefined() && n.Get("permission").String() == "granted"
}

func (browserNotifier) Notify(title, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification: %v", r)
		}
	}()
	opts := map[string]any{"body": body}
	js.Global().Get("Notification").New(title, opts)
	return nil
}
