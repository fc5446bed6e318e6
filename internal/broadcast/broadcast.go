package broadcast

import (
	"encoding/json"
	"errors"
)

var ErrClosed = errors.New("broadcast: channel closed")

// Message types exchanged between tabs.
const (
	TypeFocusRequest   = "FOCUS_REQUEST"
	TypeFocusConfirmed = "FOCUS_CONFIRMED"
	TypeUserLoggedOut  = "USER_LOGGED_OUT"
	TypeURLUpdated     = "URL_UPDATED"
)

// Message is the union of every cross-tab message shape; unused fields are
// omitted on the wire.
type Message struct {
	Type          string `json:"type"`
	TargetTabID   string `json:"targetTabId,omitempty"`
	NewTabID      string `json:"newTabId,omitempty"`
	OriginalTabID string `json:"originalTabId,omitempty"`
	TabID         string `json:"tabId,omitempty"`
	Path          string `json:"path,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

func FocusRequest(targetTabID, newTabID, path string) Message {
	return Message{Type: TypeFocusRequest, TargetTabID: targetTabID, NewTabID: newTabID, Path: path}
}

func FocusConfirmed(originalTabID, newTabID string) Message {
	return Message{Type: TypeFocusConfirmed, OriginalTabID: originalTabID, NewTabID: newTabID}
}

func UserLoggedOut() Message {
	return Message{Type: TypeUserLoggedOut}
}

func URLUpdated(path, tabID string, timestamp int64) Message {
	return Message{Type: TypeURLUpdated, Path: path, TabID: tabID, Timestamp: timestamp}
}

// Known reports whether the message type is one this package defines.
func (m Message) Known() bool {
	switch m.Type {
	case TypeFocusRequest, TypeFocusConfirmed, TypeUserLoggedOut, TypeURLUpdated:
		return true
	}
	return false
}

// Decode parses a wire payload. Payloads that are not JSON objects or carry
// an unknown type report ok=false so callers can drop them silently.
func Decode(data []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, false
	}
	return m, m.Known()
}

// Transport is a best-effort fan-out channel between tabs. A message is
// delivered to every other subscriber on the same channel, never back to
// its sender, and delivery is not acknowledged.
type Transport interface {
	Post(msg Message) error
	// Subscribe installs the receive handler. Handlers run on a transport
	// goroutine, one message at a time.
	Subscribe(handler func(Message)) error
	Close() error
}

// Noop is the polling-only fallback used when no channel is available.
type Noop struct{}

func (Noop) Post(Message) error            { return ErrClosed }
func (Noop) Subscribe(func(Message)) error { return ErrClosed }
func (Noop) Close() error                  { return nil }
