package storage

import (
	"errors"
)

var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	ErrUnavailable   = errors.New("storage: unavailable")
)

// Backend is a string-keyed byte store. Implementations must be safe for
// concurrent use.
type Backend interface {
	Name() string
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
	// Keys lists every key starting with prefix; an empty prefix lists all keys.
	Keys(prefix string) ([]string, error)
}

// Closer is implemented by backends holding external resources.
type Closer interface {
	Close() error
}

// Close releases b if it holds resources.
func Close(b Backend) error {
	if c, ok := b.(Closer); ok {
		return c.Close()
	}
	return nil
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Disabled models storage that refuses every operation, as in private browsing.
type Disabled struct {
	Label string
}

func (d Disabled) Name() string {
	if d.Label == "" {
		return "disabled"
	}
	return d.Label
}

func (Disabled) Get(string) ([]byte, error)    { return nil, ErrUnavailable }
func (Disabled) Set(string, []byte) error      { return ErrUnavailable }
func (Disabled) Remove(string) error           { return ErrUnavailable }
func (Disabled) Keys(string) ([]string, error) { return nil, ErrUnavailable }
