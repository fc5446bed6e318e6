package storage

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
)

// Pebble is a durable on-disk tier. A pebble directory can only be opened
// by one process at a time; use SQL when several processes share a tier.
type Pebble struct {
	db    *pebble.DB
	path  string
	label string
	sync  bool
}

func OpenPebble(path string, syncWrites bool) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		slog.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &Pebble{db: db, path: path, sync: syncWrites}, nil
}

func (p *Pebble) Name() string {
	if p.label == "" {
		return "pebble"
	}
	return p.label
}

// WithLabel sets the name reported by Name.
func (p *Pebble) WithLabel(label string) *Pebble {
	p.label = label
	return p
}

func (p *Pebble) writeOpt() *pebble.WriteOptions {
	if p.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (p *Pebble) Get(key string) ([]byte, error) {
	if p.db == nil {
		return nil, ErrUnavailable
	}
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (p *Pebble) Set(key string, value []byte) error {
	if p.db == nil {
		return ErrUnavailable
	}
	if err := p.db.Set([]byte(key), value, p.writeOpt()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Pebble) Remove(key string) error {
	if p.db == nil {
		return ErrUnavailable
	}
	if err := p.db.Delete([]byte(key), p.writeOpt()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Pebble) Keys(prefix string) ([]string, error) {
	if p.db == nil {
		return nil, ErrUnavailable
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	pfx := []byte(prefix)
	var out []string
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
