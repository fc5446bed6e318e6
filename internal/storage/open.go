package storage

import (
	"fmt"
	"strings"
)

// Open builds a backend from a location string:
//
//	memory                       in-process map
//	disabled                     refuses every call
//	pebble://<dir>               pebble directory
//	sqlite://<dsn>               sqlite file or in-memory DSN through gorm
//	postgres://... postgresql:// postgres through gorm
func Open(spec, label string) (Backend, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "memory":
		return NewMemory(label), nil
	case spec == "disabled":
		return Disabled{Label: label}, nil
	case strings.HasPrefix(spec, "pebble://"):
		p, err := OpenPebble(strings.TrimPrefix(spec, "pebble://"), true)
		if err != nil {
			return nil, err
		}
		return p.WithLabel(label), nil
	case strings.HasPrefix(spec, "sqlite://"):
		return openSQL(SQLConfig{Driver: "sqlite", DSN: strings.TrimPrefix(spec, "sqlite://"), Label: label})
	case strings.HasPrefix(spec, "postgres://"), strings.HasPrefix(spec, "postgresql://"):
		return openSQL(SQLConfig{Driver: "postgres", DSN: spec, Label: label})
	}
	return nil, fmt.Errorf("storage: unrecognised location %q", spec)
}

func openSQL(cfg SQLConfig) (Backend, error) {
	s, err := OpenSQL(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
