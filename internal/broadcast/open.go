package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Open selects a transport from a location string: "none" (or empty) for
// the polling-only fallback, "hub" for the in-process hub, or a postgres
// DSN for LISTEN/NOTIFY.
func Open(spec, channel string) (Transport, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "none":
		return Noop{}, nil
	case spec == "hub":
		return DefaultHub().Open(channel), nil
	case strings.HasPrefix(spec, "postgres://"), strings.HasPrefix(spec, "postgresql://"):
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		t, err := DialPG(ctx, spec, channel)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("broadcast: unrecognised transport %q", spec)
}
