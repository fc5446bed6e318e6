package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bizshell/internal/clock"
	"bizshell/internal/observability/metrics"
	"bizshell/internal/storage"
)

const DefaultPrefix = "sg_cache_"

var ErrCorruptEntry = errors.New("cache: corrupt entry")

// Entry wraps every cached value. Times are epoch ms; a nil Expiry never
// expires on time.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Expiry    *int64          `json:"expiry"`
}

// Expired reports whether the entry is past its expiry. An entry is still
// readable at exactly its expiry instant.
func (e Entry) Expired(nowMillis int64) bool {
	return e.Expiry != nil && nowMillis > *e.Expiry
}

func decodeEntry(payload []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return e, nil
}

type Config struct {
	// Tiers are consulted in order. Tier 0 is written on every Set; later
	// tiers are tried until one accepts the write.
	Tiers  []storage.Backend
	Prefix string
	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager is a key/value cache over an ordered chain of storage tiers.
// It owns no timers; see Janitor for periodic cleanup.
type Manager struct {
	tiers  []storage.Backend
	prefix string
	clock  clock.Clock
	logger *slog.Logger
}

func New(cfg Config) *Manager {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = []storage.Backend{storage.NewMemory("memory")}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{tiers: cfg.Tiers, prefix: cfg.Prefix, clock: cfg.Clock, logger: cfg.Logger}
}

func (m *Manager) Prefix() string { return m.prefix }

func (m *Manager) Tiers() []storage.Backend { return m.tiers }

func (m *Manager) now() int64 { return clock.Millis(m.clock.Now()) }

// After returns the instant d from now on the manager's clock.
func (m *Manager) After(d time.Duration) time.Time { return m.clock.Now().Add(d) }

// Set stores data under key. A zero expiresAt never expires. Failures are
// logged and absorbed: the value always lands in tier 0 and then in the
// first slower tier that accepts it.
func (m *Manager) Set(key string, data any, expiresAt time.Time) {
	raw, err := json.Marshal(data)
	if err != nil {
		m.logger.Warn("cache_marshal_failed", "key", key, "error", err)
		return
	}
	e := Entry{Data: raw, Timestamp: m.now()}
	if !expiresAt.IsZero() {
		ms := clock.Millis(expiresAt)
		e.Expiry = &ms
	}
	payload, err := json.Marshal(e)
	if err != nil {
		m.logger.Warn("cache_marshal_failed", "key", key, "error", err)
		return
	}

	full := m.prefix + key
	m.write(0, full, payload)
	for i := 1; i < len(m.tiers); i++ {
		if m.write(i, full, payload) == nil {
			return
		}
	}
	if len(m.tiers) > 1 {
		m.logger.Info("cache_memory_only", "key", key)
	}
}

func (m *Manager) write(i int, full string, payload []byte) error {
	tier := m.tiers[i]
	err := tier.Set(full, payload)
	result := "ok"
	if err != nil {
		result = "error"
		m.logger.Debug("cache_tier_write_failed", "tier", tier.Name(), "key", full, "error", err)
	}
	metrics.CacheWritesTotal.WithLabelValues(tier.Name(), result).Inc()
	return err
}

// Lookup returns the entry for key. Tiers are searched in order; an
// expired entry at any tier removes the key everywhere and ends the search
// as a miss. A hit in a slower tier is copied into tier 0.
func (m *Manager) Lookup(key string) (Entry, bool) {
	full := m.prefix + key
	now := m.now()
	for i, tier := range m.tiers {
		payload, err := tier.Get(full)
		if err != nil {
			if !storage.IsNotFound(err) {
				m.logger.Debug("cache_tier_read_failed", "tier", tier.Name(), "key", full, "error", err)
				metrics.CacheLookupsTotal.WithLabelValues(tier.Name(), "error").Inc()
			}
			continue
		}
		e, err := decodeEntry(payload)
		if err != nil {
			m.logger.Debug("cache_entry_corrupt", "tier", tier.Name(), "key", full, "error", err)
			metrics.CacheLookupsTotal.WithLabelValues(tier.Name(), "corrupt").Inc()
			continue
		}
		if e.Expired(now) {
			metrics.CacheLookupsTotal.WithLabelValues(tier.Name(), "expired").Inc()
			m.Remove(key)
			return Entry{}, false
		}
		if i > 0 {
			if err := m.tiers[0].Set(full, payload); err != nil {
				m.logger.Debug("cache_promote_failed", "key", full, "error", err)
			}
		}
		metrics.CacheLookupsTotal.WithLabelValues(tier.Name(), "hit").Inc()
		return e, true
	}
	metrics.CacheLookupsTotal.WithLabelValues("all", "miss").Inc()
	return Entry{}, false
}

// GetRaw returns the cached JSON for key.
func (m *Manager) GetRaw(key string) (json.RawMessage, bool) {
	e, ok := m.Lookup(key)
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Get decodes the cached value into out. A value that does not decode
// into out counts as a miss.
func (m *Manager) Get(key string, out any) bool {
	raw, ok := m.GetRaw(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		m.logger.Debug("cache_decode_failed", "key", key, "error", err)
		return false
	}
	return true
}

// Remove deletes key from every tier.
func (m *Manager) Remove(key string) {
	full := m.prefix + key
	for _, tier := range m.tiers {
		if err := tier.Remove(full); err != nil && !storage.IsNotFound(err) {
			m.logger.Debug("cache_tier_remove_failed", "tier", tier.Name(), "key", full, "error", err)
		}
	}
}

// Clear removes every key carrying the manager's prefix from every tier
// and returns how many were removed. Other keys are left alone.
func (m *Manager) Clear() int {
	removed := 0
	for _, tier := range m.tiers {
		keys, err := tier.Keys(m.prefix)
		if err != nil {
			m.logger.Debug("cache_tier_list_failed", "tier", tier.Name(), "error", err)
			continue
		}
		for _, k := range keys {
			if err := tier.Remove(k); err == nil {
				removed++
			}
		}
	}
	m.logger.Info("cache_cleared", "removed", removed)
	return removed
}

// CleanupExpiredEntries sweeps every tier for expired or unparseable
// entries and returns the number of removals.
func (m *Manager) CleanupExpiredEntries() int {
	now := m.now()
	removed := 0
	for _, tier := range m.tiers {
		keys, err := tier.Keys(m.prefix)
		if err != nil {
			m.logger.Debug("cache_tier_list_failed", "tier", tier.Name(), "error", err)
			continue
		}
		for _, k := range keys {
			payload, err := tier.Get(k)
			if err != nil {
				continue
			}
			e, err := decodeEntry(payload)
			if err == nil && !e.Expired(now) {
				continue
			}
			if err := tier.Remove(k); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		m.logger.Info("cache_cleanup", "removed", removed)
		metrics.CacheCleanupRemovedTotal.Add(float64(removed))
	}
	return removed
}
