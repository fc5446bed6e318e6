package tabs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"bizshell/internal/storage"
)

// StorageKey holds the JSON array of open tabs in durable storage.
const StorageKey = "sg_open_tabs"

// Record is one tab's entry in the shared collection. Times are epoch ms.
type Record struct {
	TabID     string `json:"tabId"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	LastSeen  int64  `json:"lastSeen"`
	URL       string `json:"url"`
}

// Stale reports whether the record missed heartbeats for longer than after.
func (r Record) Stale(nowMillis int64, after time.Duration) bool {
	return nowMillis-r.LastSeen > after.Milliseconds()
}

// Store reads and writes the shared tab collection. Concurrent writers are
// last-write-wins; the staleness sweep repairs lost updates.
type Store struct {
	backend storage.Backend
	logger  *slog.Logger
}

func NewStore(b storage.Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: b, logger: logger}
}

// Load returns the persisted collection. Unreadable or corrupt data reads
// as an empty collection.
func (s *Store) Load() []Record {
	raw, err := s.backend.Get(StorageKey)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("tab_store_read_failed", "backend", s.backend.Name(), "error", err)
		}
		return nil
	}
	var tabs []Record
	if err := json.Unmarshal(raw, &tabs); err != nil {
		s.logger.Warn("tab_store_corrupt", "backend", s.backend.Name(), "error", err)
		return nil
	}
	return tabs
}

func (s *Store) Save(tabs []Record) error {
	if tabs == nil {
		tabs = []Record{}
	}
	raw, err := json.Marshal(tabs)
	if err != nil {
		return err
	}
	if err := s.backend.Set(StorageKey, raw); err != nil {
		s.logger.Warn("tab_store_write_failed", "backend", s.backend.Name(), "error", err)
		return fmt.Errorf("save tabs: %w", err)
	}
	return nil
}

// Sweep loads the collection and drops stale records, writing back only
// when something was pruned. It returns the live records and the number
// removed.
func (s *Store) Sweep(nowMillis int64, staleAfter time.Duration) ([]Record, int) {
	tabs := s.Load()
	live := make([]Record, 0, len(tabs))
	for _, r := range tabs {
		if !r.Stale(nowMillis, staleAfter) {
			live = append(live, r)
		}
	}
	pruned := len(tabs) - len(live)
	if pruned > 0 {
		_ = s.Save(live)
	}
	return live, pruned
}

// upsert replaces the record with the same id or appends it.
func upsert(tabs []Record, r Record) []Record {
	for i := range tabs {
		if tabs[i].TabID == r.TabID {
			tabs[i] = r
			return tabs
		}
	}
	return append(tabs, r)
}

func without(tabs []Record, id string) ([]Record, bool) {
	out := tabs[:0:0]
	found := false
	for _, r := range tabs {
		if r.TabID == id {
			found = true
			continue
		}
		out = append(out, r)
	}
	return out, found
}
