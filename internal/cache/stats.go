package cache

import (
	"github.com/dustin/go-humanize"
)

type TierStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   uint64 `json:"bytes"`
	Size    string `json:"size"`
	Error   string `json:"error,omitempty"`
}

// Stats describes what the cache currently holds. It is informational only.
type Stats struct {
	Tiers        []TierStats `json:"tiers"`
	TotalEntries int         `json:"totalEntries"`
	TotalBytes   uint64      `json:"totalBytes"`
	TotalSize    string      `json:"totalSize"`
	GeneratedAt  int64       `json:"generatedAt"`
}

// Stats counts the prefixed entries and their serialized size per tier.
func (m *Manager) Stats() Stats {
	out := Stats{GeneratedAt: m.now()}
	for _, tier := range m.tiers {
		ts := TierStats{Name: tier.Name()}
		keys, err := tier.Keys(m.prefix)
		if err != nil {
			ts.Error = err.Error()
		}
		for _, k := range keys {
			v, err := tier.Get(k)
			if err != nil {
				continue
			}
			ts.Entries++
			ts.Bytes += uint64(len(k) + len(v))
		}
		ts.Size = humanize.Bytes(ts.Bytes)
		out.TotalEntries += ts.Entries
		out.TotalBytes += ts.Bytes
		out.Tiers = append(out.Tiers, ts)
	}
	out.TotalSize = humanize.Bytes(out.TotalBytes)
	return out
}

// SaveDiagnostics stores a stats snapshot under KeyDiagnostics and returns it.
func (m *Manager) SaveDiagnostics() Stats {
	st := m.Stats()
	m.Set(KeyDiagnostics, st, m.After(UserTTL))
	m.logger.Debug("cache_diagnostics_saved",
		"entries", humanize.Comma(int64(st.TotalEntries)),
		"size", st.TotalSize,
	)
	return st
}
