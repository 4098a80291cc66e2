package regime

import (
	"sync"
	"time"

	"tradeengine/types"
)

// Entry is one historical regime record, grounded in the example pack's
// RegimeEntry (tradebotlabs-eth-bot).
type Entry struct {
	Timestamp  time.Time
	Regime     types.Regime
	Duration   int // consecutive observations in this regime
}

// History is a bounded ring of recent confirmed-regime entries for one
// stream, supplementing spec §4.2 for the heatmap/API consumer (read-only;
// it never influences Classify's own decisions).
type History struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// NewHistory creates a History capped at maxSize entries (default 100).
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &History{entries: make([]Entry, 0, maxSize), maxSize: maxSize}
}

// Add records one confirmed-regime observation, coalescing into the last
// entry if the regime hasn't changed.
func (h *History) Add(at time.Time, r types.Regime) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > 0 && h.entries[n-1].Regime == r {
		h.entries[n-1].Duration++
		return
	}

	h.entries = append(h.entries, Entry{Timestamp: at, Regime: r, Duration: 1})
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[1:]
	}
}

// Recent returns up to n most recent entries, oldest first.
func (h *History) Recent(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]Entry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Dominant returns the regime with the highest cumulative duration over
// the last periods entries.
func (h *History) Dominant(periods int) types.Regime {
	entries := h.Recent(periods)
	if len(entries) == 0 {
		return types.RegimeNone
	}

	counts := make(map[types.Regime]int)
	for _, e := range entries {
		counts[e.Regime] += e.Duration
	}

	best := types.RegimeNone
	bestCount := 0
	for r, count := range counts {
		if count > bestCount {
			bestCount = count
			best = r
		}
	}
	return best
}
