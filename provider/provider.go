// Package provider implements the Data Provider Manager (spec §4.3): a
// cached, prioritized, fallback-capable fetcher of OHLC bars.
//
// Policies are grounded in the teacher's provider/data_provider.go
// (per-provider exception swallow-and-log, rate limiting left to each
// provider implementation) generalized from that file's
// candidate-ranking-source fetches into the OHLC bar fetch contract
// spec §4.3 actually names. Each candidate source is tried once per
// fetch; the Manager has no retry loop.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradeengine/internal/obs/log"
	"tradeengine/types"
)

// Source is one concrete OHLC data provider. Implementations wrap a
// specific SDK (Binance, Bybit, Hyperliquid, a websocket stream, ...).
type Source interface {
	ID() string
	FetchOHLC(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error)
	Available() bool // false if the dependency/credentials are missing
}

// Meta is the common provider metadata the manager uses for selection,
// replacing the teacher's **kwargs-style ad hoc provider config with the
// tagged-variant pattern spec §9 calls for.
type Meta struct {
	ID             string
	Enabled        bool
	Priority       int // higher wins
	RequiresAuth   bool
	HasCredentials bool
	IsSystem       bool
}

type registered struct {
	meta   Meta
	source Source
}

// Manager owns the provider registry and instance cache. Per spec §4.3's
// single-load contract, the instance cache is populated once at
// initialization (or at the last explicit Reload) and fetch_ohlc never
// refetches the provider list.
type Manager struct {
	mu sync.RWMutex

	loadFunc func() ([]registered, error)
	cache    []registered

	defaultFreeProvider *registered
}

// NewManager creates a Manager whose provider list is produced by
// loadProviders (typically reading Storage's data_providers table and
// constructing concrete Source implementations).
func NewManager(loadProviders func() ([]Meta, map[string]Source, error)) (*Manager, error) {
	m := &Manager{}
	m.loadFunc = func() ([]registered, error) {
		metas, sources, err := loadProviders()
		if err != nil {
			return nil, err
		}
		out := make([]registered, 0, len(metas))
		for _, meta := range metas {
			src, ok := sources[meta.ID]
			if !ok {
				continue
			}
			out = append(out, registered{meta: meta, source: src})
		}
		return out, nil
	}

	cache, err := m.loadFunc()
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// SetDefaultFreeProvider registers the transient fallback provider used
// when every active provider fails (spec §4.3 Fallback). It is kept
// memory-only and is never part of the persisted provider list.
func (m *Manager) SetDefaultFreeProvider(meta Meta, source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultFreeProvider = &registered{meta: meta, source: source}
}

// Reload clears the instance cache and re-reads the provider list,
// per spec §4.3's explicit reload() contract.
func (m *Manager) Reload() error {
	cache, err := m.loadFunc()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = cache
	return nil
}

// candidates returns the cached providers eligible for selection, sorted
// by priority descending, filtered by onlySystem and basic availability.
func (m *Manager) candidates(onlySystem bool) []registered {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]registered, 0, len(m.cache))
	for _, r := range m.cache {
		if !r.meta.Enabled {
			continue
		}
		if onlySystem && !r.meta.IsSystem {
			continue
		}
		if r.meta.RequiresAuth && !r.meta.HasCredentials {
			continue
		}
		if !r.source.Available() {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].meta.Priority > out[j].meta.Priority
	})
	return out
}

// FetchOHLC implements spec §4.3's fetch_ohlc contract. preferredProvider,
// if non-empty, is tried first (still subject to the same eligibility
// filters) before falling back to priority order.
func (m *Manager) FetchOHLC(ctx context.Context, symbol, timeframe string, count int, preferredProvider string, onlySystem bool) ([]types.Bar, error) {
	candidates := m.candidates(onlySystem)

	if preferredProvider != "" {
		for i, c := range candidates {
			if c.meta.ID == preferredProvider {
				candidates = append(append([]registered{c}, candidates[:i]...), candidates[i+1:]...)
				break
			}
		}
	}

	for _, c := range candidates {
		bars, err := c.source.FetchOHLC(ctx, symbol, timeframe, count)
		if err != nil {
			log.Warnf("provider %s: fetch_ohlc(%s,%s) failed: %v", c.meta.ID, symbol, timeframe, err)
			continue
		}
		if len(bars) > 0 {
			return bars, nil
		}
	}

	m.mu.RLock()
	fallback := m.defaultFreeProvider
	m.mu.RUnlock()
	if fallback != nil && fallback.source.Available() {
		bars, err := fallback.source.FetchOHLC(ctx, symbol, timeframe, count)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
	}

	return nil, nil
}

// contextWithTimeout enforces the §5 10-second provider HTTP timeout
// default when the caller hasn't already set a deadline.
func contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 10*time.Second)
}
