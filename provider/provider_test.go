package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/types"
)

type fakeSource struct {
	id        string
	available bool
	bars      []types.Bar
	err       error
	calls     int
}

func (f *fakeSource) ID() string        { return f.id }
func (f *fakeSource) Available() bool   { return f.available }
func (f *fakeSource) FetchOHLC(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func oneBar() []types.Bar {
	return []types.Bar{{Close: 100}}
}

func TestManager_SelectsHighestPriorityFirst(t *testing.T) {
	high := &fakeSource{id: "high", available: true, bars: oneBar()}
	low := &fakeSource{id: "low", available: true, bars: oneBar()}

	m, err := NewManager(func() ([]Meta, map[string]Source, error) {
		return []Meta{
				{ID: "low", Enabled: true, Priority: 1, IsSystem: true},
				{ID: "high", Enabled: true, Priority: 10, IsSystem: true},
			}, map[string]Source{
				"low":  low,
				"high": high,
			}, nil
	})
	require.NoError(t, err)

	bars, err := m.FetchOHLC(context.Background(), "BTCUSDT", "M5", 10, "", false)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 1, high.calls)
	assert.Equal(t, 0, low.calls)
}

func TestManager_FallsThroughOnFailure(t *testing.T) {
	failing := &fakeSource{id: "failing", available: true, err: errors.New("boom")}
	working := &fakeSource{id: "working", available: true, bars: oneBar()}

	m, err := NewManager(func() ([]Meta, map[string]Source, error) {
		return []Meta{
				{ID: "failing", Enabled: true, Priority: 10, IsSystem: true},
				{ID: "working", Enabled: true, Priority: 1, IsSystem: true},
			}, map[string]Source{
				"failing": failing,
				"working": working,
			}, nil
	})
	require.NoError(t, err)

	bars, err := m.FetchOHLC(context.Background(), "BTCUSDT", "M5", 10, "", false)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)
}

func TestManager_OnlySystemExcludesNonSystemProviders(t *testing.T) {
	userProvider := &fakeSource{id: "user", available: true, bars: oneBar()}

	m, err := NewManager(func() ([]Meta, map[string]Source, error) {
		return []Meta{
				{ID: "user", Enabled: true, Priority: 10, IsSystem: false},
			}, map[string]Source{
				"user": userProvider,
			}, nil
	})
	require.NoError(t, err)

	bars, err := m.FetchOHLC(context.Background(), "BTCUSDT", "M5", 10, "", true)
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, 0, userProvider.calls)
}

func TestManager_RequiresAuthSkipsWithoutCredentials(t *testing.T) {
	src := &fakeSource{id: "needsauth", available: true, bars: oneBar()}

	m, err := NewManager(func() ([]Meta, map[string]Source, error) {
		return []Meta{
				{ID: "needsauth", Enabled: true, Priority: 10, IsSystem: true, RequiresAuth: true, HasCredentials: false},
			}, map[string]Source{
				"needsauth": src,
			}, nil
	})
	require.NoError(t, err)

	bars, err := m.FetchOHLC(context.Background(), "BTCUSDT", "M5", 10, "", false)
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, 0, src.calls)
}

func TestManager_FallbackToDefaultFreeProviderWhenAllFail(t *testing.T) {
	failing := &fakeSource{id: "failing", available: true, err: errors.New("down")}
	free := &fakeSource{id: "free", available: true, bars: oneBar()}

	m, err := NewManager(func() ([]Meta, map[string]Source, error) {
		return []Meta{
				{ID: "failing", Enabled: true, Priority: 10, IsSystem: true},
			}, map[string]Source{
				"failing": failing,
			}, nil
	})
	require.NoError(t, err)
	m.SetDefaultFreeProvider(Meta{ID: "free", Enabled: true, IsSystem: true}, free)

	bars, err := m.FetchOHLC(context.Background(), "BTCUSDT", "M5", 10, "", false)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 1, free.calls)
}

func TestManager_Reload_PicksUpNewProviderList(t *testing.T) {
	version := 1
	m, err := NewManager(func() ([]Meta, map[string]Source, error) {
		if version == 1 {
			return []Meta{{ID: "a", Enabled: true, Priority: 1, IsSystem: true}},
				map[string]Source{"a": &fakeSource{id: "a", available: true, bars: oneBar()}}, nil
		}
		return []Meta{{ID: "b", Enabled: true, Priority: 1, IsSystem: true}},
			map[string]Source{"b": &fakeSource{id: "b", available: true, bars: oneBar()}}, nil
	})
	require.NoError(t, err)

	bars, err := m.FetchOHLC(context.Background(), "X", "M5", 1, "", false)
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	version = 2
	require.NoError(t, m.Reload())

	bars, err = m.FetchOHLC(context.Background(), "X", "M5", 1, "", false)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestSymbolMap_ResolveFallsBackToInternal(t *testing.T) {
	sm := NewSymbolMap()
	sm.Set("binance", "BTC/USD", "BTCUSDT")
	assert.Equal(t, "BTCUSDT", sm.Resolve("binance", "BTC/USD"))
	assert.Equal(t, "ETH/USD", sm.Resolve("binance", "ETH/USD"))
}
