package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/config"
	"tradeengine/provider"
	"tradeengine/types"
)

type fakeSource struct {
	bars []types.Bar
}

func (f *fakeSource) ID() string      { return "fake" }
func (f *fakeSource) Available() bool { return true }
func (f *fakeSource) FetchOHLC(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	return f.bars, nil
}

type fakeToggles struct {
	mu      sync.Mutex
	enabled bool
}

func newFakeToggles(enabled bool) *fakeToggles { return &fakeToggles{enabled: enabled} }

func (f *fakeToggles) ResolveModuleEnabled(account, module string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

type fakePersister struct {
	mu    sync.Mutex
	saved []types.ScanSnapshot
}

func (f *fakePersister) LogMarketState(snap types.ScanSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakePersister) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		CPULimitPercent:     70,
		SleepTrendSeconds:   1,
		SleepRangeSeconds:   2,
		SleepNeutralSeconds: 1.5,
		SleepCrashSeconds:   0.5,
		BaseSleepSeconds:    1,
		MaxSleepMultiplier:  3,
		BarsCount:           50,
		Timeframes: []config.TimeframeConfig{
			{Timeframe: "1h", Enabled: true},
		},
	}
}

func testClassifierConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		ADXPeriod:                 14,
		SMAPeriod:                 20,
		ADXTrendThreshold:         25,
		ADXRangeThreshold:         15,
		ADXRangeExitThreshold:     20,
		VolatilityShockMultiplier: 2,
		ShockLookback:             20,
		MinVolatilityATRPeriod:    14,
		PersistenceCandles:        2,
	}
}

func bars(n int) []types.Bar {
	out := make([]types.Bar, n)
	price := 100.0
	for i := range out {
		price += 1
		out[i] = types.Bar{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 10}
	}
	return out
}

func newTestManager(t *testing.T, src provider.Source) *provider.Manager {
	t.Helper()
	mgr, err := provider.NewManager(func() ([]provider.Meta, map[string]provider.Source, error) {
		return []provider.Meta{{ID: "fake", Enabled: true, Priority: 1, IsSystem: true}},
			map[string]provider.Source{"fake": src}, nil
	})
	require.NoError(t, err)
	return mgr
}

func newTestScanner(t *testing.T, mgr *provider.Manager, toggles ModuleToggleReader, persist SnapshotPersister, cpu CPUSampler) *Scanner {
	return New(testScannerConfig(), testClassifierConfig(), ModeStandard, mgr, toggles, persist, cpu, "default", []string{"BTCUSDT"})
}

func TestNew_SeedsStreamsForEveryAssetTimeframePair(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	s := newTestScanner(t, mgr, newFakeToggles(true), &fakePersister{}, nil)

	snaps := s.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "BTCUSDT", snaps[0].Symbol)
	assert.Equal(t, "1h", snaps[0].Timeframe)
}

func TestSetActiveTimeframes_AddsNewStreamWithoutLosingExisting(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	s := newTestScanner(t, mgr, newFakeToggles(true), &fakePersister{}, nil)

	s.SetActiveTimeframes([]string{"1h", "4h"})

	snaps := s.Snapshots()
	require.Len(t, snaps, 2)
}

func TestMaxWorkers_ScalesWithModeMultiplierAndCapsAt64(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	assets := make([]string, 100)
	for i := range assets {
		assets[i] = "SYM"
	}
	s := New(testScannerConfig(), testClassifierConfig(), ModeAggressive, mgr, newFakeToggles(true), &fakePersister{}, nil, "default", assets)
	assert.Equal(t, 64, s.maxWorkers())
}

func TestScanOne_PersistsSnapshotAndUpdatesLastRegime(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	persist := &fakePersister{}
	s := newTestScanner(t, mgr, newFakeToggles(true), persist, nil)

	s.scanOne(context.Background(), "BTCUSDT|1h", "BTCUSDT", "1h")

	assert.Equal(t, 1, persist.count())
	snaps := s.Snapshots()
	require.Len(t, snaps, 1)
	assert.NotEmpty(t, snaps[0].Bars)
}

func TestScanOne_EmptyBarsSkipsPersist(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: nil})
	persist := &fakePersister{}
	s := newTestScanner(t, mgr, newFakeToggles(true), persist, nil)

	s.scanOne(context.Background(), "BTCUSDT|1h", "BTCUSDT", "1h")

	assert.Equal(t, 0, persist.count())
}

func TestAdaptiveSleep_InflatesAboveCPULimit(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	low := newTestScanner(t, mgr, newFakeToggles(true), &fakePersister{}, func() float64 { return 10 })
	high := newTestScanner(t, mgr, newFakeToggles(true), &fakePersister{}, func() float64 { return 95 })

	assert.Greater(t, high.adaptiveSleep(), low.adaptiveSleep())
}

func TestAdaptiveSleep_NilSamplerTreatsZeroCPU(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	s := newTestScanner(t, mgr, newFakeToggles(true), &fakePersister{}, nil)

	d := s.adaptiveSleep()
	assert.Equal(t, time.Duration(s.cfg.BaseSleepSeconds*float64(time.Second)), d)
}

func TestRun_DisabledModuleSkipsDispatchButStaysResponsiveToStop(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	persist := &fakePersister{}
	s := newTestScanner(t, mgr, newFakeToggles(false), persist, nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit after Stop while module disabled")
	}
	assert.Equal(t, 0, persist.count())
}

func TestSplitKey_SplitsOnPipe(t *testing.T) {
	symbol, tf := splitKey("BTCUSDT|1h")
	assert.Equal(t, "BTCUSDT", symbol)
	assert.Equal(t, "1h", tf)
}

func TestSleepQuantized_ReturnsTrueWhenStopped(t *testing.T) {
	mgr := newTestManager(t, &fakeSource{bars: bars(40)})
	s := newTestScanner(t, mgr, newFakeToggles(true), &fakePersister{}, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Stop()
	}()

	stopped := s.sleepQuantized(context.Background(), 5*time.Second)
	assert.True(t, stopped)
}
