// Package scanner implements the Proactive Scanner (spec §4.4): a
// priority-driven, CPU-adaptive multi-worker loop that scans
// (symbol, timeframe) pairs and classifies regime.
//
// The coordinator shape (sleep-paced loop, chunked stoppable sleep,
// sync.WaitGroup-tracked worker dispatch) is grounded in the teacher's
// trader.AutoTrader.Run/Stop idiom, generalized from one ticker firing a
// single cycle into a worker-pool dispatch model firing one goroutine
// per due (symbol, timeframe) candidate.
package scanner

import (
	"context"
	"sync"
	"time"

	"tradeengine/indicator"
	"tradeengine/internal/config"
	"tradeengine/internal/obs/log"
	"tradeengine/internal/obs/metrics"
	"tradeengine/provider"
	"tradeengine/regime"
	"tradeengine/types"
)

// ScanMode scales the worker pool size relative to the asset count
// (spec §4.4 "bounded worker pool sized by max_workers").
type ScanMode string

const (
	ModeEco        ScanMode = "ECO"
	ModeStandard   ScanMode = "STANDARD"
	ModeAggressive ScanMode = "AGGRESSIVE"
)

func (m ScanMode) multiplier() float64 {
	switch m {
	case ModeEco:
		return 0.5
	case ModeAggressive:
		return 2.0
	default:
		return 1.0
	}
}

// ModuleToggleReader is the hot-reload collaborator (spec §4.4 step 5):
// the Scanner reads the global "scanner" toggle every iteration without
// the Orchestrator having to push it.
type ModuleToggleReader interface {
	ResolveModuleEnabled(account, module string) (bool, error)
}

// CPUSampler reports current process/system CPU usage as a percentage,
// feeding the adaptive sleep inflation in spec §4.4 step 4.
type CPUSampler func() float64

// SnapshotPersister is the Storage collaborator the Scanner writes
// through after every successful worker return (spec §4.4 step 3).
type SnapshotPersister interface {
	LogMarketState(snap types.ScanSnapshot) error
}

// stream is the per-(symbol,timeframe) classifier + history pairing the
// Scanner owns exclusively; no cross-thread mutation occurs because the
// coordinator never dispatches the same key twice concurrently.
type stream struct {
	classifier *regime.Classifier
	history    *regime.History
}

// Scanner owns the asset/timeframe universe, one Classifier per stream,
// and the three monotonic-time maps + single mutex spec §4.4 describes.
type Scanner struct {
	cfg      config.ScannerConfig
	classCfg config.ClassifierConfig
	mode     ScanMode

	manager  *provider.Manager
	toggles  ModuleToggleReader
	persist  SnapshotPersister
	cpu      CPUSampler
	account  string // account id used for module-toggle resolution

	mu            sync.Mutex
	assets        []string
	timeframes    map[string]bool
	streams       map[string]*stream // key = symbol|timeframe
	lastRegime    map[string]types.Regime
	lastScanTime  map[string]time.Time // monotonic-sourced wall clock, compared via time.Since
	lastDataframe map[string][]types.Bar

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scanner over the given asset universe and initial
// active timeframes.
func New(cfg config.ScannerConfig, classCfg config.ClassifierConfig, mode ScanMode, mgr *provider.Manager, toggles ModuleToggleReader, persist SnapshotPersister, cpu CPUSampler, account string, assets []string) *Scanner {
	s := &Scanner{
		cfg:           cfg,
		classCfg:      classCfg,
		mode:          mode,
		manager:       mgr,
		toggles:       toggles,
		persist:       persist,
		cpu:           cpu,
		account:       account,
		assets:        append([]string(nil), assets...),
		timeframes:    make(map[string]bool),
		streams:       make(map[string]*stream),
		lastRegime:    make(map[string]types.Regime),
		lastScanTime:  make(map[string]time.Time),
		lastDataframe: make(map[string][]types.Bar),
		stopCh:        make(chan struct{}),
	}
	for _, tf := range cfg.Timeframes {
		if tf.Enabled {
			s.timeframes[tf.Timeframe] = true
		}
	}
	s.ensureStreams()
	return s
}

// maxWorkers derives the bounded pool size from the asset count and the
// scan-mode multiplier (spec §4.4).
func (s *Scanner) maxWorkers() int {
	n := int(float64(len(s.assets)) * s.mode.multiplier())
	if n < 1 {
		n = 1
	}
	if n > 64 {
		n = 64
	}
	return n
}

// ensureStreams creates a Classifier+History for any (symbol, timeframe)
// key that doesn't have one yet, without disturbing existing streams —
// this is what lets hot-reload of the active-timeframe set (§4.4 step 5)
// add new keys without recreating the coordinator goroutine.
func (s *Scanner) ensureStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, symbol := range s.assets {
		for tf, enabled := range s.timeframes {
			if !enabled {
				continue
			}
			key := types.ScanSnapshot{Symbol: symbol, Timeframe: tf}.Key()
			if _, ok := s.streams[key]; !ok {
				s.streams[key] = &stream{
					classifier: regime.New(s.classCfg, 300),
					history:    regime.NewHistory(100),
				}
			}
		}
	}
}

// SetActiveTimeframes replaces the configured active-timeframe set and
// creates classifiers for any new keys (spec §4.4 step 5 hot-reload).
func (s *Scanner) SetActiveTimeframes(timeframes []string) {
	s.mu.Lock()
	next := make(map[string]bool, len(timeframes))
	for _, tf := range timeframes {
		next[tf] = true
	}
	s.timeframes = next
	s.mu.Unlock()
	s.ensureStreams()
}

// Run is the single long-lived coordinator loop (spec §4.4, §5). It
// blocks until Stop is called or ctx is canceled, and returns within
// one sleep quantum of either.
func (s *Scanner) Run(ctx context.Context) {
	log.Infof("scanner: coordinator loop starting (max_workers=%d)", s.maxWorkers())
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		enabled, err := s.toggles.ResolveModuleEnabled(s.account, string(types.ModuleScanner))
		if err != nil {
			log.Error(err, "scanner: resolve module toggle failed")
			enabled = true
		}
		if !enabled {
			if s.sleepQuantized(ctx, 10*time.Second) {
				return
			}
			continue
		}

		s.dispatchDueCandidates(ctx)

		if s.sleepQuantized(ctx, s.adaptiveSleep()) {
			return
		}
	}
}

// Stop terminates the coordinator loop within one sleep quantum
// (spec §4.4 Cancellation).
func (s *Scanner) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
}

// candidateKeys returns the (symbol,timeframe) keys due for rescan under
// the mutex, matching spec §4.4 step 1.
func (s *Scanner) candidateKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []string
	for key := range s.streams {
		last, seen := s.lastScanTime[key]
		interval := s.cfg.IntervalFor(s.lastRegime[key].String())
		if !seen || now.Sub(last).Seconds() >= interval {
			due = append(due, key)
		}
	}
	return due
}

func (s *Scanner) dispatchDueCandidates(ctx context.Context) {
	keys := s.candidateKeys()
	sem := make(chan struct{}, s.maxWorkers())
	metrics.ScannerActiveWorkers.Set(float64(len(keys)))

	var wg sync.WaitGroup
	for _, key := range keys {
		symbol, timeframe := splitKey(key)
		sem <- struct{}{}
		wg.Add(1)
		s.wg.Add(1)
		go func(key, symbol, timeframe string) {
			defer func() { <-sem; wg.Done(); s.wg.Done() }()
			s.scanOne(ctx, key, symbol, timeframe)
		}(key, symbol, timeframe)
	}
	wg.Wait()
}

// scanOne is one worker invocation: fetch bars, classify, write back
// under the mutex, persist a snapshot. Per spec §4.4 step 2-3 and §5's
// locking discipline, the mutex is held only for the in-memory
// writeback, never during provider I/O.
func (s *Scanner) scanOne(ctx context.Context, key, symbol, timeframe string) {
	start := time.Now()
	defer func() {
		metrics.ScanDuration.WithLabelValues(symbol, timeframe).Observe(time.Since(start).Seconds())
	}()

	bars, err := s.manager.FetchOHLC(ctx, symbol, timeframe, s.cfg.BarsCount, "", true)
	if err != nil {
		log.Warnf("scanner: fetch_ohlc(%s,%s) failed: %v", symbol, timeframe, err)
		return
	}
	if len(bars) == 0 {
		return
	}

	s.mu.Lock()
	st, ok := s.streams[key]
	s.mu.Unlock()
	if !ok {
		return
	}

	st.classifier.LoadOHLC(bars)
	r := st.classifier.Classify(nil)
	met := st.classifier.GetMetrics()
	st.history.Add(time.Now(), r)

	s.mu.Lock()
	s.lastRegime[key] = r
	s.lastScanTime[key] = time.Now()
	s.lastDataframe[key] = bars
	s.mu.Unlock()

	metrics.ScansTotal.WithLabelValues(symbol, timeframe, r.String()).Inc()

	snap := types.ScanSnapshot{Symbol: symbol, Timeframe: timeframe, Regime: r, Metrics: met, Bars: bars, LastScan: time.Now()}
	if err := s.persist.LogMarketState(snap); err != nil {
		log.Warnf("scanner: persist snapshot(%s,%s) failed: %v", symbol, timeframe, err)
	}
}

// Snapshots returns a consistent copy of every current (symbol,
// timeframe) snapshot, taken under one critical section (spec §4.4
// Ordering guarantees).
func (s *Scanner) Snapshots() []types.ScanSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.ScanSnapshot, 0, len(s.streams))
	for key, st := range s.streams {
		symbol, timeframe := splitKey(key)
		out = append(out, types.ScanSnapshot{
			Symbol:    symbol,
			Timeframe: timeframe,
			Regime:    s.lastRegime[key],
			Metrics:   st.classifier.GetMetrics(),
			Bars:      s.lastDataframe[key],
			LastScan:  s.lastScanTime[key],
		})
	}
	return out
}

// IndicatorSnapshot returns the debug-oriented raw indicator bundle for
// one stream, supplementing the persisted market-state metrics with the
// inputs they were computed from (SPEC_FULL.md "Composite technical-
// analysis snapshot").
func (s *Scanner) IndicatorSnapshot(symbol, timeframe string) indicator.Snapshot {
	key := types.ScanSnapshot{Symbol: symbol, Timeframe: timeframe}.Key()
	s.mu.Lock()
	bars := s.lastDataframe[key]
	s.mu.Unlock()
	return indicator.BuildSnapshot(symbol, timeframe, bars, s.classCfg.ADXPeriod, s.classCfg.ADXPeriod, s.classCfg.SMAPeriod)
}

// adaptiveSleep implements spec §4.4 step 4's CPU-adaptive sleep.
func (s *Scanner) adaptiveSleep() time.Duration {
	base := s.cfg.BaseSleepSeconds * s.mode.multiplier()
	cpuPct := 0.0
	if s.cpu != nil {
		cpuPct = s.cpu()
	}
	metrics.ScannerCPUPercent.Set(cpuPct)

	if cpuPct <= s.cfg.CPULimitPercent {
		return time.Duration(base * float64(time.Second))
	}

	factor := 1 + minFloat((cpuPct-s.cfg.CPULimitPercent)/20, s.cfg.MaxSleepMultiplier-1)
	return time.Duration(base * factor * float64(time.Second))
}

// sleepQuantized sleeps total in 0.2s quanta so Stop/ctx cancellation is
// observed within one quantum (spec §4.4 step 4, §5 Cancellation).
// Returns true if the sleep was interrupted by shutdown.
func (s *Scanner) sleepQuantized(ctx context.Context, total time.Duration) bool {
	const quantum = 200 * time.Millisecond
	elapsed := time.Duration(0)
	for elapsed < total {
		select {
		case <-ctx.Done():
			return true
		case <-s.stopCh:
			return true
		case <-time.After(quantum):
			elapsed += quantum
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func splitKey(key string) (symbol, timeframe string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
