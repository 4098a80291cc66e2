package storage

import (
	"encoding/json"
	"fmt"

	"tradeengine/types"
)

// LogMarketState persists one scan-tick snapshot (spec §6 Market-state
// snapshot record), a rolling insert with newest-first read.
func (s *Store) LogMarketState(snap types.ScanSnapshot) error {
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("storage: log_market_state marshal: %w", err)
	}
	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO market_state_log (symbol, timeframe, regime, metrics)
			VALUES (?, ?, ?, ?)
		`, snap.Symbol, snap.Timeframe, snap.Regime.String(), string(metrics))
		if err != nil {
			return fmt.Errorf("storage: log_market_state: %w", err)
		}
		return nil
	})
}

func scanMarketStateRow(row interface{ Scan(dest ...any) error }) (types.ScanSnapshot, error) {
	var snap types.ScanSnapshot
	var regime, metrics, createdAt string
	if err := row.Scan(&snap.Symbol, &snap.Timeframe, &regime, &metrics, &createdAt); err != nil {
		return types.ScanSnapshot{}, err
	}
	snap.Regime = regimeFromString(regime)
	snap.LastScan = parseSQLiteTime(createdAt)
	_ = json.Unmarshal([]byte(metrics), &snap.Metrics)
	return snap, nil
}

// GetLatestHeatmapState returns the most recent snapshot per
// (symbol, timeframe) key, for the heatmap/API consumer.
func (s *Store) GetLatestHeatmapState() ([]types.ScanSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT symbol, timeframe, regime, metrics, created_at FROM market_state_log m
		WHERE id = (
			SELECT id FROM market_state_log m2
			WHERE m2.symbol = m.symbol AND m2.timeframe = m.timeframe
			ORDER BY id DESC LIMIT 1
		)
		ORDER BY symbol, timeframe
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: get_latest_heatmap_state: %w", err)
	}
	defer rows.Close()

	var out []types.ScanSnapshot
	for rows.Next() {
		snap, err := scanMarketStateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get_latest_heatmap_state scan: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// GetMarketStateHistory returns up to limit historical snapshots for one
// (symbol, timeframe) key, newest first.
func (s *Store) GetMarketStateHistory(symbol, timeframe string, limit int) ([]types.ScanSnapshot, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT symbol, timeframe, regime, metrics, created_at FROM market_state_log
		WHERE symbol = ? AND timeframe = ? ORDER BY id DESC LIMIT ?
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get_market_state_history: %w", err)
	}
	defer rows.Close()

	var out []types.ScanSnapshot
	for rows.Next() {
		snap, err := scanMarketStateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get_market_state_history scan: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
