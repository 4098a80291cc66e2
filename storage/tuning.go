package storage

import (
	"encoding/json"
	"fmt"

	"tradeengine/types"
)

type tuningAdjustmentPayload struct {
	OldParams map[string]float64 `json:"old_params"`
	NewParams map[string]float64 `json:"new_params"`
}

// SaveTuningAdjustment persists one EDGE Tuner decision (spec §4.7
// "Persist the adjustment (old params, new params, stats, trigger,
// timestamp)").
func (s *Store) SaveTuningAdjustment(adj types.TuningAdjustment) error {
	payload, err := json.Marshal(tuningAdjustmentPayload{OldParams: adj.OldParams, NewParams: adj.NewParams})
	if err != nil {
		return fmt.Errorf("storage: save_tuning_adjustment marshal: %w", err)
	}
	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO tuning_history (trigger, skipped, skipped_reason, win_rate, adjustments)
			VALUES (?, ?, ?, ?, ?)
		`, adj.Trigger, adj.Skipped, adj.SkipReason, adj.WinRate, string(payload))
		if err != nil {
			return fmt.Errorf("storage: save_tuning_adjustment: %w", err)
		}
		return nil
	})
}

// GetTuningHistory returns up to limit tuning decisions, newest first.
func (s *Store) GetTuningHistory(limit int) ([]types.TuningAdjustment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT trigger, skipped, skipped_reason, win_rate, adjustments, created_at
		FROM tuning_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get_tuning_history: %w", err)
	}
	defer rows.Close()

	var out []types.TuningAdjustment
	for rows.Next() {
		var adj types.TuningAdjustment
		var payload, createdAt string
		if err := rows.Scan(&adj.Trigger, &adj.Skipped, &adj.SkipReason, &adj.WinRate, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: get_tuning_history scan: %w", err)
		}
		var p tuningAdjustmentPayload
		_ = json.Unmarshal([]byte(payload), &p)
		adj.OldParams, adj.NewParams = p.OldParams, p.NewParams
		adj.Timestamp = parseSQLiteTime(createdAt)
		out = append(out, adj)
	}
	return out, rows.Err()
}

// EdgeLearningRecord is one strategy-level learning note persisted
// alongside the tuner's global adjustment history, keyed per strategy_id
// so per-strategy edge analysis (distinct from the global threshold
// tuning in tuning_history) has a durable home.
type EdgeLearningRecord struct {
	StrategyID string
	Payload    map[string]any
}

// SaveEdgeLearning persists one per-strategy edge-learning record
// (spec §4.8 save_edge_learning).
func (s *Store) SaveEdgeLearning(rec EdgeLearningRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("storage: save_edge_learning marshal: %w", err)
	}
	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`INSERT INTO edge_learning (strategy_id, payload) VALUES (?, ?)`, rec.StrategyID, string(payload))
		if err != nil {
			return fmt.Errorf("storage: save_edge_learning: %w", err)
		}
		return nil
	})
}

// GetEdgeLearningHistory returns up to limit records for one strategy,
// newest first (spec §4.8 get_edge_learning_history).
func (s *Store) GetEdgeLearningHistory(strategyID string, limit int) ([]EdgeLearningRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT strategy_id, payload FROM edge_learning WHERE strategy_id = ? ORDER BY id DESC LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get_edge_learning_history: %w", err)
	}
	defer rows.Close()

	var out []EdgeLearningRecord
	for rows.Next() {
		var rec EdgeLearningRecord
		var payload string
		if err := rows.Scan(&rec.StrategyID, &payload); err != nil {
			return nil, fmt.Errorf("storage: get_edge_learning_history scan: %w", err)
		}
		_ = json.Unmarshal([]byte(payload), &rec.Payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}
