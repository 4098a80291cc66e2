package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetSystemState returns the full opaque key->JSON map (spec §3 System
// State, §4.8 get_system_state). Each stored value is unmarshaled from
// its JSON column into an any so callers can type-assert per key.
func (s *Store) GetSystemState() (map[string]any, error) {
	rows, err := s.db.Query(`SELECT key, value FROM system_state`)
	if err != nil {
		return nil, fmt.Errorf("storage: get_system_state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("storage: get_system_state scan: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value // tolerate a raw non-JSON legacy value rather than fail the whole read
		}
		out[key] = v
	}
	return out, rows.Err()
}

// UpdateSystemState writes each key in partial with last-write-wins
// semantics (spec §4.8, §8 round-trip law). Writes are wrapped in a
// transaction so the whole partial update is durable before return.
func (s *Store) UpdateSystemState(partial map[string]any) error {
	return s.execWithRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("storage: update_system_state begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO system_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`)
		if err != nil {
			return fmt.Errorf("storage: update_system_state prepare: %w", err)
		}
		defer stmt.Close()

		for k, v := range partial {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("storage: update_system_state marshal %s: %w", k, err)
			}
			if _, err := stmt.Exec(k, string(raw)); err != nil {
				return fmt.Errorf("storage: update_system_state exec %s: %w", k, err)
			}
		}
		return tx.Commit()
	})
}

// getSystemStateKey reads and unmarshals a single key, returning
// (false, nil) when absent rather than an error — most system_state
// keys are optional until first written.
func (s *Store) getSystemStateKey(key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM system_state WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("storage: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setSystemStateKey(key string, value any) error {
	return s.UpdateSystemState(map[string]any{key: value})
}

// GetGlobalModulesEnabled returns the global module->enabled map.
func (s *Store) GetGlobalModulesEnabled() (map[string]bool, error) {
	var m map[string]bool
	ok, err := s.getSystemStateKey("modules_enabled", &m)
	if err != nil {
		return nil, err
	}
	if !ok || m == nil {
		m = map[string]bool{}
	}
	return m, nil
}

// SetGlobalModuleEnabled flips one module's global toggle.
func (s *Store) SetGlobalModuleEnabled(name string, enabled bool) error {
	m, err := s.GetGlobalModulesEnabled()
	if err != nil {
		return err
	}
	m[name] = enabled
	return s.setSystemStateKey("modules_enabled", m)
}

// SetAccountModuleOverride records a per-account override in the
// module_toggles table (spec §3 Module Toggle Resolution's two-level
// model: global map + per-account override map).
func (s *Store) SetAccountModuleOverride(account, module string, enabled bool) error {
	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO module_toggles (account, module, enabled) VALUES (?, ?, ?)
			ON CONFLICT(account, module) DO UPDATE SET enabled = excluded.enabled
		`, account, module, enabled)
		if err != nil {
			return fmt.Errorf("storage: set_account_module_override: %w", err)
		}
		return nil
	})
}

// ResolveModuleEnabled implements spec §3's Module Toggle Resolution:
// if global=false -> false; else if an override exists -> override;
// else -> global. The risk_manager module is never user-disableable.
func (s *Store) ResolveModuleEnabled(account, module string) (bool, error) {
	if module == "risk_manager" {
		return true, nil
	}

	global, err := s.GetGlobalModulesEnabled()
	if err != nil {
		return false, err
	}
	globalVal, known := global[module]
	if known && !globalVal {
		return false, nil
	}

	var override sql.NullBool
	err = s.db.QueryRow(`SELECT enabled FROM module_toggles WHERE account = ? AND module = ?`, account, module).Scan(&override)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("storage: resolve_module_enabled: %w", err)
	}
	if override.Valid {
		return override.Bool, nil
	}

	if !known {
		return true, nil // no record at all defaults open, matching spec's "legacy allow" posture
	}
	return globalVal, nil
}

// GetDynamicParams returns the strategy-tunable parameter set the EDGE
// Tuner adjusts (spec §4.7, persisted under system_state key
// "dynamic_params").
func (s *Store) GetDynamicParams() (map[string]float64, error) {
	var m map[string]float64
	ok, err := s.getSystemStateKey("dynamic_params", &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		m = map[string]float64{}
	}
	return m, nil
}

// UpdateDynamicParams persists a new parameter set, replacing the
// previous one wholesale.
func (s *Store) UpdateDynamicParams(params map[string]float64) error {
	return s.setSystemStateKey("dynamic_params", params)
}

// RiskSettings mirrors the risk-control knobs the teacher's
// RiskControlConfig carries, trimmed to what the Risk Manager (§4.5
// step 8) actually consumes.
type RiskSettings struct {
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxPositions         int     `json:"max_positions"`
	MinRiskRewardRatio   float64 `json:"min_risk_reward_ratio"`
	MinConfidence        float64 `json:"min_confidence"`
	DailyLossLimitPct    float64 `json:"daily_loss_limit_pct"`
	BasePositionSizePct  float64 `json:"base_position_size_pct"`
}

func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		MaxConsecutiveLosses: 5,
		MaxPositions:         5,
		MinRiskRewardRatio:   1.5,
		MinConfidence:        0.5,
		DailyLossLimitPct:    5.0,
		BasePositionSizePct:  1.0,
	}
}

func (s *Store) GetRiskSettings() (RiskSettings, error) {
	settings := DefaultRiskSettings()
	_, err := s.getSystemStateKey("risk_settings", &settings)
	if err != nil {
		return RiskSettings{}, err
	}
	return settings, nil
}

func (s *Store) UpdateRiskSettings(settings RiskSettings) error {
	return s.setSystemStateKey("risk_settings", settings)
}

// CountExecutedSignals returns the count of EXECUTED signals created on
// the given date (YYYY-MM-DD), used by session reconstruction (spec §3
// Session Stats: "executed_count always read from persisted EXECUTED
// signals").
func (s *Store) CountExecutedSignals(date string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM signals
		WHERE status = 'EXECUTED' AND substr(created_at, 1, 10) = ?
	`, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count_executed_signals: %w", err)
	}
	return n, nil
}

// GetExecutionMode looks up the per-strategy shadow-ranking gate (spec
// §4.5 "Strategy execution gate (Shadow Ranking)"). A missing entry
// returns ("", false) so the caller applies the "missing entry -> allow
// (legacy)" rule itself.
func (s *Store) GetExecutionMode(strategyID string) (mode string, found bool, err error) {
	err = s.db.QueryRow(`SELECT mode FROM strategy_execution_mode WHERE strategy_id = ?`, strategyID).Scan(&mode)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get_execution_mode: %w", err)
	}
	return mode, true, nil
}

// SetExecutionMode records an operator override of one strategy's
// shadow-ranking gate.
func (s *Store) SetExecutionMode(strategyID, mode string) error {
	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO strategy_execution_mode (strategy_id, mode) VALUES (?, ?)
			ON CONFLICT(strategy_id) DO UPDATE SET mode = excluded.mode, updated_at = CURRENT_TIMESTAMP
		`, strategyID, mode)
		if err != nil {
			return fmt.Errorf("storage: set_execution_mode: %w", err)
		}
		return nil
	})
}
