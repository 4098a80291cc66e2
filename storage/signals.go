package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradeengine/types"
)

// signalPayload is the JSON sidecar carrying fields that don't earn
// their own indexed column (metadata, entry metadata) while the
// frequently-filtered columns (symbol, status, strategy_id, ...) stay
// first-class, matching store/strategy.go's column+JSON-blob split.
type signalPayload struct {
	TraceID             string            `json:"trace_id"`
	Metadata            map[string]string `json:"metadata"`
	ConnectorType       string            `json:"connector_type"`
	LastRejectionReason string            `json:"last_rejection_reason"`
}

// SaveSignal persists a newly created signal (spec §4.8 save_signal).
func (s *Store) SaveSignal(sig types.Signal) error {
	payload, err := json.Marshal(signalPayload{
		TraceID:             sig.TraceID,
		Metadata:            sig.Metadata,
		ConnectorType:       sig.ConnectorType,
		LastRejectionReason: sig.LastRejectionReason,
	})
	if err != nil {
		return fmt.Errorf("storage: save_signal marshal: %w", err)
	}

	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO signals (id, symbol, timeframe, signal_type, status, strategy_id,
				regime, confidence, entry_price, stop_loss, take_profit, trace_id, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status, payload = excluded.payload
		`, sig.ID, sig.Symbol, sig.Timeframe, string(sig.Type), string(sig.Status), sig.StrategyID,
			sig.Regime.String(), sig.Confidence, sig.EntryPrice, sig.StopLoss, sig.TakeProfit,
			sig.TraceID, string(payload))
		if err != nil {
			return fmt.Errorf("storage: save_signal: %w", err)
		}
		return nil
	})
}

// UpdateSignalStatus transitions a persisted signal's status in place
// and, when rejectionReason is non-empty, records it in the payload.
func (s *Store) UpdateSignalStatus(id string, status types.SignalStatus, rejectionReason string) error {
	return s.execWithRetry(func() error {
		if rejectionReason == "" {
			_, err := s.db.Exec(`UPDATE signals SET status = ? WHERE id = ?`, string(status), id)
			if err != nil {
				return fmt.Errorf("storage: update_signal_status: %w", err)
			}
			return nil
		}

		var raw string
		if err := s.db.QueryRow(`SELECT payload FROM signals WHERE id = ?`, id).Scan(&raw); err != nil {
			return fmt.Errorf("storage: update_signal_status read payload: %w", err)
		}
		var p signalPayload
		_ = json.Unmarshal([]byte(raw), &p)
		p.LastRejectionReason = rejectionReason
		updated, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("storage: update_signal_status marshal: %w", err)
		}
		_, err = s.db.Exec(`UPDATE signals SET status = ?, payload = ? WHERE id = ?`, string(status), string(updated), id)
		if err != nil {
			return fmt.Errorf("storage: update_signal_status: %w", err)
		}
		return nil
	})
}

func scanSignalRow(row interface {
	Scan(dest ...any) error
}) (types.Signal, error) {
	var sig types.Signal
	var signalType, status, regime, payload, createdAt string
	err := row.Scan(&sig.ID, &sig.Symbol, &sig.Timeframe, &signalType, &status, &sig.StrategyID,
		&regime, &sig.Confidence, &sig.EntryPrice, &sig.StopLoss, &sig.TakeProfit, &sig.TraceID,
		&payload, &createdAt)
	if err != nil {
		return types.Signal{}, err
	}
	sig.Type = types.SignalType(signalType)
	sig.Status = types.SignalStatus(status)
	sig.Regime = regimeFromString(regime)
	sig.Timestamp = parseSQLiteTime(createdAt)

	var p signalPayload
	_ = json.Unmarshal([]byte(payload), &p)
	sig.Metadata = p.Metadata
	sig.ConnectorType = p.ConnectorType
	sig.LastRejectionReason = p.LastRejectionReason
	return sig, nil
}

// GetSignalByID fetches one signal (spec §4.8 get_signal_by_id).
func (s *Store) GetSignalByID(id string) (types.Signal, error) {
	row := s.db.QueryRow(`
		SELECT id, symbol, timeframe, signal_type, status, strategy_id, regime, confidence,
			entry_price, stop_loss, take_profit, trace_id, payload, created_at
		FROM signals WHERE id = ?
	`, id)
	sig, err := scanSignalRow(row)
	if err == sql.ErrNoRows {
		return types.Signal{}, fmt.Errorf("storage: get_signal_by_id %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return types.Signal{}, fmt.Errorf("storage: get_signal_by_id: %w", err)
	}
	return sig, nil
}

// SignalFilter narrows GetRecentSignals (spec §4.8 get_recent_signals).
// Zero-value fields are unfiltered.
type SignalFilter struct {
	Symbol    string
	Status    types.SignalStatus
	Timeframe string
	Since     time.Time
	Limit     int
}

// GetRecentSignals returns signals newest-first matching filter.
func (s *Store) GetRecentSignals(filter SignalFilter) ([]types.Signal, error) {
	var where []string
	var args []any

	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Timeframe != "" {
		where = append(where, "timeframe = ?")
		args = append(args, filter.Timeframe)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(sqliteTimeLayout))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, symbol, timeframe, signal_type, status, strategy_id, regime, confidence,
			entry_price, stop_loss, take_profit, trace_id, payload, created_at
		FROM signals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: get_recent_signals: %w", err)
	}
	defer rows.Close()

	var out []types.Signal
	for rows.Next() {
		sig, err := scanSignalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get_recent_signals scan: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ExpireOldPendingSignals transitions PENDING signals older than maxAge
// to EXPIRED (spec §4.5 step 3 "expire old PENDING signals whose age
// exceeds a per-timeframe window") and returns how many were touched.
func (s *Store) ExpireOldPendingSignals(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(sqliteTimeLayout)
	var n int64
	err := s.execWithRetry(func() error {
		res, err := s.db.Exec(`
			UPDATE signals SET status = ?
			WHERE status = ? AND created_at < ?
		`, string(types.SignalExpired), string(types.SignalPending), cutoff)
		if err != nil {
			return fmt.Errorf("storage: expire_old_pending_signals: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func regimeFromString(s string) types.Regime {
	switch s {
	case "TREND":
		return types.RegimeTrend
	case "RANGE":
		return types.RegimeRange
	case "NORMAL":
		return types.RegimeNormal
	case "CRASH":
		return types.RegimeCrash
	default:
		return types.RegimeNone
	}
}
