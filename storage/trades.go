package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"tradeengine/types"
)

// TradeExists is the idempotence check the Trade Closure Listener makes
// before persisting any event (spec §4.6 step 2, §8 "at most one row
// exists in trade_results for a given ticket").
func (s *Store) TradeExists(ticket string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trade_results WHERE ticket = ?`, ticket).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: trade_exists: %w", err)
	}
	return n > 0, nil
}

// SaveTradeResult persists a closed trade keyed by ticket. The INSERT OR
// IGNORE leaves the first row untouched when the same ticket is saved
// again, so a ticket never has more than one row (spec §8 idempotence);
// that second call returns an error naming the ticket.
func (s *Store) SaveTradeResult(t types.TradeResult) error {
	payload, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("storage: save_trade_result marshal: %w", err)
	}

	return s.execWithRetry(func() error {
		res, err := s.db.Exec(`
			INSERT OR IGNORE INTO trade_results
				(ticket, signal_id, symbol, outcome, exit_reason, pnl, opened_at, closed_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.Ticket, t.SignalID, t.Symbol, string(t.Result), string(t.ExitReason), t.ProfitLoss,
			t.EntryTime.UTC().Format(sqliteTimeLayout), t.ExitTime.UTC().Format(sqliteTimeLayout), string(payload))
		if err != nil {
			return fmt.Errorf("storage: save_trade_result: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("storage: save_trade_result ticket %s already exists", t.Ticket)
		}
		return nil
	})
}

func scanTradeRow(row interface{ Scan(dest ...any) error }) (types.TradeResult, error) {
	var t types.TradeResult
	var outcome, exitReason, openedAt, closedAt, payload string
	err := row.Scan(&t.Ticket, &t.SignalID, &t.Symbol, &outcome, &exitReason, &t.ProfitLoss,
		&openedAt, &closedAt, &payload)
	if err != nil {
		return types.TradeResult{}, err
	}
	t.Result = types.TradeOutcome(outcome)
	t.ExitReason = types.ExitReason(exitReason)
	t.EntryTime = parseSQLiteTime(openedAt)
	t.ExitTime = parseSQLiteTime(closedAt)
	_ = json.Unmarshal([]byte(payload), &t.Metadata)
	return t, nil
}

// GetTradeResults returns up to limit trades, newest-closed-first, for
// EDGE Tuner input (spec §4.7) and API consumers.
func (s *Store) GetTradeResults(limit int) ([]types.TradeResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT ticket, signal_id, symbol, outcome, exit_reason, pnl, opened_at, closed_at, payload
		FROM trade_results ORDER BY closed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get_trade_results: %w", err)
	}
	defer rows.Close()

	var out []types.TradeResult
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get_trade_results scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTradeResultBySignalID looks up the closed trade for a given signal,
// if one has been recorded.
func (s *Store) GetTradeResultBySignalID(signalID string) (types.TradeResult, error) {
	row := s.db.QueryRow(`
		SELECT ticket, signal_id, symbol, outcome, exit_reason, pnl, opened_at, closed_at, payload
		FROM trade_results WHERE signal_id = ? ORDER BY closed_at DESC LIMIT 1
	`, signalID)
	t, err := scanTradeRow(row)
	if err == sql.ErrNoRows {
		return types.TradeResult{}, fmt.Errorf("storage: get_trade_result_by_signal_id %s: %w", signalID, sql.ErrNoRows)
	}
	if err != nil {
		return types.TradeResult{}, fmt.Errorf("storage: get_trade_result_by_signal_id: %w", err)
	}
	return t, nil
}
