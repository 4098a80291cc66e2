// Package storage implements the SSOT contract (spec §4.8): a single
// SQLite-backed database that owns system state, signals, trade
// results, market-state snapshots, tuning history, module toggles,
// data-provider credentials, and backups. It follows the table/index/
// trigger conventions of the teacher's store package, generalized from
// one strategies table to the full set of SSOT tables.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tradeengine/internal/obs/log"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// Store is the single database handle shared by every SSOT accessor.
// The pool is capped at one connection (see Open), so reads and writes
// alike serialize behind it (spec §4.8 concurrency discipline).
type Store struct {
	db           *sql.DB
	path         string
	encryptionKey [32]byte
	hasKey       bool
}

// Open creates (or attaches to) the SQLite file at path, applies the
// schema, and returns a ready Store. Passing an empty encryptionKeyHex
// disables at-rest encryption of provider credentials; callers in
// production should always supply one (internal/config surfaces it as
// CredentialEncryptionKeyHex).
func Open(path string, encryptionKeyHex string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// SQLite has a single writer; a wide pool only produces SQLITE_BUSY
	// under load. One connection serializes writers, matching spec
	// §4.8's "Storage must serialize writes".
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if encryptionKeyHex != "" {
		key, err := decodeKey(encryptionKeyHex)
		if err != nil {
			return nil, fmt.Errorf("storage: credential encryption key: %w", err)
		}
		s.encryptionKey = key
		s.hasKey = true
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS system_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TRIGGER IF NOT EXISTS update_system_state_updated_at
			AFTER UPDATE ON system_state
			BEGIN
				UPDATE system_state SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
			END`,

		`CREATE TABLE IF NOT EXISTS module_toggles (
			account TEXT NOT NULL DEFAULT '',
			module TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (account, module)
		)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL DEFAULT '',
			signal_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			strategy_id TEXT NOT NULL DEFAULT '',
			regime TEXT NOT NULL DEFAULT '',
			confidence REAL DEFAULT 0,
			entry_price REAL DEFAULT 0,
			stop_loss REAL DEFAULT 0,
			take_profit REAL DEFAULT 0,
			trace_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,
		`CREATE TRIGGER IF NOT EXISTS update_signals_updated_at
			AFTER UPDATE ON signals
			BEGIN
				UPDATE signals SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
			END`,

		`CREATE TABLE IF NOT EXISTS trade_results (
			ticket TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			exit_reason TEXT NOT NULL DEFAULT '',
			pnl REAL DEFAULT 0,
			opened_at DATETIME,
			closed_at DATETIME,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_results_signal_id ON trade_results(signal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_results_closed_at ON trade_results(closed_at)`,

		`CREATE TABLE IF NOT EXISTS market_state_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL DEFAULT '',
			regime TEXT NOT NULL DEFAULT '',
			metrics TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_state_log_symbol ON market_state_log(symbol, timeframe)`,
		`CREATE INDEX IF NOT EXISTS idx_market_state_log_created_at ON market_state_log(created_at)`,

		`CREATE TABLE IF NOT EXISTS tuning_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trigger TEXT NOT NULL DEFAULT '',
			skipped BOOLEAN NOT NULL DEFAULT 0,
			skipped_reason TEXT NOT NULL DEFAULT '',
			win_rate REAL DEFAULT 0,
			adjustments TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS edge_learning (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS data_providers (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			priority INTEGER NOT NULL DEFAULT 0,
			is_system BOOLEAN NOT NULL DEFAULT 0,
			requires_auth BOOLEAN NOT NULL DEFAULT 0,
			credentials_enc BLOB,
			credentials_nonce BLOB,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TRIGGER IF NOT EXISTS update_data_providers_updated_at
			AFTER UPDATE ON data_providers
			BEGIN
				UPDATE data_providers SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
			END`,

		`CREATE TABLE IF NOT EXISTS symbol_map (
			provider_id TEXT NOT NULL,
			internal_symbol TEXT NOT NULL,
			provider_symbol TEXT NOT NULL,
			PRIMARY KEY (provider_id, internal_symbol)
		)`,

		`CREATE TABLE IF NOT EXISTS strategy_execution_mode (
			strategy_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL DEFAULT 'LIVE',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: schema init: %w", err)
		}
	}
	return nil
}

// execWithRetry runs fn (an Exec/transaction) and retries up to twice
// (three attempts in all) on the "database is locked"/busy condition
// SQLite raises under contention,
// matching spec §4.8's "short retry-on-lock at the storage layer".
func (s *Store) execWithRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isLockedErr(err) {
			return err
		}
		log.Warnf("storage: retrying after lock contention (attempt %d): %v", attempt+1, err)
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

func parseSQLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
