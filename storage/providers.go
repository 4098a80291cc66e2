package storage

import (
	"encoding/json"
	"fmt"
)

// DataProviderRecord is the persisted shape of one Data Provider
// registration (spec §4.3 provider enumeration: id, enabled, priority,
// auth requirement, is_system flag, credentials, extra config).
// Credentials are sealed at rest via storage's nacl/secretbox helpers
// before the row is written.
type DataProviderRecord struct {
	ID           string
	Kind         string
	Enabled      bool
	Priority     int
	IsSystem     bool
	RequiresAuth bool
	Credentials  map[string]string // e.g. {"api_key": "...", "api_secret": "..."}
}

// GetDataProviders returns every registered provider with credentials
// decrypted, for the composition root to build concrete provider.Source
// instances from (spec §4.8 get_data_providers).
func (s *Store) GetDataProviders() ([]DataProviderRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, enabled, priority, is_system, requires_auth, credentials_enc, credentials_nonce
		FROM data_providers ORDER BY priority DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: get_data_providers: %w", err)
	}
	defer rows.Close()

	var out []DataProviderRecord
	for rows.Next() {
		var rec DataProviderRecord
		var sealed, nonce []byte
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Enabled, &rec.Priority, &rec.IsSystem, &rec.RequiresAuth, &sealed, &nonce); err != nil {
			return nil, fmt.Errorf("storage: get_data_providers scan: %w", err)
		}
		if len(sealed) > 0 {
			plain, err := s.decryptCredentials(sealed, nonce)
			if err != nil {
				return nil, fmt.Errorf("storage: get_data_providers decrypt %s: %w", rec.ID, err)
			}
			_ = json.Unmarshal(plain, &rec.Credentials)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveDataProvider upserts one provider registration, sealing its
// credentials before the row is written (spec §4.8 save_data_provider).
func (s *Store) SaveDataProvider(rec DataProviderRecord) error {
	var plaintext []byte
	if len(rec.Credentials) > 0 {
		var err error
		plaintext, err = json.Marshal(rec.Credentials)
		if err != nil {
			return fmt.Errorf("storage: save_data_provider marshal credentials: %w", err)
		}
	}
	sealed, nonce, err := s.encryptCredentials(plaintext)
	if err != nil {
		return fmt.Errorf("storage: save_data_provider seal: %w", err)
	}

	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO data_providers (id, kind, enabled, priority, is_system, requires_auth, credentials_enc, credentials_nonce)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind, enabled = excluded.enabled, priority = excluded.priority,
				is_system = excluded.is_system, requires_auth = excluded.requires_auth,
				credentials_enc = excluded.credentials_enc, credentials_nonce = excluded.credentials_nonce
		`, rec.ID, rec.Kind, rec.Enabled, rec.Priority, rec.IsSystem, rec.RequiresAuth, sealed, nonce)
		if err != nil {
			return fmt.Errorf("storage: save_data_provider: %w", err)
		}
		return nil
	})
}

// SymbolMapEntry is one persisted internal->provider symbol translation
// row (spec §4.3 "each internal symbol has a per-provider representation
// persisted in Storage").
type SymbolMapEntry struct {
	ProviderID     string
	InternalSymbol string
	ProviderSymbol string
}

// GetSymbolMap returns every persisted symbol mapping for providerID, or
// for all providers when providerID is empty.
func (s *Store) GetSymbolMap(providerID string) ([]SymbolMapEntry, error) {
	query := `SELECT provider_id, internal_symbol, provider_symbol FROM symbol_map`
	args := []any{}
	if providerID != "" {
		query += " WHERE provider_id = ?"
		args = append(args, providerID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: get_symbol_map: %w", err)
	}
	defer rows.Close()

	var out []SymbolMapEntry
	for rows.Next() {
		var e SymbolMapEntry
		if err := rows.Scan(&e.ProviderID, &e.InternalSymbol, &e.ProviderSymbol); err != nil {
			return nil, fmt.Errorf("storage: get_symbol_map scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSymbolMapping upserts one internal->provider symbol translation.
func (s *Store) SaveSymbolMapping(e SymbolMapEntry) error {
	return s.execWithRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO symbol_map (provider_id, internal_symbol, provider_symbol) VALUES (?, ?, ?)
			ON CONFLICT(provider_id, internal_symbol) DO UPDATE SET provider_symbol = excluded.provider_symbol
		`, e.ProviderID, e.InternalSymbol, e.ProviderSymbol)
		if err != nil {
			return fmt.Errorf("storage: save_symbol_mapping: %w", err)
		}
		return nil
	})
}
