// Backup/integrity lifecycle (spec §4.8, §6 Backup configuration). No
// direct teacher analog exists for backups; this follows the general
// SQLite file-copy + PRAGMA integrity_check idiom, using the same
// table/trigger DDL conventions as the rest of the store.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CreateDBBackup copies the live database file into backupDir with a
// timestamped name and returns the backup's path. SQLite's WAL mode
// means a plain file copy can race an in-flight writer; a checkpoint is
// forced first so the copy captures a consistent snapshot.
func (s *Store) CreateDBBackup(backupDir string) (string, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create_db_backup mkdir: %w", err)
	}

	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return "", fmt.Errorf("storage: create_db_backup checkpoint: %w", err)
	}

	name := fmt.Sprintf("engine-%s.db", time.Now().UTC().Format("20060102T150405Z"))
	dest := filepath.Join(backupDir, name)

	if err := copyFile(s.path, dest); err != nil {
		return "", fmt.Errorf("storage: create_db_backup copy: %w", err)
	}
	return dest, nil
}

// ListDBBackups returns backup file paths in backupDir, newest first.
func (s *Store) ListDBBackups(backupDir string) ([]string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list_db_backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "engine-") && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(backupDir, n)
	}
	return out, nil
}

// RestoreDBBackup replaces the live database file with backupPath's
// contents. The caller must Close the Store, restore, then Open a fresh
// Store — a live SQLite connection cannot have its backing file swapped
// out from under it safely.
func RestoreDBBackup(backupPath, dbPath string) error {
	if err := copyFile(backupPath, dbPath); err != nil {
		return fmt.Errorf("storage: restore_db_backup: %w", err)
	}
	return nil
}

// CheckIntegrity runs SQLite's built-in integrity check (spec §7
// Unrecoverable: "storage corrupt, integrity check failed -> halt write
// path, surface to health check").
func (s *Store) CheckIntegrity() error {
	var result string
	if err := s.db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("storage: check_integrity query: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("storage: check_integrity failed: %s", result)
	}
	return nil
}

// PruneOldBackups removes backups in backupDir older than retentionDays.
func (s *Store) PruneOldBackups(backupDir string, retentionDays int) (int, error) {
	backups, err := s.ListDBBackups(backupDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	pruned := 0
	for _, path := range backups {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return pruned, fmt.Errorf("storage: prune_old_backups remove %s: %w", path, err)
			}
			pruned++
		}
	}
	return pruned, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".tmp-backup-*")
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(out.Name())
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return err
	}
	return os.Rename(out.Name(), dst)
}
