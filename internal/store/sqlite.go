// Package store keeps larder's key/value settings in a SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/larder/internal/credential"
)

// Settings is the persistence used by `larder config` and by the
// assistant's conversation history.
type Settings interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
	DeleteConfig(key string) error
	ListConfig() ([]string, error)

	GetHistory(user string) ([]byte, error)
	PutHistory(user string, data []byte) error
	DeleteHistory(user string) (bool, error)

	Close() error
}

// SQLiteStore implements Settings. Values under keys ending in api_key are
// encrypted at rest.
type SQLiteStore struct {
	db    *sql.DB
	creds *credential.Manager
}

// NewSQLiteStore opens (creating if needed) the database at dbPath. When
// creds is nil secret values are stored as given.
func NewSQLiteStore(dbPath string, creds *credential.Manager) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, creds: creds}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS configuration (
		key TEXT PRIMARY KEY,
		value TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS conversations (
		user TEXT PRIMARY KEY,
		messages BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
}

func (s *SQLiteStore) initSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SetConfig(key, value string) error {
	if s.creds != nil && credential.IsSecretKey(key) && !credential.IsEncrypted(value) {
		enc, err := s.creds.Encrypt(value)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", key, err)
		}
		value = enc
	}

	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// GetConfig returns the value for key, or "" when it is not set.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM configuration WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if s.creds != nil && credential.IsEncrypted(value) {
		plain, err := s.creds.Decrypt(value)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt %s: %w", key, err)
		}
		return plain, nil
	}
	return value, nil
}

func (s *SQLiteStore) DeleteConfig(key string) error {
	_, err := s.db.Exec(`DELETE FROM configuration WHERE key = ?`, key)
	return err
}

// ListConfig returns every stored key in order.
func (s *SQLiteStore) ListConfig() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM configuration ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetHistory returns the stored conversation for user, or nil.
func (s *SQLiteStore) GetHistory(user string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT messages FROM conversations WHERE user = ?`, user).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", user, err)
	}
	return data, nil
}

// PutHistory replaces the stored conversation for user.
func (s *SQLiteStore) PutHistory(user string, data []byte) error {
	query := `INSERT INTO conversations (user, messages, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`
	if _, err := s.db.Exec(query, user, data); err != nil {
		return fmt.Errorf("failed to save history for %s: %w", user, err)
	}
	return nil
}

// DeleteHistory removes the conversation for user and reports whether one
// was stored.
func (s *SQLiteStore) DeleteHistory(user string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE user = ?`, user)
	if err != nil {
		return false, fmt.Errorf("failed to delete history for %s: %w", user, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
