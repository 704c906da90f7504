package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

const settingsDBName = "settings.db"

// SecureStore implements domain.SettingsStore on a SQLCipher encrypted
// SQLite database. The default backend: the premium cache and session
// start live here, and a casually curious user should not be able to
// hand-edit them with a text editor.
type SecureStore struct {
	db     *sql.DB
	dbPath string
}

// NewSecureStore opens (or creates) the encrypted settings database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewSecureStore(dataDir string, key []byte) (*SecureStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, settingsDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &SecureStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SecureStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored value and whether the key was present.
func (s *SecureStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores a value (last write wins).
func (s *SecureStore) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)`,
		key, value, time.Now().Unix(),
	)
	return err
}

// Remove deletes a key. Removing an absent key is not an error.
func (s *SecureStore) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// Close releases the database connection.
func (s *SecureStore) Close() error {
	return s.db.Close()
}

// Ensure SecureStore implements domain.SettingsStore.
var _ domain.SettingsStore = (*SecureStore)(nil)
