package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RosterEntry is one cached contact
type RosterEntry struct {
	UserID       int64
	Subscription string
	Ask          string
}

// Session is a cached REST session token
type Session struct {
	Account   string
	Token     string
	UserID    int64
	CreatedAt time.Time
}

type DB struct {
	db *sql.DB
}

func New(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "qbsdk.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS roster_cache (
			account TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			subscription TEXT NOT NULL,
			ask TEXT,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (account, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_roster_cache_account ON roster_cache(account)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			account TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			user_id INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRoster replaces the cached roster of an account
func (d *DB) SaveRoster(account string, entries []RosterEntry) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM roster_cache WHERE account = ?", account); err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, entry := range entries {
		_, err := tx.Exec(`
			INSERT INTO roster_cache (account, user_id, subscription, ask, last_updated)
			VALUES (?, ?, ?, ?, ?)
		`, account, entry.UserID, entry.Subscription, entry.Ask, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRoster returns the cached roster of an account ordered by user id
func (d *DB) GetRoster(account string) ([]RosterEntry, error) {
	rows, err := d.db.Query(`
		SELECT user_id, subscription, ask
		FROM roster_cache
		WHERE account = ?
		ORDER BY user_id
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RosterEntry
	for rows.Next() {
		var entry RosterEntry
		var ask sql.NullString

		if err := rows.Scan(&entry.UserID, &entry.Subscription, &ask); err != nil {
			return nil, err
		}
		if ask.Valid {
			entry.Ask = ask.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteRoster drops the cached roster of an account
func (d *DB) DeleteRoster(account string) error {
	_, err := d.db.Exec("DELETE FROM roster_cache WHERE account = ?", account)
	return err
}

func (d *DB) SaveSession(session Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO sessions (account, token, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, session.Account, session.Token, session.UserID, session.CreatedAt.Unix())
	return err
}

// GetSession returns the cached session of an account, or nil
func (d *DB) GetSession(account string) (*Session, error) {
	var s Session
	var created int64
	err := d.db.QueryRow(`
		SELECT account, token, user_id, created_at FROM sessions WHERE account = ?
	`, account).Scan(&s.Account, &s.Token, &s.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(created, 0)
	return &s, nil
}

func (d *DB) DeleteSession(account string) error {
	_, err := d.db.Exec("DELETE FROM sessions WHERE account = ?", account)
	return err
}

func (d *DB) SetAppState(key, value string) error {
	_, err := d.db.Exec(`INSERT OR REPLACE INTO app_state (key, value) VALUES (?, ?)`, key, value)
	return err
}

func (d *DB) GetAppState(key string) (string, error) {
	var value sql.NullString
	err := d.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value.String, err
}
