package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
)

// SQLiteStore keeps the list in a local SQLite database
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens or creates the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := fsutil.Mkdir(filepath.Dir(dbPath)); err != nil {
		return nil, err
	}

	// WAL with a busy timeout so a reader never fails a concurrent writer
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{sqlStore{
		db: db,
		d: dialect{
			insertIgnore: `INSERT OR IGNORE INTO creative_ids (id, added_at) VALUES (?, ?)`,
			contains:     `SELECT COUNT(*) FROM creative_ids WHERE id = ?`,
		},
	}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS creative_ids (
		id TEXT PRIMARY KEY,
		added_at DATETIME NOT NULL
	);
	`)
	return err
}
