package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore keeps the list in a shared PostgreSQL database, for
// several operators fetching against one master list
type PostgreSQLStore struct {
	sqlStore
}

// NewPostgreSQLStore connects with config.DSN and creates the table
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(5)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgreSQLStore{sqlStore{
		db: db,
		d: dialect{
			insertIgnore: `INSERT INTO creative_ids (id, added_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			contains:     `SELECT COUNT(*) FROM creative_ids WHERE id = $1`,
		},
	}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgreSQLStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS creative_ids (
		id TEXT PRIMARY KEY,
		added_at TIMESTAMPTZ NOT NULL
	);
	`)
	return err
}
