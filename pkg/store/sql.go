package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dialect holds the statements that differ between SQL backends
type dialect struct {
	insertIgnore string
	contains     string
}

// sqlStore implements IDStore over database/sql for sqlite and postgres
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Load() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM creative_ids ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlStore) Contains(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(s.d.contains, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *sqlStore) Add(ids []string) (int, error) {
	ids = normalize(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	added, err := insertAll(tx, s.d.insertIgnore, ids, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return added, nil
}

func (s *sqlStore) Replace(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM creative_ids`); err != nil {
		return fmt.Errorf("failed to clear ids: %w", err)
	}
	if _, err := insertAll(tx, s.d.insertIgnore, normalize(ids), time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func insertAll(tx *sql.Tx, query string, ids []string, now time.Time) (int, error) {
	stmt, err := tx.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, id := range ids {
		res, err := stmt.Exec(id, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}
	return added, nil
}

func (s *sqlStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM creative_ids`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ids: %w", err)
	}
	return n, nil
}

func (s *sqlStore) LastUpdated() (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(`SELECT added_at FROM creative_ids ORDER BY added_at DESC LIMIT 1`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last update: %w", err)
	}
	return t, nil
}

func (s *sqlStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
