package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
)

// masterFile is the on-disk layout shared with earlier tooling
type masterFile struct {
	LastUpdated string   `json:"last_updated"`
	TotalCount  int      `json:"total_count"`
	SourceFiles int      `json:"source_files_processed,omitempty"`
	CreativeIDs []string `json:"creative_ids"`
}

const masterTimeLayout = "2006-01-02T15:04:05.000000"

// JSONStore keeps the list in a single JSON document rewritten atomically
// on every change.
type JSONStore struct {
	path string

	mu      sync.Mutex
	ids     map[string]struct{}
	updated time.Time
}

// NewJSONStore opens path. A missing file is an empty list; an unreadable
// one is an error so a corrupt list never looks empty.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, ids: make(map[string]struct{})}

	var doc masterFile
	err := fsutil.ReadJSON(path, &doc)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read master list: %w", err)
	}

	for _, id := range normalize(doc.CreativeIDs) {
		s.ids[id] = struct{}{}
	}
	if t, err := parseMasterTime(doc.LastUpdated); err == nil {
		s.updated = t
	}
	return s, nil
}

func parseMasterTime(s string) (time.Time, error) {
	for _, layout := range []string{masterTimeLayout, "2006-01-02T15:04:05", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Path returns the backing file
func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) Load() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.ids), nil
}

func (s *JSONStore) Contains(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

func (s *JSONStore) Add(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []string
	for _, id := range normalize(ids) {
		if _, ok := s.ids[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	for _, id := range fresh {
		s.ids[id] = struct{}{}
	}
	if err := s.persist(); err != nil {
		for _, id := range fresh {
			delete(s.ids, id)
		}
		return 0, err
	}
	return len(fresh), nil
}

func (s *JSONStore) Replace(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.ids
	s.ids = make(map[string]struct{}, len(ids))
	for _, id := range normalize(ids) {
		s.ids[id] = struct{}{}
	}
	if err := s.persist(); err != nil {
		s.ids = prev
		return err
	}
	return nil
}

func (s *JSONStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids), nil
}

func (s *JSONStore) LastUpdated() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated, nil
}

// HealthCheck verifies the folder of the list is writable
func (s *JSONStore) HealthCheck() error {
	dir := filepath.Dir(s.path)
	if err := fsutil.Mkdir(dir); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".airplay-health-*")
	if err != nil {
		return fmt.Errorf("master list folder not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *JSONStore) Close() error { return nil }

// persist must be called with mu held
func (s *JSONStore) persist() error {
	now := time.Now()
	doc := masterFile{
		LastUpdated: now.Format(masterTimeLayout),
		TotalCount:  len(s.ids),
		CreativeIDs: sortedKeys(s.ids),
	}
	if err := fsutil.WriteJSON(s.path, doc); err != nil {
		return fmt.Errorf("write master list: %w", err)
	}
	s.updated = now
	return nil
}
