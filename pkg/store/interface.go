package store

import (
	"time"
)

// IDStore persists the master list of creative ids already fetched.
// All backends implement this interface.
type IDStore interface {
	// Load returns every id, sorted
	Load() ([]string, error)
	Contains(id string) (bool, error)
	// Add inserts ids and returns how many were new
	Add(ids []string) (int, error)
	// Replace swaps the whole list, used by a rebuild
	Replace(ids []string) error
	Count() (int, error)
	LastUpdated() (time.Time, error)

	HealthCheck() error
	Close() error
}

// Config holds store configuration
type Config struct {
	Type string // "json", "sqlite", "postgres" or "memory"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// File path for the json and sqlite backends
	Path string
}

// DefaultJSONPath is where the json backend keeps the list
const DefaultJSONPath = "creatives_metadata/master_creative_ids.json"

// NewStore creates a store based on configuration
func NewStore(config Config) (IDStore, error) {
	switch config.Type {
	case "json", "":
		path := config.Path
		if path == "" {
			path = DefaultJSONPath
		}
		return NewJSONStore(path)
	case "sqlite":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "creatives_metadata/master.db"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedStore
	}
}

var (
	ErrUnsupportedStore = NewError("unsupported store type")
)

// NewError creates a new error with message
func NewError(message string) error {
	return &storeError{message: message}
}

type storeError struct {
	message string
}

func (e *storeError) Error() string {
	return e.message
}

// normalize trims, drops empties and dedupes ids, keeping first occurrence
func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
