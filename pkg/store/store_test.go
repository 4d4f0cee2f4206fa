package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s IDStore) {
	t.Helper()

	n, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	added, err := s.Add([]string{"c3", "c1", "c1", "", "c2"})
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = s.Add([]string{"c2", "c4"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	ok, err := s.Contains("c4")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Contains("c9")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, ids)

	updated, err := s.LastUpdated()
	require.NoError(t, err)
	assert.False(t, updated.IsZero())

	require.NoError(t, s.Replace([]string{"x"}))
	n, err = s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, s.HealthCheck())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestJSONStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "master_creative_ids.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	var doc masterFile
	require.NoError(t, fsutil.ReadJSON(path, &doc))
	assert.Equal(t, 1, doc.TotalCount)
	assert.Equal(t, []string{"x"}, doc.CreativeIDs)

	reopened, err := NewJSONStore(path)
	require.NoError(t, err)
	ok, err := reopened.Contains("x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJSONStoreReadsEarlierFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master_creative_ids.json")
	doc := `{"last_updated": "2025-10-18T09:12:44.123456", "total_count": 2, "creative_ids": ["a", "b"]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := NewJSONStore(path)
	require.NoError(t, err)
	n, _ := s.Count()
	assert.Equal(t, 2, n)
	updated, _ := s.LastUpdated()
	assert.Equal(t, 2025, updated.Year())
}

func TestJSONStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master_creative_ids.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewJSONStore(path)
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "master.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgreSQLStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}
	s, err := NewStore(Config{Type: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Replace(nil))
	exerciseStore(t, s)
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(Config{Path: filepath.Join(dir, "ids.json")})
	require.NoError(t, err)
	assert.IsType(t, &JSONStore{}, s)

	s, err = NewStore(Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(Config{Type: "redis"})
	assert.True(t, errors.Is(err, ErrUnsupportedStore))

	_, err = NewStore(Config{Type: "postgres"})
	assert.Error(t, err, "postgres needs a DSN")
}

func TestRebuildAndFilter(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, ids ...string) {
		meta := models.MetadataFile{}
		for _, id := range ids {
			meta.Creatives = append(meta.Creatives, models.Creative{CreativeID: id, AircheckID: "a" + id})
		}
		require.NoError(t, fsutil.WriteJSON(filepath.Join(dir, name), meta))
	}
	write("ads_20251018_000000_20251018_235959.json", "1", "2")
	write("ads_20251019_000000_20251019_235959.json", "2", "3")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ads_broken.json"), []byte("nope"), 0o644))
	require.NoError(t, fsutil.WriteJSON(filepath.Join(dir, "master_creative_ids.json"), masterFile{CreativeIDs: []string{"99"}}))

	s := NewMemoryStore()
	stats, err := Rebuild(dir, s)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Equal(t, 3, stats.IDs)
	assert.Len(t, stats.Skipped, 1)

	ids, _ := s.Load()
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	fresh, err := FilterNew(s, []models.Creative{{CreativeID: "3"}, {CreativeID: "4"}, {CreativeID: "1"}, {CreativeID: "5"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, CreativeIDs(fresh))
}
