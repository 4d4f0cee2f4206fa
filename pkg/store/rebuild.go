package store

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

// RebuildStats reports what a rebuild scanned
type RebuildStats struct {
	FilesProcessed int
	IDs            int
	Skipped        map[string]error // file -> why it was skipped
}

// Rebuild replaces the master list with every creative id found in the
// metadata files under dir. Unreadable files are skipped and reported.
func Rebuild(dir string, s IDStore) (RebuildStats, error) {
	stats := RebuildStats{Skipped: make(map[string]error)}

	files, err := filepath.Glob(filepath.Join(dir, models.MetadataPrefix+"*.json"))
	if err != nil {
		return stats, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)

	var ids []string
	for _, f := range files {
		var meta models.MetadataFile
		if err := fsutil.ReadJSON(f, &meta); err != nil {
			stats.Skipped[f] = err
			continue
		}
		for _, c := range meta.Creatives {
			ids = append(ids, c.CreativeID)
		}
		stats.FilesProcessed++
	}

	ids = normalize(ids)
	if err := s.Replace(ids); err != nil {
		return stats, err
	}
	stats.IDs = len(ids)
	return stats, nil
}

// FilterNew returns the creatives whose creative id is not in the store,
// in input order
func FilterNew(s IDStore, creatives []models.Creative) ([]models.Creative, error) {
	out := make([]models.Creative, 0, len(creatives))
	for _, c := range creatives {
		known, err := s.Contains(c.CreativeID)
		if err != nil {
			return nil, err
		}
		if !known {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreativeIDs returns the creative ids of creatives, in input order
func CreativeIDs(creatives []models.Creative) []string {
	ids := make([]string, len(creatives))
	for i, c := range creatives {
		ids[i] = c.CreativeID
	}
	return ids
}
