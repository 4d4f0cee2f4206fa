package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RetentionPolicy decides which run artifacts are old enough to delete
type RetentionPolicy struct {
	MaxAge   time.Duration
	Patterns []string // glob patterns relative to the directory, e.g. "summary_ads_*.txt"
	DryRun   bool
}

// PruneStats reports what a prune pass removed
type PruneStats struct {
	Removed []string `json:"removed"`
	Kept    int      `json:"kept"`
	Bytes   int64    `json:"bytes"`
}

// Prune removes regular files under dir matching one of the policy
// patterns whose modification time is older than now - MaxAge. A missing
// dir is not an error.
func Prune(dir string, policy RetentionPolicy, now time.Time) (PruneStats, error) {
	var stats PruneStats
	if policy.MaxAge <= 0 {
		return stats, fmt.Errorf("retention must be positive, got %s", policy.MaxAge)
	}
	cutoff := now.Add(-policy.MaxAge)

	seen := make(map[string]bool)
	var matches []string
	for _, pattern := range policy.Patterns {
		files, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return stats, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				matches = append(matches, f)
			}
		}
	}
	sort.Strings(matches)

	for _, f := range matches {
		info, err := os.Lstat(f)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			stats.Kept++
			continue
		}
		if !policy.DryRun {
			if err := os.Remove(f); err != nil {
				return stats, fmt.Errorf("remove %s: %w", f, err)
			}
		}
		stats.Removed = append(stats.Removed, f)
		stats.Bytes += info.Size()
	}
	return stats, nil
}
