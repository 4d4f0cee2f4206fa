// Package jobs loads the job list for a download run and rejects
// descriptors that cannot be executed.
package jobs

import (
	"errors"
	"fmt"
	"os"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

// ErrNoJobs is returned when a job list holds no runnable descriptor
var ErrNoJobs = errors.New("no runnable jobs")

// Set is the validated, deduplicated job list of one run
type Set struct {
	Source     string                    `json:"source"`
	RangeStamp string                    `json:"range_stamp"`
	Meta       models.MetadataFile       `json:"-"`
	Jobs       []models.Creative         `json:"jobs"`
	Rejected   []*models.ValidationError `json:"rejected,omitempty"`
	Duplicates []string                  `json:"duplicates,omitempty"`
}

// Load reads a metadata file. Unreadable or unparseable files are fatal
// for the run; malformed descriptors are only rejected.
func Load(path string) (*Set, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("job list %s: %w", path, err)
	}

	var meta models.MetadataFile
	if err := fsutil.ReadJSON(path, &meta); err != nil {
		return nil, err
	}

	set := Build(meta.Creatives)
	set.Source = path
	set.Meta = meta
	if stamp, _, _, err := models.ParseRangeStamp(path); err == nil {
		set.RangeStamp = stamp
	}
	return set, nil
}

// Build validates and deduplicates descriptors, keeping the first
// occurrence of every aircheck id and the input order.
func Build(creatives []models.Creative) *Set {
	set := &Set{Jobs: make([]models.Creative, 0, len(creatives))}
	seen := make(map[string]struct{}, len(creatives))

	for i, c := range creatives {
		if err := c.Validate(); err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				verr.Index = i
				set.Rejected = append(set.Rejected, verr)
			}
			continue
		}
		if _, dup := seen[c.ID()]; dup {
			set.Duplicates = append(set.Duplicates, c.ID())
			continue
		}
		seen[c.ID()] = struct{}{}
		set.Jobs = append(set.Jobs, c)
	}
	return set
}

// Len returns the number of runnable jobs
func (s *Set) Len() int {
	return len(s.Jobs)
}

// RejectedDescriptors returns the rejected input records for the rejects file
func (s *Set) RejectedDescriptors() []models.Creative {
	out := make([]models.Creative, 0, len(s.Rejected))
	for _, r := range s.Rejected {
		if r.Index >= 0 && r.Index < len(s.Meta.Creatives) {
			out = append(out, s.Meta.Creatives[r.Index])
		}
	}
	return out
}
