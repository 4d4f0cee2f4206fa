package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/psantana5/airplay-fetch/pkg/store"
)

// Result summarizes one metadata fetch
type Result struct {
	Stations       int
	FailedStations []string
	Records        int
	Unique         int
	New            []models.Creative
	Added          int
	Path           string // Metadata file, empty when nothing new was found
}

// FetchRange queries every licensed station (only the first in test mode)
// and returns the creatives of the window deduplicated across stations.
// A failing station is logged and skipped.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time) (*Result, []models.Creative, error) {
	stations, err := c.LicensedStations(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(stations) == 0 {
		return nil, nil, ErrNoStations
	}
	c.logger.Info(fmt.Sprintf("[Monitor] Found %d licensed stations", len(stations)))

	if c.cfg.TestMode {
		c.logger.Info("[Monitor] Test mode: processing first station only")
		stations = stations[:1]
	}

	res := &Result{}
	all := newCreativeSet()
	for i, id := range stations {
		records, creatives, err := c.Snapshot(ctx, id, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			c.logger.Warn(fmt.Sprintf("[Monitor] Station %s skipped", id), map[string]interface{}{"error": err.Error()})
			res.FailedStations = append(res.FailedStations, id)
			continue
		}
		c.logger.Info(fmt.Sprintf("[Monitor] Station %d/%d %s: %d records, %d unique creatives",
			i+1, len(stations), id, records, len(creatives)))

		res.Stations++
		res.Records += records
		for _, cr := range creatives {
			all.put(cr)
		}
	}

	list := all.list()
	res.Unique = len(list)
	return res, list, nil
}

// Fetch runs a metadata fetch for the window, drops creatives already in
// the master list, writes the remaining ones to the metadata file under
// outDir and records their ids in the master list.
func (c *Client) Fetch(ctx context.Context, start, end time.Time, outDir string, ids store.IDStore) (*Result, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format(models.CLIDateLayout), start.Format(models.CLIDateLayout))
	}
	c.logger.Info(fmt.Sprintf("[Monitor] Fetching airplay data from %s to %s",
		start.Format(models.CLIDateLayout), end.Format(models.CLIDateLayout)))

	res, creatives, err := c.FetchRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	fresh, err := store.FilterNew(ids, creatives)
	if err != nil {
		return nil, fmt.Errorf("filter against master list: %w", err)
	}
	res.New = fresh
	c.logger.Info(fmt.Sprintf("[Monitor] %d creatives total, %d new", len(creatives), len(fresh)))
	if len(fresh) == 0 {
		return res, nil
	}

	meta := models.MetadataFile{
		Timestamp: time.Now().Format("2006-01-02T15:04:05.000000"),
		Count:     len(fresh),
		TestMode:  c.cfg.TestMode,
		DateRange: models.DateRange{
			Start: start.Format(models.CLIDateLayout),
			End:   end.Format(models.CLIDateLayout),
		},
		Creatives: fresh,
	}
	path := filepath.Join(outDir, models.MetadataFileName(start, end))
	if err := fsutil.WriteJSON(path, meta); err != nil {
		return nil, err
	}
	res.Path = path

	added, err := ids.Add(store.CreativeIDs(fresh))
	if err != nil {
		return res, fmt.Errorf("update master list: %w", err)
	}
	res.Added = added
	return res, nil
}

// ParseWindow parses CLI dates such as "10/18/2025 00:00:00"
func ParseWindow(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(models.CLIDateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start %q, expected MM/DD/YYYY HH:MM:SS", start)
	}
	e, err := time.Parse(models.CLIDateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end %q, expected MM/DD/YYYY HH:MM:SS", end)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %q is before start %q", end, start)
	}
	return s, e, nil
}
