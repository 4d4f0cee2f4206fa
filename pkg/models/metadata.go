package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// CLIDateLayout is the date format accepted on the command line
	CLIDateLayout = "01/02/2006 15:04:05"
	// RangeStampLayout formats one side of a file range stamp
	RangeStampLayout = "20060102_150405"
	// MetadataPrefix prefixes every metadata file name
	MetadataPrefix = "ads_"
)

// DateRange is the requested window as typed by the operator
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MetadataFile is the job list produced by a metadata fetch
type MetadataFile struct {
	Timestamp string     `json:"timestamp"`
	Count     int        `json:"count"`
	TestMode  bool       `json:"test_mode"`
	DateRange DateRange  `json:"date_range"`
	Creatives []Creative `json:"creatives"`
}

// RangeStamp renders start and end as "20251018_000000_20251019_000000"
func RangeStamp(start, end time.Time) string {
	return start.Format(RangeStampLayout) + "_" + end.Format(RangeStampLayout)
}

// MetadataFileName returns the metadata file name for a window
func MetadataFileName(start, end time.Time) string {
	return MetadataPrefix + RangeStamp(start, end) + ".json"
}

// ParseRangeStamp extracts the window from a metadata file name or path
// such as "creatives_metadata/ads_20251018_000000_20251019_000000.json".
func ParseRangeStamp(path string) (string, time.Time, time.Time, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stamp := strings.TrimPrefix(name, MetadataPrefix)

	parts := strings.Split(stamp, "_")
	if len(parts) != 4 {
		return "", time.Time{}, time.Time{}, fmt.Errorf("file name %q does not carry a date range", filepath.Base(path))
	}
	start, err := time.Parse(RangeStampLayout, parts[0]+"_"+parts[1])
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse range start in %q: %w", name, err)
	}
	end, err := time.Parse(RangeStampLayout, parts[2]+"_"+parts[3])
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse range end in %q: %w", name, err)
	}
	return stamp, start, end, nil
}
