package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

const recordTimeLayout = "2006-01-02T15:04:05"

// FailedRecord lists terminally failed descriptors for a manual re-run
type FailedRecord struct {
	Timestamp   string            `json:"timestamp"`
	FailedCount int               `json:"failed_count"`
	Creatives   []models.Creative `json:"creatives"`
}

// RejectedRecord lists descriptors rejected at load time with the reason,
// and the aircheck ids dropped as repeats of an earlier descriptor
type RejectedRecord struct {
	Timestamp      string                    `json:"timestamp"`
	RejectedCount  int                       `json:"rejected_count"`
	Reasons        []*models.ValidationError `json:"reasons"`
	Creatives      []models.Creative         `json:"creatives"`
	DuplicateCount int                       `json:"duplicate_count"`
	Duplicates     []string                  `json:"duplicates,omitempty"`
}

// FailedRecordPath returns <dir>/failed_ads_<stamp>.json
func FailedRecordPath(dir, stamp string) string {
	return filepath.Join(dir, "failed_ads_"+stamp+".json")
}

// RejectedRecordPath returns <dir>/rejected_ads_<stamp>.json
func RejectedRecordPath(dir, stamp string) string {
	return filepath.Join(dir, "rejected_ads_"+stamp+".json")
}

// WriteFailedRecord writes the record when at least one job failed and
// returns its path, or "" when nothing failed.
func WriteFailedRecord(dir, stamp string, failed []models.Creative) (string, error) {
	if len(failed) == 0 {
		return "", nil
	}
	path := FailedRecordPath(dir, stamp)
	rec := FailedRecord{
		Timestamp:   time.Now().Format(recordTimeLayout),
		FailedCount: len(failed),
		Creatives:   failed,
	}
	if err := fsutil.WriteJSON(path, rec); err != nil {
		return "", fmt.Errorf("write failed-job record: %w", err)
	}
	return path, nil
}

// WriteRejectedRecord writes the rejects file when anything was rejected
// or dropped as a duplicate
func WriteRejectedRecord(dir, stamp string, reasons []*models.ValidationError, creatives []models.Creative, duplicates []string) (string, error) {
	if len(reasons) == 0 && len(duplicates) == 0 {
		return "", nil
	}
	path := RejectedRecordPath(dir, stamp)
	rec := RejectedRecord{
		Timestamp:      time.Now().Format(recordTimeLayout),
		RejectedCount:  len(reasons),
		Reasons:        reasons,
		Creatives:      creatives,
		DuplicateCount: len(duplicates),
		Duplicates:     duplicates,
	}
	if err := fsutil.WriteJSON(path, rec); err != nil {
		return "", fmt.Errorf("write rejected record: %w", err)
	}
	return path, nil
}

// ReadFailedRecord loads a failed-job record so its jobs can be re-run
func ReadFailedRecord(path string) (*FailedRecord, error) {
	var rec FailedRecord
	if err := fsutil.ReadJSON(path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
