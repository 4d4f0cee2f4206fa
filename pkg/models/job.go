package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDescriptor is wrapped by every descriptor validation failure
var ErrInvalidDescriptor = errors.New("invalid job descriptor")

// Timestamp layouts accepted from the metadata service. Fractional seconds
// are accepted by time.Parse even though the layouts omit them.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// GetmediaTimeLayout is the timestamp format the fetch tool expects
const GetmediaTimeLayout = "20060102-15:04:05"

// Creative is one fetch job: a single aircheck of a broadcast creative.
// Descriptors are loaded once per run and never mutated.
type Creative struct {
	AircheckID   string `json:"aircheck_id"`
	CreativeID   string `json:"creative_id"`
	CreativeName string `json:"creative_name"`
	StationID    string `json:"station_id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

// ID returns the job identifier. It names the tool invocation and the artifact.
func (c Creative) ID() string {
	return c.AircheckID
}

// DisplayName returns the creative name, or a placeholder when absent
func (c Creative) DisplayName() string {
	if strings.TrimSpace(c.CreativeName) == "" {
		return "Unknown"
	}
	return c.CreativeName
}

// Window parses the start and end instants
func (c Creative) Window() (time.Time, time.Time, error) {
	start, err := ParseTimestamp(c.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := ParseTimestamp(c.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_time: %w", err)
	}
	return start, end, nil
}

// ValidationError describes why a descriptor was rejected
type ValidationError struct {
	Index      int    `json:"index"`
	AircheckID string `json:"aircheck_id,omitempty"`
	Field      string `json:"field"`
	Reason     string `json:"reason"`
}

func (e *ValidationError) Error() string {
	id := e.AircheckID
	if id == "" {
		id = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("%s: %s %s", id, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDescriptor
}

// Validate checks the required fields and the time window
func (c Creative) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"aircheck_id", c.AircheckID},
		{"station_id", c.StationID},
		{"start_time", c.StartTime},
		{"end_time", c.EndTime},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{AircheckID: c.AircheckID, Field: r.field, Reason: "is required"}
		}
	}

	start, err := ParseTimestamp(c.StartTime)
	if err != nil {
		return &ValidationError{AircheckID: c.AircheckID, Field: "start_time", Reason: "is not a timestamp"}
	}
	end, err := ParseTimestamp(c.EndTime)
	if err != nil {
		return &ValidationError{AircheckID: c.AircheckID, Field: "end_time", Reason: "is not a timestamp"}
	}
	if start.After(end) {
		return &ValidationError{AircheckID: c.AircheckID, Field: "end_time", Reason: "is before start_time"}
	}
	return nil
}

// ParseTimestamp parses a metadata timestamp such as "2025-10-18 04:47:22.000"
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// GetmediaTime converts a metadata timestamp to the fetch tool format
// ("2025-10-18 04:47:22.000" becomes "20251018-04:47:22").
func GetmediaTime(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return t.Format(GetmediaTimeLayout), nil
}

// Batch is an ordered slice of the job list with a 1-based sequence number
type Batch struct {
	Seq  int        `json:"seq"`
	Jobs []Creative `json:"jobs"`
}

// IDs returns the job identifiers in batch order
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Jobs))
	for i, j := range b.Jobs {
		ids[i] = j.ID()
	}
	return ids
}
