package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/models"
)

const (
	heavyRule = "=================================================="
	lightRule = "------------------------------"
	entryRule = "--------------------"
)

// Entry is one job line in a progress section
type Entry struct {
	Job    models.Creative
	Status models.OutcomeStatus
	Detail string
}

// Section is the report block for one batch
type Section struct {
	Batch   int
	Entries []Entry
}

// Header is written once when the report is created
type Header struct {
	RunID      string
	RangeStamp string
	Source     string
	Jobs       int
	Batches    int
	Rejected   int
	StartedAt  time.Time
}

// ProgressWriter appends one section per batch to a single text file.
// Writes are serialized, and sections are emitted in batch order: a batch
// that finishes before its predecessor waits in memory until the
// predecessor is written.
type ProgressWriter struct {
	mu      sync.Mutex
	path    string
	next    int
	pending map[int]Section
	written int
}

// NewProgressWriter truncates path and writes the header
func NewProgressWriter(path string, h Header) (*ProgressWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create summary folder: %w", err)
	}

	var b strings.Builder
	b.WriteString("=== MEDIA PROCESSING SUMMARY ===\n")
	fmt.Fprintf(&b, "Started: %s\n", h.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Run ID: %s\n", h.RunID)
	if h.RangeStamp != "" {
		fmt.Fprintf(&b, "Range: %s\n", h.RangeStamp)
	}
	if h.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", h.Source)
	}
	fmt.Fprintf(&b, "Jobs: %d in %d batches (%d rejected)\n", h.Jobs, h.Batches, h.Rejected)
	b.WriteString(heavyRule + "\n\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write summary header: %w", err)
	}
	return &ProgressWriter{path: path, next: 1, pending: make(map[int]Section)}, nil
}

// Path returns the report path
func (w *ProgressWriter) Path() string {
	return w.path
}

// WriteBatch queues a section and writes every section that is now in order
func (w *ProgressWriter) WriteBatch(s Section) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s.Batch < w.next {
		return fmt.Errorf("batch %d already written", s.Batch)
	}
	if _, dup := w.pending[s.Batch]; dup {
		return fmt.Errorf("batch %d already queued", s.Batch)
	}
	w.pending[s.Batch] = s

	for {
		sec, ok := w.pending[w.next]
		if !ok {
			return nil
		}
		if err := w.appendText(renderSection(fmt.Sprintf("BATCH %d RESULTS:", sec.Batch), sec.Entries)); err != nil {
			return err
		}
		delete(w.pending, w.next)
		w.next++
		w.written++
	}
}

// WriteRetry appends the retry pass section
func (w *ProgressWriter) WriteRetry(entries []Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendText(renderSection("RETRY RESULTS:", entries))
}

// Close appends the run footer. Sections still waiting on a missing
// predecessor are written out of order rather than lost.
func (w *ProgressWriter) Close(res RunResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.pending) > 0 {
		lowest := -1
		for seq := range w.pending {
			if lowest == -1 || seq < lowest {
				lowest = seq
			}
		}
		sec := w.pending[lowest]
		if err := w.appendText(renderSection(fmt.Sprintf("BATCH %d RESULTS:", sec.Batch), sec.Entries)); err != nil {
			return err
		}
		delete(w.pending, lowest)
		w.written++
	}

	var b strings.Builder
	b.WriteString("FINAL SUMMARY:\n")
	b.WriteString(lightRule + "\n")
	fmt.Fprintf(&b, "Finished: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total: %d\n", res.Total)
	fmt.Fprintf(&b, "Succeeded: %d\n", res.Succeeded)
	fmt.Fprintf(&b, "Failed: %d\n", res.Failed)
	for _, c := range res.StillFailed {
		fmt.Fprintf(&b, "  - %s: %s\n", c.ID(), c.DisplayName())
	}
	b.WriteString(heavyRule + "\n")
	return w.appendText(b.String())
}

// Sections returns the number of batch sections written so far
func (w *ProgressWriter) Sections() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *ProgressWriter) appendText(text string) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open summary: %w", err)
	}
	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("append summary: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("append summary: %w", err)
	}
	return f.Close()
}

func renderSection(title string, entries []Entry) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	b.WriteString(lightRule + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "Aircheck ID: %s\n", e.Job.ID())
		fmt.Fprintf(&b, "Creative ID: %s\n", e.Job.CreativeID)
		fmt.Fprintf(&b, "Creative Name: %s\n", e.Job.DisplayName())
		fmt.Fprintf(&b, "Station ID: %s\n", e.Job.StationID)
		fmt.Fprintf(&b, "Status: %s\n", e.Status)
		b.WriteString(entryRule + "\n")
		if e.Detail != "" {
			b.WriteString(e.Detail)
		} else {
			b.WriteString("No .out file found for this aircheck.")
		}
		b.WriteString("\n" + entryRule + "\n\n")
	}
	b.WriteString(heavyRule + "\n\n")
	return b.String()
}
