// Package probe answers whether a job produced its artifact. The fetch
// tool's exit status is unreliable, so the artifact on disk is the only
// completion signal.
package probe

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

const (
	// ArtifactSuffix is appended to the aircheck id by the fetch tool
	ArtifactSuffix = "_pcm.wav"
	// DetailSuffix names the text file the tool writes next to the artifact
	DetailSuffix = ".out"

	maxDetailBytes = 64 * 1024
)

// Prober classifies a job by looking for its artifact
type Prober interface {
	Probe(job models.Creative) bool
	Detail(job models.Creative) string
}

// FileProbe looks for artifacts in the tool's target folder
type FileProbe struct {
	TargetDir string
}

// New creates a probe over targetDir
func New(targetDir string) *FileProbe {
	return &FileProbe{TargetDir: targetDir}
}

// ArtifactPath returns <target>/<aircheck_id>_pcm.wav
func (p *FileProbe) ArtifactPath(job models.Creative) string {
	return filepath.Join(p.TargetDir, job.ID()+ArtifactSuffix)
}

// DetailPath returns <target>/<aircheck_id>.out
func (p *FileProbe) DetailPath(job models.Creative) string {
	return filepath.Join(p.TargetDir, job.ID()+DetailSuffix)
}

// Probe is a point-in-time check; it never polls.
func (p *FileProbe) Probe(job models.Creative) bool {
	return fsutil.Exists(p.ArtifactPath(job))
}

// Detail returns the tool's detail text for job, or "" when absent
func (p *FileProbe) Detail(job models.Creative) string {
	f, err := os.Open(p.DetailPath(job))
	if err != nil {
		return ""
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDetailBytes))
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\r\n ")
}
