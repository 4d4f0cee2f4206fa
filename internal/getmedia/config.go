// Package getmedia drives the external Getmedia fetch tool: one INI input
// file and one process launch per job.
package getmedia

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/psantana5/airplay-fetch/pkg/models"
)

// DefaultServiceURL is the web services endpoint handed to the tool
const DefaultServiceURL = "https://data.mediamonitors.com/mmwebservices/"

// Options configures INI rendering and process launch
type Options struct {
	Executable string // Path or name of Getmedia.exe
	ServiceURL string // /w: directive
	ConfigDir  string // Folder holding <id>.ini; working directory of the tool
	TargetDir  string // Folder the tool writes artifacts into
	Username   string
	Password   string
}

// ConfigPath returns <configDir>/<aircheck_id>.ini
func (o Options) ConfigPath(job models.Creative) string {
	return filepath.Join(o.ConfigDir, job.ID()+".ini")
}

// targetDirective renders the target folder with exactly one trailing separator
func (o Options) targetDirective() string {
	return strings.TrimRight(o.TargetDir, `\/`) + string(filepath.Separator)
}

func lineEnding() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// RenderConfig builds the INI body for job
func RenderConfig(job models.Creative, opts Options) (string, error) {
	start, err := models.GetmediaTime(job.StartTime)
	if err != nil {
		return "", fmt.Errorf("%s: start_time: %w", job.ID(), err)
	}
	end, err := models.GetmediaTime(job.EndTime)
	if err != nil {
		return "", fmt.Errorf("%s: end_time: %w", job.ID(), err)
	}

	serviceURL := opts.ServiceURL
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}

	lines := []string{
		"/u:" + opts.Username,
		"/p:" + opts.Password,
		"/w:" + serviceURL,
		"/r:" + job.StationID,
		"/i:" + job.ID(),
		"/s:" + start,
		"/e:" + end,
		"/t:" + opts.targetDirective(),
		"/n:" + job.ID(),
		"/l",
	}
	nl := lineEnding()
	return strings.Join(lines, nl) + nl, nil
}

// WriteConfigs writes every INI before any launch so that no file is
// rewritten while the tool reads it. The first failure aborts the run.
func WriteConfigs(jobs []models.Creative, opts Options) error {
	if err := os.MkdirAll(opts.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("create ini folder %s: %w", opts.ConfigDir, err)
	}
	if err := os.MkdirAll(opts.TargetDir, 0o755); err != nil {
		return fmt.Errorf("create target folder %s: %w", opts.TargetDir, err)
	}

	for _, job := range jobs {
		body, err := RenderConfig(job, opts)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.ConfigPath(job), []byte(body), 0o600); err != nil {
			return fmt.Errorf("write ini for %s: %w", job.ID(), err)
		}
	}
	return nil
}
