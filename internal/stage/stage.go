// Package stage copies fetched artifacts into the hand-off folder an
// uploader consumes, and cleans up the working folders afterwards.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"

	"github.com/psantana5/airplay-fetch/internal/probe"
	"github.com/psantana5/airplay-fetch/pkg/logging"
)

var (
	// ErrInsufficientSpace is returned by the free space preflight
	ErrInsufficientSpace = errors.New("insufficient free disk space")
	// ErrNoWav is returned by Largest when the folder holds no .wav file
	ErrNoWav = errors.New("no .wav files found")
)

// Options configures one staging pass
type Options struct {
	TargetDir      string // Where the fetch tool wrote <id>_pcm.wav
	StagingDir     string // Parent of the hand-off folder
	RangeStamp     string // Names the hand-off folder ads_<range>
	Concurrency    int
	SkipSpaceCheck bool
}

// Result summarizes a staging pass
type Result struct {
	Folder string            `json:"folder"`
	Copied []string          `json:"copied"`
	Failed map[string]string `json:"failed,omitempty"` // file -> copy error
	Bytes  int64             `json:"bytes"`
}

// Folder returns <staging>/ads_<range>
func Folder(stagingDir, rangeStamp string) string {
	return filepath.Join(stagingDir, "ads_"+rangeStamp)
}

// Stage copies every artifact into the hand-off folder, renaming
// <id>_pcm.wav to <id>.wav. A file that fails to copy is reported and
// does not stop the others.
func Stage(ctx context.Context, opts Options, logger *logging.Logger) (*Result, error) {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}

	artifacts, total, err := listArtifacts(opts.TargetDir)
	if err != nil {
		return nil, err
	}
	res := &Result{Folder: Folder(opts.StagingDir, opts.RangeStamp), Failed: make(map[string]string)}
	if len(artifacts) == 0 {
		logger.Warn(fmt.Sprintf("[Stage] No artifacts found in %s", opts.TargetDir))
		return res, nil
	}

	if err := os.MkdirAll(res.Folder, 0o755); err != nil {
		return nil, fmt.Errorf("create staging folder: %w", err)
	}
	if !opts.SkipSpaceCheck {
		if err := checkFreeSpace(res.Folder, uint64(total)); err != nil {
			return nil, err
		}
	}
	logger.Info(fmt.Sprintf("[Stage] Copying %d artifacts to %s", len(artifacts), res.Folder))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, src := range artifacts {
		src := src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(src), probe.ArtifactSuffix) + ".wav"
			n, err := copyFile(src, filepath.Join(res.Folder, name))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[name] = err.Error()
				logger.Warn(fmt.Sprintf("[Stage] Failed to copy %s", name), map[string]interface{}{"error": err.Error()})
				return nil
			}
			res.Copied = append(res.Copied, name)
			res.Bytes += n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	sort.Strings(res.Copied)
	logger.Info(fmt.Sprintf("[Stage] Copied %d files (%d failed)", len(res.Copied), len(res.Failed)))
	return res, nil
}

func listArtifacts(dir string) ([]string, int64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+probe.ArtifactSuffix))
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", dir, err)
	}
	var files []string
	var total int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
		total += info.Size()
	}
	return files, total, nil
}

// checkFreeSpace fails when the volume holding dir has less than need
// bytes free
func checkFreeSpace(dir string, need uint64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("disk usage for %s: %w", dir, err)
	}
	if usage.Free < need {
		return fmt.Errorf("%w: need %d bytes, %d free on %s", ErrInsufficientSpace, need, usage.Free, usage.Path)
	}
	return nil
}

// copyFile copies src to dst, keeping the modification time
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return n, nil
}

// Cleanup removes the working folders. Missing folders are not an error.
func Cleanup(logger *logging.Logger, dirs ...string) error {
	var errs []error
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if _, err := os.Stat(d); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", d, err))
			continue
		}
		if logger != nil {
			logger.Info(fmt.Sprintf("[Stage] Deleted %s", d))
		}
	}
	return errors.Join(errs...)
}

// Largest returns the largest .wav file directly under dir
func Largest(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", dir, err)
	}

	var best string
	var size int64 = -1
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > size {
			best, size = filepath.Join(dir, e.Name()), info.Size()
		}
	}
	if best == "" {
		return "", 0, fmt.Errorf("%w in %s", ErrNoWav, dir)
	}
	return best, size, nil
}
