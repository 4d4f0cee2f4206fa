package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/airplay-fetch/internal/getmedia"
	"github.com/psantana5/airplay-fetch/internal/probe"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

type behavior int

const (
	produce       behavior = iota // artifact on every attempt
	never                         // exits without an artifact
	hang                          // runs until killed
	launchFail                    // cannot start
	secondTry                     // artifact only from the second attempt on
	writeThenHang                 // writes the artifact, then runs until killed
)

// fakeLauncher stands in for the fetch tool. It writes artifacts where a
// probe.FileProbe over dir looks for them.
type fakeLauncher struct {
	dir  string
	hold time.Duration

	mu        sync.Mutex
	behave    map[string]behavior
	calls     map[string]int
	order     []string
	active    int
	maxActive int
}

func newFakeLauncher(dir string) *fakeLauncher {
	return &fakeLauncher{
		dir:    dir,
		hold:   5 * time.Millisecond,
		behave: make(map[string]behavior),
		calls:  make(map[string]int),
	}
}

func (f *fakeLauncher) set(b behavior, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.behave[id] = b
	}
}

func (f *fakeLauncher) Launch(ctx context.Context, job models.Creative) *getmedia.Handle {
	h := getmedia.NewHandle(job.ID())

	f.mu.Lock()
	f.calls[job.ID()]++
	attempt := f.calls[job.ID()]
	b := f.behave[job.ID()]
	f.order = append(f.order, job.ID())
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	finish := func(code int, err error) {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
		h.Settle(code, err, "")
	}

	if b == launchFail {
		finish(-1, fmt.Errorf("%w: executable not found", getmedia.ErrLaunch))
		return h
	}

	go func() {
		switch b {
		case hang:
			<-ctx.Done()
			finish(-1, nil)
			return
		case never:
			time.Sleep(f.hold)
			finish(1, nil)
			return
		case writeThenHang:
			time.Sleep(f.hold)
			f.writeArtifact(job)
			<-ctx.Done()
			finish(-1, nil)
			return
		}
		time.Sleep(f.hold)
		if b == produce || attempt >= 2 {
			f.writeArtifact(job)
		}
		finish(0, nil)
	}()
	return h
}

func (f *fakeLauncher) writeArtifact(job models.Creative) {
	path := filepath.Join(f.dir, job.ID()+probe.ArtifactSuffix)
	_ = os.WriteFile(path, []byte("RIFF"), 0o644)
}

func (f *fakeLauncher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeLauncher) resetMax() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxActive = 0
}

func (f *fakeLauncher) max() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeLauncher) launchOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func creatives(n int) []models.Creative {
	out := make([]models.Creative, n)
	for i := range out {
		out[i] = models.Creative{
			AircheckID:   fmt.Sprintf("%05d", i+1),
			CreativeName: fmt.Sprintf("Spot %d", i+1),
			StationID:    "42",
			StartTime:    "2025-10-18 04:47:22.000",
			EndTime:      "2025-10-18 04:47:52.000",
		}
	}
	return out
}
