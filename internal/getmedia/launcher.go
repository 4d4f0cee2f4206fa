package getmedia

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

// ErrLaunch marks a job whose tool process could not be started
var ErrLaunch = errors.New("launch failed")

// Launcher starts the fetch tool for one job without blocking on it
type Launcher interface {
	Launch(ctx context.Context, job models.Creative) *Handle
}

// Handle tracks one launched process. Its exit status is diagnostic only.
type Handle struct {
	JobID     string
	StartedAt time.Time

	done       chan struct{}
	mu         sync.Mutex
	pid        int
	err        error
	exitCode   int
	finishedAt time.Time
	output     string
}

// NewHandle creates an unsettled handle
func NewHandle(jobID string) *Handle {
	return &Handle{
		JobID:     jobID,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Settle records the process result and releases waiters. Only the first
// call has an effect.
func (h *Handle) Settle(exitCode int, err error, output string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.exitCode = exitCode
	h.err = err
	h.output = output
	h.finishedAt = time.Now()
	close(h.done)
}

// Done is closed when the launch call returned
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the launch error, if the process never started
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// ExitCode returns the process exit code, -1 when unknown
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// PID returns the process id, 0 when the process never started
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Output returns the tail of the tool's combined output
func (h *Handle) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output
}

// Duration returns how long the process ran
func (h *Handle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finishedAt.IsZero() {
		return time.Since(h.StartedAt)
	}
	return h.finishedAt.Sub(h.StartedAt)
}

// ExecLauncher runs Getmedia.exe /f:<id>.ini /s inside the INI folder
type ExecLauncher struct {
	opts       Options
	executable string
	logger     *logging.Logger
}

// NewExecLauncher resolves the executable once. A missing executable is not
// an error here: every launch then fails and is recorded per job.
func NewExecLauncher(opts Options, logger *logging.Logger) *ExecLauncher {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &ExecLauncher{
		opts:       opts,
		executable: resolveExecutable(opts.Executable),
		logger:     logger,
	}
}

func resolveExecutable(name string) string {
	path, err := exec.LookPath(name)
	if err != nil && !errors.Is(err, exec.ErrDot) {
		return name
	}
	if abs, absErr := filepath.Abs(path); absErr == nil {
		return abs
	}
	return path
}

// Args returns the tool arguments for job
func Args(job models.Creative) []string {
	return []string{"/f:" + job.ID() + ".ini", "/s"}
}

// Launch starts the process and returns immediately. The handle settles
// when the process exits or could not be started.
func (l *ExecLauncher) Launch(ctx context.Context, job models.Creative) *Handle {
	h := NewHandle(job.ID())

	cmd := exec.CommandContext(ctx, l.executable, Args(job)...)
	cmd.Dir = l.opts.ConfigDir
	cmd.WaitDelay = 5 * time.Second
	out := newTailBuffer(4096)
	cmd.Stdout = out
	cmd.Stderr = out
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		l.logger.Warn(fmt.Sprintf("[Launcher] Could not start %s for %s", l.executable, job.ID()),
			map[string]interface{}{"aircheck_id": job.ID(), "error": err.Error()})
		h.Settle(-1, fmt.Errorf("%w: %s: %v", ErrLaunch, job.ID(), err), "")
		return h
	}

	h.mu.Lock()
	h.pid = cmd.Process.Pid
	h.mu.Unlock()

	go func() {
		err := cmd.Wait()
		exitCode := 0
		if err != nil {
			exitCode = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
		}
		l.logger.Debug(fmt.Sprintf("[Launcher] %s exited", job.ID()),
			map[string]interface{}{"aircheck_id": job.ID(), "exit_code": exitCode})
		h.Settle(exitCode, nil, out.String())
	}()

	return h
}
