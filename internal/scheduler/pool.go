package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/psantana5/airplay-fetch/internal/getmedia"
	"github.com/psantana5/airplay-fetch/pkg/metrics"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

// ErrStragglers is returned by Shutdown when processes had to be killed
var ErrStragglers = errors.New("killed straggling launches")

// Future settles when the launch call for its job returned. Settling says
// nothing about the artifact; only the probe does.
type Future struct {
	Job  models.Creative
	done chan struct{}

	mu     sync.Mutex
	handle *getmedia.Handle
}

func newFuture(job models.Creative) *Future {
	return &Future{Job: job, done: make(chan struct{})}
}

// Done is closed once the launch returned
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the launch returned
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// LaunchErr returns the launch error of a settled future, nil otherwise
func (f *Future) LaunchErr() error {
	if !f.Settled() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle == nil {
		return nil
	}
	return f.handle.Err()
}

// Handle returns the process handle once the job was started
func (f *Future) Handle() *getmedia.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle
}

// Pool bounds concurrent launches. Jobs start in submission order; a
// job that never finishes keeps its slot until Shutdown.
type Pool struct {
	launcher getmedia.Launcher
	rec      *metrics.Recorder
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Future
	closed   bool
	inFlight int
	wg       sync.WaitGroup
}

// NewPool starts size workers. Launched processes are bound to a context
// derived from ctx that Shutdown cancels after the grace period.
func NewPool(ctx context.Context, size int, launcher getmedia.Launcher, rec *metrics.Recorder) *Pool {
	if size < 1 {
		size = 1
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		launcher: launcher,
		rec:      rec,
		ctx:      pctx,
		cancel:   cancel,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit queues job and returns its future. It never blocks.
func (p *Pool) Submit(job models.Creative) *Future {
	f := newFuture(job)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		f.mu.Lock()
		f.handle = getmedia.NewHandle(job.ID())
		f.handle.Settle(-1, errors.Join(getmedia.ErrLaunch, errors.New("pool is shut down")), "")
		f.mu.Unlock()
		close(f.done)
		return f
	}
	p.queue = append(p.queue, f)
	p.cond.Signal()
	return f
}

// InFlight returns the number of launches currently holding a slot
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

func (p *Pool) next() (*Future, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	f := p.queue[0]
	p.queue = p.queue[1:]
	p.inFlight++
	return f, true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		f, ok := p.next()
		if !ok {
			return
		}
		p.run(f)
	}
}

func (p *Pool) run(f *Future) {
	p.rec.LaunchStarted()
	h := p.launcher.Launch(p.ctx, f.Job)

	f.mu.Lock()
	f.handle = h
	f.mu.Unlock()

	<-h.Done()
	p.rec.LaunchFinished(h.Err())

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	close(f.done)
}

// Shutdown stops accepting work and waits for every launch to return.
// After grace the remaining processes are killed; grace <= 0 kills them at
// once.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if grace < 0 {
		grace = 0
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		stragglers := p.InFlight()
		p.cancel()
		<-done
		if stragglers > 0 {
			return ErrStragglers
		}
		return nil
	}
}
