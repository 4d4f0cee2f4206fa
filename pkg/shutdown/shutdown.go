package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/logging"
)

// Manager releases run resources in reverse registration order
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
	once          sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Shutdown executes all registered shutdown functions once and returns
// the number of functions that failed.
func (m *Manager) Shutdown() int {
	failed := 0
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
			nf := m.shutdownFuncs[i]
			if err := nf.fn(ctx); err != nil {
				failed++
				m.logger.Error(fmt.Sprintf("[Shutdown] %s: %v", nf.name, err))
				continue
			}
			m.logger.Debug(fmt.Sprintf("[Shutdown] %s released", nf.name))
		}
	})
	return failed
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close: %w", err)
		}
		return nil
	}
}
