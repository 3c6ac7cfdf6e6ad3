// Package lifecycle manages the daemon's startup and graceful shutdown:
// signal interception, root-context cancellation, ordered shutdown hooks,
// and marking requests that were interrupted by a restart.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownConfig configures the shutdown behavior.
type ShutdownConfig struct {
	GracePeriod time.Duration // time given to hooks before they are abandoned
}

// DefaultShutdownConfig returns sensible defaults.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{GracePeriod: 10 * time.Second}
}

// ShutdownHook is called during shutdown. Name is for logging.
type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Manager coordinates the daemon process lifecycle.
type Manager struct {
	config  ShutdownConfig
	logger  *slog.Logger
	started time.Time

	mu       sync.Mutex
	hooks    []ShutdownHook
	shutdown bool
}

// NewManager creates a lifecycle manager.
func NewManager(config ShutdownConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:  config,
		logger:  logger,
		started: time.Now(),
	}
}

// OnShutdown registers a hook to run during shutdown. Hooks run in
// registration order.
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, ShutdownHook{Name: name, Fn: fn})
}

// Run installs signal handlers, runs mainFn with a cancellable root
// context, and returns the process exit code. SIGTERM/SIGINT cancel the
// context and run the hooks within the grace period.
func (m *Manager) Run(mainFn func(ctx context.Context) error) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mainFn(ctx)
	}()

	select {
	case sig := <-sigCh:
		m.logger.Info("received signal, shutting down",
			"signal", sig.String(),
			"uptime", time.Since(m.started).String(),
		)
		cancel()
		m.runHooks(m.config.GracePeriod)
		return 0

	case err := <-errCh:
		if err != nil {
			m.logger.Error("daemon exited with error", "error", err)
			m.runHooks(5 * time.Second)
			return 1
		}
		m.runHooks(5 * time.Second)
		return 0
	}
}

// Uptime returns how long the process has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.started)
}

func (m *Manager) runHooks(timeout time.Duration) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	hooks := make([]ShutdownHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, hook := range hooks {
		m.logger.Info("running shutdown hook", "name", hook.Name)
		if err := hook.Fn(ctx); err != nil {
			m.logger.Error("shutdown hook failed", "name", hook.Name, "error", err)
		}
	}

	m.logger.Info("shutdown complete", "uptime", time.Since(m.started).String())
}

// InterruptedMarker flips non-terminal request statuses left behind by a
// previous process to FAILED. Satisfied by *audit.Store.
type InterruptedMarker interface {
	MarkInterrupted(reason string) (int, error)
}

// RecoverRequests runs crash recovery at startup: any request the previous
// process left QUEUED or RUNNING can never finish, so it is failed with an
// explanatory reason instead of dangling forever.
func RecoverRequests(logger *slog.Logger, store InterruptedMarker) {
	n, err := store.MarkInterrupted("interrupted by daemon restart")
	if err != nil {
		logger.Error("crash recovery failed", "error", err)
		return
	}
	if n > 0 {
		logger.Warn("recovered interrupted requests", "count", n)
	}
}
