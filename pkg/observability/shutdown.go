package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the HTTP servers first, then runs the registered
// hooks (worker pool, cron scheduler, store, tracing) in registration order.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	hooks   []namedShutdown
	timeout time.Duration
	mu      sync.Mutex
	once    sync.Once
	err     error
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		servers: servers,
		timeout: timeout,
	}
}

// Register adds a named hook.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, namedShutdown{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is cancelled, then shuts down.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	sm.logger.Info("Shutdown requested, draining")
	return sm.Shutdown(context.Background())
}

// WaitOrFail is WaitForShutdown that also shuts down when a value arrives
// on failures. The failure is returned unless shutdown itself failed.
func (sm *ShutdownManager) WaitOrFail(ctx context.Context, failures <-chan error) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	failed := make(chan error, 1)
	go func() {
		defer close(failed)
		select {
		case err := <-failures:
			sm.logger.WithError(err).Error("Server failed, shutting down")
			failed <- err
			stop()
		case <-ctx.Done():
		}
	}()

	err := sm.WaitForShutdown(ctx)
	stop()
	failure := <-failed
	if err != nil {
		return err
	}
	return failure
}

// Shutdown runs the shutdown sequence once; later calls return the first result.
func (sm *ShutdownManager) Shutdown(parent context.Context) error {
	sm.once.Do(func() {
		ctx, cancel := context.WithTimeout(parent, sm.timeout)
		defer cancel()
		sm.err = sm.run(ctx)
	})
	return sm.err
}

func (sm *ShutdownManager) run(ctx context.Context) error {
	var failed int

	for _, srv := range sm.servers {
		if err := srv.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server shutdown error")
			failed++
		}
	}

	sm.mu.Lock()
	hooks := append([]namedShutdown(nil), sm.hooks...)
	sm.mu.Unlock()

	for _, h := range hooks {
		if ctx.Err() != nil {
			sm.logger.Warn("Shutdown timeout reached, skipping remaining hooks")
			return fmt.Errorf("shutdown timeout reached")
		}
		if err := h.fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("hook", h.name).Error("Shutdown hook failed")
			failed++
			continue
		}
		sm.logger.WithField("hook", h.name).Debug("Shutdown hook complete")
	}

	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
