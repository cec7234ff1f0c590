package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"mirage/internal/config"
	"mirage/internal/logging"
)

// Manager runs the claim loop: reclaim stale runs, claim, process, sleep when
// idle. One manager per data directory, enforced with a file lock.
type Manager struct {
	orchestrator *Orchestrator
	cfg          *config.Config
	logger       *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lock    *flock.Flock
	running bool
}

// NewManager builds a Manager around an orchestrator.
func NewManager(orchestrator *Orchestrator, cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "worker-manager"),
	}
}

// Start acquires the worker lock and launches the poll loop. A second Start
// without Stop is an error, as is another process already holding the lock.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("worker manager already started")
	}

	lockPath := filepath.Join(m.cfg.Paths.DataDir, "worker.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire worker lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another worker holds %s", lockPath)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lock = lock
	m.running = true

	go m.loop(loopCtx, m.done)
	m.logger.Info("worker started", logging.String("lock", lockPath))
	return nil
}

// Stop cancels the loop, waits for in-flight work, and releases the lock.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	lock := m.lock
	m.running = false
	m.cancel = nil
	m.done = nil
	m.lock = nil
	m.mu.Unlock()

	cancel()
	<-done
	if err := lock.Unlock(); err != nil {
		m.logger.Warn("release worker lock", logging.Error(err))
	}
	m.logger.Info("worker stopped")
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	poll := time.Duration(m.cfg.Worker.PollInterval) * time.Second
	retry := time.Duration(m.cfg.Worker.ErrorRetryInterval) * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if err := m.orchestrator.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("reclaim pass failed", logging.Error(err))
		}

		claimed, err := m.orchestrator.ClaimAndProcessNext(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			m.logger.Error("claim failed", logging.Error(err))
			if !sleep(ctx, retry) {
				return
			}
		case !claimed:
			if !sleep(ctx, poll) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
