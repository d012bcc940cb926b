package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrProvisionFailed is returned when the backend did not become healthy
// within the startup budget.
var ErrProvisionFailed = errors.New("backend provisioning failed")

// HandleState is the lifecycle state of the managed backend process.
type HandleState string

const (
	StateStopped  HandleState = "stopped"
	StateStarting HandleState = "starting"
	StateReady    HandleState = "ready"
	StateStopping HandleState = "stopping"
)

// ManagerConfig controls startup gating and idle reclamation.
type ManagerConfig struct {
	// StartupBudget bounds how long a start may take before it is
	// declared failed. Exceeding it is a hard failure, not a fallback.
	StartupBudget time.Duration

	// HealthPollInterval is the probe cadence while starting.
	HealthPollInterval time.Duration

	// IdleTimeout is how long the backend may sit unused before it is
	// reclaimed. Zero disables the reaper.
	IdleTimeout time.Duration
}

// Manager owns the single Backend Handle for this deployment. All state
// transitions are serialized under one lifecycle mutex; the mutex is held
// only for the transition itself, never across a start, stop, or invoke.
type Manager struct {
	ctrl   ProcessController
	cfg    ManagerConfig
	logger *slog.Logger

	mu         sync.Mutex
	state      HandleState
	startedAt  time.Time
	lastUsedAt time.Time
	// settled is non-nil while a start or stop is in flight; it is
	// closed when the transition completes so waiters can re-check.
	settled chan struct{}

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewManager creates a manager with the handle in the stopped state and
// starts the idle reaper if an idle timeout is configured.
func NewManager(ctrl ProcessController, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.StartupBudget <= 0 {
		cfg.StartupBudget = 2 * time.Minute
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = 2 * time.Second
	}

	m := &Manager{
		ctrl:       ctrl,
		cfg:        cfg,
		logger:     logger,
		state:      StateStopped,
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	if cfg.IdleTimeout > 0 {
		go m.reap()
	} else {
		close(m.reaperDone)
	}

	return m
}

// State returns the current handle state.
func (m *Manager) State() HandleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Provisioned reports whether a backend process is currently live
// (ready or on its way up).
func (m *Manager) Provisioned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady || m.state == StateStarting
}

// Touch records an invocation, restarting the idle timer.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.lastUsedAt = time.Now()
	m.mu.Unlock()
}

// Ensure blocks until the backend is ready. Exactly one caller drives a
// start; concurrent callers observe the in-flight transition and wait for
// it to settle instead of launching a duplicate process.
func (m *Manager) Ensure(ctx context.Context) error {
	for {
		m.mu.Lock()
		switch m.state {
		case StateReady:
			m.mu.Unlock()
			return nil

		case StateStarting, StateStopping:
			settled := m.settled
			m.mu.Unlock()
			if settled == nil {
				// The transition holder is between closing its channel
				// and publishing the settled state; re-check shortly
				// instead of selecting on a nil channel.
				select {
				case <-time.After(10 * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			select {
			case <-settled:
				// Re-check: the transition may have failed or the
				// backend may have gone straight back down.
			case <-ctx.Done():
				return ctx.Err()
			}

		case StateStopped:
			m.state = StateStarting
			m.settled = make(chan struct{})
			m.mu.Unlock()

			err := m.start(ctx)

			m.mu.Lock()
			switch {
			case m.state != StateStarting:
				// Shutdown intervened mid-start.
				if err == nil {
					err = fmt.Errorf("%w: manager shut down during start", ErrProvisionFailed)
				}
			case err != nil:
				m.state = StateStopped
			default:
				now := time.Now()
				m.state = StateReady
				m.startedAt = now
				m.lastUsedAt = now
			}
			close(m.settled)
			m.settled = nil
			m.mu.Unlock()

			return err
		}
	}
}

// start launches the process and health-gates it within the startup
// budget. Called without the lifecycle mutex held.
func (m *Manager) start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartupBudget)
	defer cancel()

	m.logger.Info("starting transcription backend")

	if err := m.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}

	ticker := time.NewTicker(m.cfg.HealthPollInterval)
	defer ticker.Stop()

	for {
		probeCtx, probeCancel := context.WithTimeout(ctx, m.cfg.HealthPollInterval)
		err := m.ctrl.HealthCheck(probeCtx)
		probeCancel()
		if err == nil {
			m.logger.Info("transcription backend ready")
			return nil
		}

		select {
		case <-ctx.Done():
			// Budget exceeded. Tear the half-started process down so the
			// next attempt starts clean.
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if stopErr := m.ctrl.Stop(stopCtx); stopErr != nil {
				m.logger.Warn("failed to stop backend after startup failure", "error", stopErr)
			}
			stopCancel()
			return fmt.Errorf("%w: not healthy within %v", ErrProvisionFailed, m.cfg.StartupBudget)
		case <-ticker.C:
		}
	}
}

// reap stops the backend after the idle timeout elapses with no
// invocation. Reclamation is best-effort: a failed stop is logged and the
// next start force-removes the stale process.
func (m *Manager) reap() {
	defer close(m.reaperDone)

	interval := m.cfg.IdleTimeout / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.reaperStop:
			return
		case <-ticker.C:
			m.mu.Lock()
			idle := m.state == StateReady && time.Since(m.lastUsedAt) >= m.cfg.IdleTimeout
			if !idle {
				m.mu.Unlock()
				continue
			}
			m.state = StateStopping
			m.settled = make(chan struct{})
			m.mu.Unlock()

			m.logger.Info("reclaiming idle transcription backend", "idle_timeout", m.cfg.IdleTimeout.String())

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.ctrl.Stop(stopCtx); err != nil {
				m.logger.Warn("failed to stop idle backend", "error", err)
			}
			cancel()

			m.mu.Lock()
			m.state = StateStopped
			close(m.settled)
			m.settled = nil
			m.mu.Unlock()
		}
	}
}

// Shutdown stops the reaper and tears down any live backend process.
func (m *Manager) Shutdown(ctx context.Context) error {
	select {
	case <-m.reaperStop:
	default:
		close(m.reaperStop)
	}

	select {
	case <-m.reaperDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	m.mu.Unlock()

	err := m.ctrl.Stop(ctx)

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to stop backend: %w", err)
	}
	return nil
}
