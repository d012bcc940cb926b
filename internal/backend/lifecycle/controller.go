// Package lifecycle manages the on-demand transcription backend process:
// it provisions the process before work arrives, health-gates startup,
// and reclaims the process after a period of idleness.
package lifecycle

import "context"

// ProcessController abstracts the concrete provisioning mechanism
// (container runtime, subprocess, remote API) so the manager's state
// machine is testable against a fake.
type ProcessController interface {
	// IsRunning reports whether the backend process currently exists
	// and is running.
	IsRunning(ctx context.Context) (bool, error)

	// Start launches the backend process. Implementations must first
	// force-remove any stale process left over from a previous run.
	Start(ctx context.Context) error

	// Stop terminates and removes the backend process. Stopping an
	// already-stopped process is not an error.
	Stop(ctx context.Context) error

	// HealthCheck probes the backend. It returns nil only when the
	// backend is ready to take work.
	HealthCheck(ctx context.Context) error
}
