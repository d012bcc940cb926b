package backend

import (
	"context"
	"fmt"
)

// Provisioner is the lifecycle manager surface the gateway needs. It is
// satisfied by *lifecycle.Manager.
type Provisioner interface {
	// Ensure blocks until the backend is ready to take work.
	Ensure(ctx context.Context) error

	// Touch records an invocation so the idle reaper does not reclaim
	// the backend mid-stream.
	Touch()

	// Provisioned reports whether a backend process is currently live.
	Provisioned() bool
}

// ManagedGateway wraps an inner gateway with on-demand provisioning:
// before every invoke it makes one provisioning attempt through the
// lifecycle manager, and after a successful invoke it refreshes the
// idle timer.
type ManagedGateway struct {
	inner       Gateway
	provisioner Provisioner
}

// NewManagedGateway creates a gateway whose backend is started on demand.
func NewManagedGateway(inner Gateway, provisioner Provisioner) *ManagedGateway {
	return &ManagedGateway{inner: inner, provisioner: provisioner}
}

// Invoke ensures a live backend, then delegates. A provisioning failure
// surfaces as ErrBackendUnavailable so the retry policy treats it as
// transient.
func (g *ManagedGateway) Invoke(ctx context.Context, jobID string, sourceLocation string, params Params) (*Result, error) {
	if err := g.provisioner.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	result, err := g.inner.Invoke(ctx, jobID, sourceLocation, params)
	if err != nil {
		return nil, err
	}

	g.provisioner.Touch()
	return result, nil
}

// Healthy reports backend health. A reclaimed (stopped) backend is not
// unhealthy: it will be provisioned again on the next invoke.
func (g *ManagedGateway) Healthy(ctx context.Context) bool {
	if !g.provisioner.Provisioned() {
		return true
	}
	return g.inner.Healthy(ctx)
}
