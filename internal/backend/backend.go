// Package backend provides the gateway to the transcription backend.
// The backend may be a persistently running service or one provisioned
// on demand; callers see the same Gateway interface either way.
package backend

import (
	"context"
	"errors"
)

// Failure classification. The scheduler's retry policy keys off these:
// unavailable and timeout are transient, rejected and missing input are
// terminal.
var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendRejected    = errors.New("backend rejected job")
	ErrInputMissing       = errors.New("input media missing")
)

// Params are the transcription options for a single invocation.
type Params struct {
	Model    string
	Language string
}

// Result is a successful transcription outcome.
type Result struct {
	Text         string
	Language     string
	SegmentCount int
	ModelUsed    string
}

// Gateway invokes transcription on the backend. Implementations enforce
// the invoke timeout themselves and never retry internally; retries are
// the scheduler's responsibility.
type Gateway interface {
	// Invoke transcribes the media at sourceLocation. Errors wrap one of
	// the classification sentinels above.
	Invoke(ctx context.Context, jobID string, sourceLocation string, params Params) (*Result, error)

	// Healthy reports whether the backend can take work.
	Healthy(ctx context.Context) bool
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrBackendTimeout)
}
