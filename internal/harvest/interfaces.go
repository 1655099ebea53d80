package harvest

import (
	"context"
	"time"
)

// Driver is the single authenticated browsing session. Every method is a
// suspension point; implementations are not safe for concurrent navigations.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// WaitFor returns an error wrapping ErrWaitTimeout when selector does not
	// appear within timeout.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, out any) error
	OuterHTML(ctx context.Context, selector string) (string, error)
	CaptureRegion(ctx context.Context, selector string) ([]byte, error)
	CapturePage(ctx context.Context) ([]byte, error)
}

// ArtifactStore persists binary and text blobs by key.
type ArtifactStore interface {
	// Write stores data under key and returns a URI describing the location.
	Write(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// Read returns the stored bytes or an error wrapping ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Throttle spaces subject attempts. Acquire blocks until the next attempt may
// start; Release marks the end of an attempt.
type Throttle interface {
	Acquire(ctx context.Context) error
	Release()
}

// RosterSource yields subjects in source order.
type RosterSource interface {
	Load(ctx context.Context) ([]Subject, error)
}

// DeltaSource computes the identifiers with new activity in a window.
type DeltaSource interface {
	Compute(ctx context.Context, window Window) (DeltaSet, error)
}

// SubjectExtractor walks one subject to a terminal Result.
type SubjectExtractor interface {
	Extract(ctx context.Context, subject Subject) Result
}

// Ledger records terminal results outside the export.
type Ledger interface {
	Record(ctx context.Context, runID string, result Result) error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
