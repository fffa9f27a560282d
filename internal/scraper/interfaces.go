package scraper

import (
	"context"
	"errors"
	"time"
)

// ErrClaimLost is returned by conditional store updates when the row was
// no longer in the expected prior status. The worker treats the job as
// lost to another claimant and moves on.
var ErrClaimLost = errors.New("job transition lost: row not in expected status")

// ErrJobNotFound is returned when a job ID does not exist in the store.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists jobs and enforces the status transition rules.
// Every mutation is a conditional write keyed on the row's current status.
type JobStore interface {
	// CreateJob inserts a new job in queued status (producer boundary).
	CreateJob(ctx context.Context, job Job) error
	// GetJob fetches a job by ID (consumer boundary).
	GetJob(ctx context.Context, jobID string) (Job, error)
	// Claim atomically flips up to limit eligible queued rows to
	// processing, oldest first, and returns the claimed jobs. Two
	// concurrent claimants never both receive the same row.
	Claim(ctx context.Context, workerID string, limit int) ([]Job, error)
	// MarkCompleted stores the payload and finishes the job.
	MarkCompleted(ctx context.Context, jobID string, payload Payload) error
	// RequeueForRetry returns the job to the queue with retry_count+1,
	// eligible again after delay.
	RequeueForRetry(ctx context.Context, jobID string, errMsg string, delay time.Duration) error
	// MarkFailed terminally fails the job.
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
	// ReclaimStale requeues processing rows whose updated_at is older than
	// olderThan (worker died without a graceful shutdown). Rows with
	// exhausted retries are failed instead. Returns requeued and failed
	// row counts.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (requeued int, failed int, err error)
}

// Adapter performs the actual data collection for one category of target.
// Ordinary collection failures are returned as *ScrapeFailure values;
// other errors indicate adapter misconfiguration.
type Adapter interface {
	Scrape(ctx context.Context, job Job) (Payload, error)
}

// AdapterResolver maps a job to the adapter that should handle it. Mock
// mode is a resolver that always returns the mock adapter; business logic
// never checks a mock flag.
type AdapterResolver interface {
	Resolve(job Job) Adapter
}

// Publisher pushes terminal-transition events downstream (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Archive stores bounded raw artifacts and returns a URI.
type Archive interface {
	Save(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
