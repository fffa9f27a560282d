// Package memory provides an in-memory job store for mock mode and tests.
// It enforces the same transition rules as the Postgres store: every
// mutation is conditional on the row's current status.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// JobStore implements scraper.JobStore with a mutex-guarded map.
type JobStore struct {
	mu    sync.Mutex
	jobs  map[string]scraper.Job
	clock scraper.Clock
}

// NewJobStore constructs a JobStore. The clock drives all transition
// timestamps so tests can control time.
func NewJobStore(clock scraper.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]scraper.Job),
		clock: clock,
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if !scraper.ValidTargetURL(job.TargetURL) {
		return fmt.Errorf("target url %q is not a valid absolute URL", job.TargetURL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	now := s.clock.Now()
	job.Status = scraper.JobStatusQueued
	job.RetryCount = 0
	if job.MaxRetries <= 0 {
		job.MaxRetries = scraper.DefaultMaxRetries
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrJobNotFound
	}
	return job, nil
}

// Claim flips up to limit eligible queued rows to processing, oldest
// first. The mutex makes the read-and-flip atomic, mirroring the
// conditional update in the Postgres store.
func (s *JobStore) Claim(_ context.Context, workerID string, limit int) ([]scraper.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var eligible []scraper.Job
	for _, job := range s.jobs {
		if job.Status == scraper.JobStatusQueued && !job.NextAttemptAt.After(now) {
			eligible = append(eligible, job)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]scraper.Job, 0, len(eligible))
	for _, job := range eligible {
		started := now
		job.Status = scraper.JobStatusProcessing
		job.ClaimedBy = workerID
		job.StartedAt = &started
		job.ErrorMessage = ""
		job.UpdatedAt = now
		s.jobs[job.ID] = job
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// MarkCompleted stores the payload and finishes the job.
func (s *JobStore) MarkCompleted(_ context.Context, jobID string, payload scraper.Payload) error {
	return s.transition(jobID, func(job *scraper.Job, now time.Time) {
		data := payload
		job.Status = scraper.JobStatusCompleted
		job.ScrapedData = &data
		job.ErrorMessage = ""
		job.CompletedAt = &now
	})
}

// RequeueForRetry returns the job to the queue with retry_count+1.
func (s *JobStore) RequeueForRetry(_ context.Context, jobID string, errMsg string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != scraper.JobStatusProcessing || job.RetryCount >= job.MaxRetries {
		return scraper.ErrClaimLost
	}
	now := s.clock.Now()
	job.Status = scraper.JobStatusQueued
	job.RetryCount++
	job.ErrorMessage = errMsg
	job.ClaimedBy = ""
	job.StartedAt = nil
	job.NextAttemptAt = now.Add(delay)
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return nil
}

// MarkFailed terminally fails the job.
func (s *JobStore) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	return s.transition(jobID, func(job *scraper.Job, now time.Time) {
		job.Status = scraper.JobStatusFailed
		job.ErrorMessage = errMsg
		job.CompletedAt = &now
	})
}

// ReclaimStale requeues or fails processing rows abandoned by a dead worker.
func (s *JobStore) ReclaimStale(_ context.Context, olderThan time.Duration) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cutoff := now.Add(-olderThan)
	var requeued, failed int
	for id, job := range s.jobs {
		if job.Status != scraper.JobStatusProcessing || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.ErrorMessage = "reclaimed: worker abandoned processing claim"
		job.UpdatedAt = now
		if job.RetryCount >= job.MaxRetries {
			done := now
			job.Status = scraper.JobStatusFailed
			job.CompletedAt = &done
			failed++
		} else {
			job.Status = scraper.JobStatusQueued
			job.RetryCount++
			job.ClaimedBy = ""
			job.StartedAt = nil
			job.NextAttemptAt = now
			requeued++
		}
		s.jobs[id] = job
	}
	return requeued, failed, nil
}

func (s *JobStore) transition(jobID string, apply func(job *scraper.Job, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != scraper.JobStatusProcessing {
		return scraper.ErrClaimLost
	}
	now := s.clock.Now()
	apply(&job, now)
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return nil
}
