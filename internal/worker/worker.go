// Package worker implements the polling claim loop that drives queued
// jobs through their scrape lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/metrics"
	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// Config holds the tunables of one worker process.
type Config struct {
	// PollInterval is the pause between claim attempts.
	PollInterval time.Duration
	// Concurrency bounds how many jobs are scraped at once.
	Concurrency int
	// JobTimeout bounds a single adapter invocation.
	JobTimeout time.Duration
	// ShutdownGrace is how long in-flight jobs may run after the run
	// context is cancelled before they are abandoned and requeued.
	ShutdownGrace time.Duration
	// StaleClaimAfter is the age at which a processing row left behind by
	// a dead worker is reclaimed at startup. Zero derives a threshold
	// from the poll interval.
	StaleClaimAfter time.Duration
	// EventTopic, when non-empty, receives a message for every terminal
	// transition.
	EventTopic string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 60 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.StaleClaimAfter <= 0 {
		c.StaleClaimAfter = 2 * c.PollInterval * time.Duration(scraper.DefaultMaxRetries+1)
	}
}

// Event is the message published on terminal transitions.
type Event struct {
	JobID      string            `json:"job_id"`
	Status     scraper.JobStatus `json:"status"`
	Platform   string            `json:"platform"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Worker polls the store for queued jobs, claims them, dispatches each to
// the resolved adapter, and applies the resulting transition.
type Worker struct {
	id        string
	store     scraper.JobStore
	resolver  scraper.AdapterResolver
	policy    *scraper.BackoffPolicy
	clock     scraper.Clock
	publisher scraper.Publisher
	cfg       Config
	logger    *zap.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// New creates a Worker. The publisher may be nil, in which case terminal
// events are not emitted.
func New(
	id string,
	store scraper.JobStore,
	resolver scraper.AdapterResolver,
	policy *scraper.BackoffPolicy,
	clock scraper.Clock,
	publisher scraper.Publisher,
	cfg Config,
	logger *zap.Logger,
) (*Worker, error) {
	if id == "" {
		return nil, errors.New("worker id is required")
	}
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if resolver == nil {
		return nil, errors.New("adapter resolver is required")
	}
	if policy == nil {
		policy = scraper.NewBackoffPolicy(0)
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	metrics.Init()
	return &Worker{
		id:        id,
		store:     store,
		resolver:  resolver,
		policy:    policy,
		clock:     clock,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With(zap.String("worker_id", id)),
		slots:     make(chan struct{}, cfg.Concurrency),
	}, nil
}

// Run reconciles stale claims, then polls until ctx is cancelled. On
// cancellation no new jobs are claimed; in-flight jobs get ShutdownGrace
// to finish before being abandoned and requeued.
func (w *Worker) Run(ctx context.Context) error {
	w.reconcile(ctx)

	// Jobs run on their own context so that cancelling the loop does not
	// instantly kill scrapes that could still finish within the grace
	// window.
	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("concurrency", w.cfg.Concurrency))

	w.poll(ctx, jobsCtx)
	for {
		select {
		case <-ctx.Done():
			w.drain(cancelJobs)
			w.logger.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx, jobsCtx)
		}
	}
}

func (w *Worker) reconcile(ctx context.Context) {
	requeued, failed, err := w.store.ReclaimStale(ctx, w.cfg.StaleClaimAfter)
	if err != nil {
		w.logger.Error("stale claim reconciliation failed", zap.Error(err))
		return
	}
	if requeued > 0 || failed > 0 {
		w.logger.Warn("reclaimed stale processing claims",
			zap.Int("requeued", requeued),
			zap.Int("failed", failed))
	}
	metrics.ObserveStaleReclaim(requeued, failed)
}

func (w *Worker) poll(ctx context.Context, jobsCtx context.Context) {
	free := cap(w.slots) - len(w.slots)
	if free == 0 {
		return
	}
	jobs, err := w.store.Claim(ctx, w.id, free)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("claim poll failed", zap.Error(err))
		metrics.ObservePollError()
		return
	}
	metrics.ObserveClaimBatch(len(jobs))
	if len(jobs) == 0 {
		return
	}
	w.logger.Debug("claimed jobs", zap.Int("count", len(jobs)))
	for _, job := range jobs {
		w.slots <- struct{}{}
		w.wg.Add(1)
		go w.runJob(jobsCtx, job)
	}
}

func (w *Worker) drain(cancelJobs context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn("shutdown grace elapsed, abandoning in-flight jobs")
		cancelJobs()
		<-done
	}
}

func (w *Worker) runJob(ctx context.Context, job scraper.Job) {
	defer func() {
		<-w.slots
		w.wg.Done()
		metrics.DecActiveJobs()
	}()
	metrics.IncActiveJobs()

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("target", job.TargetURL),
		zap.Int("retry_count", job.RetryCount))

	adapter := w.resolver.Resolve(job)
	if adapter == nil {
		logger.Error("no adapter for job")
		w.applyFailed(ctx, job, "no adapter configured for target", logger)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	start := w.clock.Now()
	payload, err := adapter.Scrape(jobCtx, job)
	metrics.ObserveAdapter(string(job.Platform), w.clock.Now().Sub(start))

	if err == nil {
		w.applyCompleted(ctx, job, payload, logger)
		return
	}

	if failure, ok := scraper.AsFailure(err); ok {
		w.applyFailure(ctx, job, failure, logger)
		return
	}

	// The loop context was cancelled underneath the job: the worker is
	// shutting down past its grace window. Hand the claim back.
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		w.abandon(job, logger)
		return
	}

	// A deadline the adapter did not translate itself is still a
	// transient timeout as far as the retry policy is concerned.
	if errors.Is(err, context.DeadlineExceeded) {
		w.applyFailure(ctx, job, scraper.Failf(scraper.FailureTimeout, "scrape exceeded %s budget", w.cfg.JobTimeout), logger)
		return
	}

	logger.Error("adapter returned hard error", zap.Error(err))
	w.applyFailed(ctx, job, err.Error(), logger)
}

func (w *Worker) applyCompleted(ctx context.Context, job scraper.Job, payload scraper.Payload, logger *zap.Logger) {
	if err := w.store.MarkCompleted(ctx, job.ID, payload); err != nil {
		w.logTransitionError("complete", job, err, logger)
		return
	}
	logger.Info("job completed")
	metrics.ObserveJobOutcome("completed")
	w.publishEvent(ctx, job, scraper.JobStatusCompleted)
}

func (w *Worker) applyFailure(ctx context.Context, job scraper.Job, failure *scraper.ScrapeFailure, logger *zap.Logger) {
	decision := w.policy.Decide(job.RetryCount, job.MaxRetries, failure.Kind)
	if !decision.Requeue {
		w.applyFailed(ctx, job, failure.Error(), logger)
		return
	}
	if err := w.store.RequeueForRetry(ctx, job.ID, failure.Error(), decision.Delay); err != nil {
		w.logTransitionError("requeue", job, err, logger)
		return
	}
	logger.Info("job requeued for retry",
		zap.String("failure_kind", string(failure.Kind)),
		zap.Duration("delay", decision.Delay))
	metrics.ObserveJobOutcome("requeued")
	metrics.ObserveRetry()
}

func (w *Worker) applyFailed(ctx context.Context, job scraper.Job, errMsg string, logger *zap.Logger) {
	if err := w.store.MarkFailed(ctx, job.ID, errMsg); err != nil {
		w.logTransitionError("fail", job, err, logger)
		return
	}
	logger.Warn("job failed terminally", zap.String("error_message", errMsg))
	metrics.ObserveJobOutcome("failed")
	w.publishEvent(ctx, job, scraper.JobStatusFailed)
}

// abandon hands a claim back to the queue during shutdown. Transition
// calls use a fresh short-lived context because every long-lived one is
// already cancelled at this point.
func (w *Worker) abandon(job scraper.Job, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := fmt.Sprintf("worker %s shut down before completion", w.id)
	if err := w.store.RequeueForRetry(ctx, job.ID, msg, 0); err != nil {
		if errors.Is(err, scraper.ErrClaimLost) {
			// Retries already exhausted; the row cannot go back to queued.
			w.applyFailed(ctx, job, msg, logger)
			return
		}
		w.logTransitionError("abandon", job, err, logger)
		return
	}
	logger.Warn("job abandoned on shutdown, requeued")
	metrics.ObserveJobOutcome("requeued")
	metrics.ObserveRetry()
}

func (w *Worker) logTransitionError(action string, job scraper.Job, err error, logger *zap.Logger) {
	if errors.Is(err, scraper.ErrClaimLost) {
		logger.Warn("claim lost before transition", zap.String("action", action))
		return
	}
	logger.Error("store transition failed", zap.String("action", action), zap.Error(err))
}

func (w *Worker) publishEvent(ctx context.Context, job scraper.Job, status scraper.JobStatus) {
	if w.publisher == nil || w.cfg.EventTopic == "" {
		return
	}
	event := Event{
		JobID:      job.ID,
		Status:     status,
		Platform:   string(job.Platform),
		OccurredAt: w.clock.Now().UTC(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.EventTopic, event); err != nil {
		w.logger.Warn("event publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
