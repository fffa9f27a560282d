// Package postgres provides the Postgres-backed job store. The job table
// doubles as the work queue: claiming is a single conditional update over
// FOR UPDATE SKIP LOCKED so concurrent workers never share a row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osintwatch/scrapeworker/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore implements scraper.JobStore on Postgres.
type JobStore struct {
	pool  dbConn
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scrape_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbConn, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const claimColumns = `id, target_url, target_username, platform, search_type, status,
	error_message, retry_count, max_retries, claimed_by, next_attempt_at,
	started_at, completed_at, created_at, updated_at`

// CreateJob inserts a new job in queued status.
func (s *JobStore) CreateJob(ctx context.Context, job scraper.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if !scraper.ValidTargetURL(job.TargetURL) {
		return fmt.Errorf("target url %q is not a valid absolute URL", job.TargetURL)
	}
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = scraper.DefaultMaxRetries
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, target_url, target_username, platform, search_type, status,
	error_message, retry_count, max_retries, claimed_by, next_attempt_at,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,'queued','',0,$6,'',now(),now(),now())`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		job.ID,
		job.TargetURL,
		job.TargetUsername,
		string(job.Platform),
		string(job.SearchType),
		maxRetries,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	query := fmt.Sprintf(`
SELECT id, target_url, target_username, platform, search_type, status,
	scraped_data, error_message, retry_count, max_retries, claimed_by,
	next_attempt_at, started_at, completed_at, created_at, updated_at
FROM %s WHERE id = $1`, s.table)

	var (
		job         scraper.Job
		platform    string
		searchType  string
		status      string
		scrapedData []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.TargetURL,
		&job.TargetUsername,
		&platform,
		&searchType,
		&status,
		&scrapedData,
		&job.ErrorMessage,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ClaimedBy,
		&job.NextAttemptAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Job{}, scraper.ErrJobNotFound
	}
	if err != nil {
		return scraper.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Platform = scraper.Platform(platform)
	job.SearchType = scraper.SearchType(searchType)
	job.Status = scraper.JobStatus(status)
	if len(scrapedData) > 0 {
		var payload scraper.Payload
		if err := json.Unmarshal(scrapedData, &payload); err != nil {
			return scraper.Job{}, fmt.Errorf("decode scraped data: %w", err)
		}
		job.ScrapedData = &payload
	}
	return job, nil
}

// Claim atomically flips up to limit eligible queued rows to processing,
// oldest first. The inner select uses FOR UPDATE SKIP LOCKED so a
// concurrent claimant sees locked rows as ineligible rather than
// blocking or double-claiming.
func (s *JobStore) Claim(ctx context.Context, workerID string, limit int) ([]scraper.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
UPDATE %[1]s SET
	status = 'processing',
	claimed_by = $1,
	started_at = now(),
	error_message = '',
	updated_at = now()
WHERE id IN (
	SELECT id FROM %[1]s
	WHERE status = 'queued' AND next_attempt_at <= now()
	ORDER BY created_at ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING `+claimColumns, s.table)

	rows, err := s.pool.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scraper.Job
	for rows.Next() {
		var (
			job        scraper.Job
			platform   string
			searchType string
			status     string
		)
		if err := rows.Scan(
			&job.ID,
			&job.TargetURL,
			&job.TargetUsername,
			&platform,
			&searchType,
			&status,
			&job.ErrorMessage,
			&job.RetryCount,
			&job.MaxRetries,
			&job.ClaimedBy,
			&job.NextAttemptAt,
			&job.StartedAt,
			&job.CompletedAt,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		job.Platform = scraper.Platform(platform)
		job.SearchType = scraper.SearchType(searchType)
		job.Status = scraper.JobStatus(status)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	return jobs, nil
}

// MarkCompleted stores the payload and terminally completes the job.
// The update is conditional on the row still being in processing.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, payload scraper.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = 'completed',
	scraped_data = $2,
	error_message = '',
	completed_at = now(),
	updated_at = now()
WHERE id = $1 AND status = 'processing'`, s.table)

	tag, err := s.pool.Exec(ctx, query, jobID, data)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrClaimLost
	}
	return nil
}

// RequeueForRetry returns the job to the queue with retry_count+1,
// eligible again once the backoff delay elapses.
func (s *JobStore) RequeueForRetry(ctx context.Context, jobID string, errMsg string, delay time.Duration) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = 'queued',
	retry_count = retry_count + 1,
	error_message = $2,
	claimed_by = '',
	started_at = NULL,
	next_attempt_at = now() + make_interval(secs => $3),
	updated_at = now()
WHERE id = $1 AND status = 'processing' AND retry_count < max_retries`, s.table)

	tag, err := s.pool.Exec(ctx, query, jobID, errMsg, delay.Seconds())
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrClaimLost
	}
	return nil
}

// MarkFailed terminally fails the job.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = 'failed',
	error_message = $2,
	completed_at = now(),
	updated_at = now()
WHERE id = $1 AND status = 'processing'`, s.table)

	tag, err := s.pool.Exec(ctx, query, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrClaimLost
	}
	return nil
}

const staleClaimMessage = "reclaimed: worker abandoned processing claim"

// ReclaimStale recovers processing rows whose owner died without a
// graceful shutdown. Rows with retries left are requeued with
// retry_count+1; rows already at the ceiling are failed.
func (s *JobStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, int, error) {
	failQuery := fmt.Sprintf(`
UPDATE %s SET
	status = 'failed',
	error_message = $1,
	completed_at = now(),
	updated_at = now()
WHERE status = 'processing'
	AND updated_at < now() - make_interval(secs => $2)
	AND retry_count >= max_retries`, s.table)

	failTag, err := s.pool.Exec(ctx, failQuery, staleClaimMessage, olderThan.Seconds())
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale jobs: %w", err)
	}

	requeueQuery := fmt.Sprintf(`
UPDATE %s SET
	status = 'queued',
	retry_count = retry_count + 1,
	error_message = $1,
	claimed_by = '',
	started_at = NULL,
	next_attempt_at = now(),
	updated_at = now()
WHERE status = 'processing'
	AND updated_at < now() - make_interval(secs => $2)
	AND retry_count < max_retries`, s.table)

	requeueTag, err := s.pool.Exec(ctx, requeueQuery, staleClaimMessage, olderThan.Seconds())
	if err != nil {
		return 0, int(failTag.RowsAffected()), fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(requeueTag.RowsAffected()), int(failTag.RowsAffected()), nil
}
