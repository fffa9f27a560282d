// Package cloud delegates scraping to a hosted actor platform (Apify).
// The worker starts an actor run for the target, polls the run until it
// reaches a terminal state, then pulls the dataset items.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// Config controls the actor platform client.
type Config struct {
	BaseURL string
	Token   string
	// Actors maps a platform to the actor that scrapes it.
	Actors map[scraper.Platform]string
	// PollInterval is the pause between run status checks.
	PollInterval time.Duration
	// MaxWait bounds the total time spent waiting on one run.
	MaxWait time.Duration
}

// Adapter implements scraper.Adapter against the actor platform REST API.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("actor platform token is required")
	}
	if len(cfg.Actors) == 0 {
		return nil, fmt.Errorf("at least one platform actor mapping is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.apify.com"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

type runData struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

type runEnvelope struct {
	Data runData `json:"data"`
}

// Scrape starts an actor run for the job's platform and waits for its
// dataset.
func (a *Adapter) Scrape(ctx context.Context, job scraper.Job) (scraper.Payload, error) {
	platform := job.Platform
	if platform == scraper.PlatformGeneric {
		platform = scraper.DetectPlatform(job.TargetURL)
	}
	actorID, ok := a.cfg.Actors[platform]
	if !ok {
		return scraper.Payload{}, fmt.Errorf("no actor configured for platform %q", platform)
	}

	run, err := a.startRun(ctx, actorID, job)
	if err != nil {
		return scraper.Payload{}, err
	}
	a.logger.Debug("actor run started",
		zap.String("job_id", job.ID),
		zap.String("run_id", run.ID))

	run, err = a.waitForRun(ctx, run)
	if err != nil {
		return scraper.Payload{}, err
	}
	switch run.Status {
	case "SUCCEEDED":
	case "TIMED-OUT":
		return scraper.Payload{}, scraper.Failf(scraper.FailureTimeout, "actor run %s timed out", run.ID)
	case "ABORTED", "FAILED":
		return scraper.Payload{}, scraper.Failf(scraper.FailureUnexpected, "actor run %s ended %s", run.ID, run.Status)
	default:
		return scraper.Payload{}, scraper.Failf(scraper.FailureUnexpected, "actor run %s in unknown state %s", run.ID, run.Status)
	}

	items, err := a.datasetItems(ctx, run.DefaultDatasetID)
	if err != nil {
		return scraper.Payload{}, err
	}
	if len(items) == 0 {
		return scraper.Payload{}, scraper.Failf(scraper.FailureNotFound, "actor run %s produced no items", run.ID)
	}
	return buildPayload(job, run, items[0]), nil
}

func (a *Adapter) startRun(ctx context.Context, actorID string, job scraper.Job) (runData, error) {
	input := map[string]any{
		"directUrls":   []string{job.TargetURL},
		"resultsLimit": 1,
	}
	body, err := json.Marshal(input)
	if err != nil {
		return runData{}, fmt.Errorf("marshal actor input: %w", err)
	}
	url := fmt.Sprintf("%s/v2/acts/%s/runs?token=%s", a.cfg.BaseURL, actorID, a.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return runData{}, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var envelope runEnvelope
	if err := a.do(req, &envelope); err != nil {
		return runData{}, err
	}
	if envelope.Data.ID == "" {
		return runData{}, fmt.Errorf("actor platform returned run without id")
	}
	return envelope.Data, nil
}

func (a *Adapter) waitForRun(ctx context.Context, run runData) (runData, error) {
	deadline := time.Now().Add(a.cfg.MaxWait)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if terminalRunStatus(run.Status) {
			return run, nil
		}
		if time.Now().After(deadline) {
			return run, scraper.Failf(scraper.FailureTimeout, "gave up waiting on actor run %s after %s", run.ID, a.cfg.MaxWait)
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}

		url := fmt.Sprintf("%s/v2/actor-runs/%s?token=%s", a.cfg.BaseURL, run.ID, a.cfg.Token)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return run, fmt.Errorf("build run status request: %w", err)
		}
		var envelope runEnvelope
		if err := a.do(req, &envelope); err != nil {
			return run, err
		}
		envelope.Data.ID = run.ID
		if envelope.Data.DefaultDatasetID == "" {
			envelope.Data.DefaultDatasetID = run.DefaultDatasetID
		}
		run = envelope.Data
	}
}

func terminalRunStatus(status string) bool {
	switch status {
	case "SUCCEEDED", "FAILED", "ABORTED", "TIMED-OUT":
		return true
	}
	return false
}

func (a *Adapter) datasetItems(ctx context.Context, datasetID string) ([]map[string]any, error) {
	url := fmt.Sprintf("%s/v2/datasets/%s/items?token=%s&format=json", a.cfg.BaseURL, datasetID, a.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	var items []map[string]any
	if err := a.do(req, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (a *Adapter) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return fmt.Errorf("actor platform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return scraper.Failf(scraper.FailureBlocked, "actor platform throttled the worker (429)")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("actor platform responded %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode actor platform response: %w", err)
	}
	return nil
}

func buildPayload(job scraper.Job, run runData, item map[string]any) scraper.Payload {
	payload := scraper.Payload{
		Profile: scraper.Profile{
			Username:    stringField(item, "username"),
			DisplayName: stringField(item, "fullName"),
			Bio:         stringField(item, "biography"),
			AvatarURL:   stringField(item, "profilePicUrl"),
		},
		Metadata: map[string]any{
			"source": "cloud",
			"run_id": run.ID,
		},
	}
	if payload.Profile.Username == "" {
		payload.Profile.Username = job.TargetUsername
	}
	stats := make(map[string]int64)
	for key, field := range map[string]string{
		"followers": "followersCount",
		"following": "followsCount",
		"posts":     "postsCount",
	} {
		if v, ok := numberField(item, field); ok {
			stats[key] = v
		}
	}
	if len(stats) > 0 {
		payload.Stats = stats
	}
	return payload
}

func stringField(item map[string]any, key string) string {
	s, _ := item[key].(string)
	return s
}

func numberField(item map[string]any, key string) (int64, bool) {
	f, ok := item[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
