// Package mock provides a scripted adapter with zero network I/O. It is
// wired in through the resolver in mock mode and in worker tests, so the
// claim loop and state machine can be exercised without live targets.
package mock

import (
	"context"
	"sync"

	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// Script describes the deterministic outcome sequence for one target.
type Script struct {
	// FailuresBeforeSuccess makes the first N calls return a ScrapeFailure
	// of FailureKind before the payload is returned.
	FailuresBeforeSuccess int
	FailureKind           scraper.FailureKind
	// Payload returned on success. Zero value yields a canned payload.
	Payload scraper.Payload
	// HardError, when set, is returned on every call as a non-failure
	// error (simulates adapter misconfiguration).
	HardError error
	// Hang blocks until the context is done (simulates a stalled target).
	Hang bool
}

// Adapter implements scraper.Adapter with canned outcomes keyed by target URL.
type Adapter struct {
	mu            sync.Mutex
	defaultScript Script
	scripts       map[string]Script
	calls         map[string]int
}

// New creates an Adapter whose unscripted targets follow defaultScript.
func New(defaultScript Script) *Adapter {
	return &Adapter{
		defaultScript: defaultScript,
		scripts:       make(map[string]Script),
		calls:         make(map[string]int),
	}
}

// SetScript registers a per-target script.
func (a *Adapter) SetScript(targetURL string, s Script) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[targetURL] = s
}

// Calls returns how many times the target has been scraped.
func (a *Adapter) Calls(targetURL string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[targetURL]
}

// Scrape returns the next scripted outcome for the job's target.
func (a *Adapter) Scrape(ctx context.Context, job scraper.Job) (scraper.Payload, error) {
	a.mu.Lock()
	script, ok := a.scripts[job.TargetURL]
	if !ok {
		script = a.defaultScript
	}
	attempt := a.calls[job.TargetURL]
	a.calls[job.TargetURL] = attempt + 1
	a.mu.Unlock()

	if script.Hang {
		<-ctx.Done()
		return scraper.Payload{}, ctx.Err()
	}
	if script.HardError != nil {
		return scraper.Payload{}, script.HardError
	}
	if attempt < script.FailuresBeforeSuccess {
		kind := script.FailureKind
		if kind == "" {
			kind = scraper.FailureTimeout
		}
		return scraper.Payload{}, scraper.Failf(kind, "canned failure %d for %s", attempt+1, job.TargetURL)
	}
	if script.Payload.IsEmpty() {
		return cannedPayload(job, attempt), nil
	}
	return script.Payload, nil
}

func cannedPayload(job scraper.Job, attempt int) scraper.Payload {
	username := job.TargetUsername
	if username == "" {
		username = "mock-user"
	}
	return scraper.Payload{
		Profile: scraper.Profile{
			Username:    username,
			DisplayName: "Mock " + username,
		},
		Stats: map[string]int64{
			"followers": 1337,
			"posts":     42,
		},
		Metadata: map[string]any{
			"mock":    true,
			"attempt": attempt + 1,
		},
	}
}
