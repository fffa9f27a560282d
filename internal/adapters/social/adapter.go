// Package social probes a fixed set of platforms for the presence of a
// username, email, phone number, or domain and aggregates whatever
// subset responds.
package social

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/policy/ratelimit"
	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// Config controls probe behavior.
type Config struct {
	UserAgent    string
	ProbeTimeout time.Duration
}

// Probe checks one platform for the target's presence.
type Probe struct {
	Platform scraper.Platform
	Name     string
	// URL builds the probe URL from the job, or returns "" when the
	// probe does not apply to this job's search type.
	URL func(job scraper.Job) string
}

// Adapter implements scraper.Adapter by fanning probes out concurrently.
// A probe miss (404) is information, not an error; only transport
// failures count against the scrape.
type Adapter struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	probes  []Probe
	logger  *zap.Logger
}

// New builds an Adapter with the default probe set.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Adapter {
	return NewWithProbes(cfg, limiter, defaultProbes(), logger)
}

// NewWithProbes builds an Adapter with a custom probe set.
func NewWithProbes(cfg Config, limiter *ratelimit.Limiter, probes []Probe, logger *zap.Logger) *Adapter {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 15 * time.Second,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
		probes:  probes,
		logger:  logger,
	}
}

type probeResult struct {
	probe Probe
	url   string
	found bool
	err   error
}

// Scrape runs every applicable probe concurrently and merges the hits.
// The scrape fails only when every probe fails (timeout when the whole
// set timed out) or when every probe answered with a clean miss.
func (a *Adapter) Scrape(ctx context.Context, job scraper.Job) (scraper.Payload, error) {
	var applicable []Probe
	for _, p := range a.probes {
		if p.URL(job) != "" {
			applicable = append(applicable, p)
		}
	}
	if len(applicable) == 0 {
		return scraper.Payload{}, scraper.Failf(scraper.FailureNotFound, "no probes apply to search type %q", job.SearchType)
	}

	results := make(chan probeResult, len(applicable))
	var wg sync.WaitGroup
	for _, p := range applicable {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			results <- a.runProbe(ctx, p, job)
		}(p)
	}
	wg.Wait()
	close(results)

	return a.aggregate(job, results, len(applicable))
}

func (a *Adapter) runProbe(ctx context.Context, p Probe, job scraper.Job) probeResult {
	url := p.URL(job)
	result := probeResult{probe: p, url: url}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, url); err != nil {
			result.err = err
			return result
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.err = err
		return result
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		result.err = err
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		result.found = true
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// A clean miss.
	default:
		result.err = fmt.Errorf("%s responded %d", p.Name, resp.StatusCode)
	}
	return result
}

func (a *Adapter) aggregate(job scraper.Job, results <-chan probeResult, total int) (scraper.Payload, error) {
	presence := make(map[string]any)
	var hits, errs, timeouts int
	var lastErr error
	for r := range results {
		if r.err != nil {
			errs++
			lastErr = r.err
			if isTimeout(r.err) {
				timeouts++
			}
			a.logger.Debug("probe failed",
				zap.String("probe", r.probe.Name),
				zap.Error(r.err))
			continue
		}
		if r.found {
			hits++
			presence[r.probe.Name] = r.url
		}
	}

	if errs == total {
		if timeouts == total {
			return scraper.Payload{}, scraper.Failf(scraper.FailureTimeout, "all %d probes timed out, last: %v", total, lastErr)
		}
		return scraper.Payload{}, scraper.Failf(scraper.FailureUnexpected, "all %d probes failed, last: %v", total, lastErr)
	}

	// Every probe answered and none found the target.
	if hits == 0 && errs == 0 {
		return scraper.Payload{}, scraper.Failf(scraper.FailureNotFound, "no presence across %d probes", total)
	}

	payload := scraper.Payload{
		Profile: scraper.Profile{Username: job.TargetUsername},
		Stats: map[string]int64{
			"presence_count": int64(hits),
		},
		Metadata: map[string]any{
			"source":          "social",
			"probes_total":    total,
			"probes_answered": total - errs,
		},
	}
	if len(presence) > 0 {
		payload.Activity = map[string]any{"presence": presence}
	}
	return payload, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func defaultProbes() []Probe {
	username := func(build func(u string) string) func(scraper.Job) string {
		return func(job scraper.Job) string {
			if job.SearchType != scraper.SearchTypeUsername || job.TargetUsername == "" {
				return ""
			}
			return build(job.TargetUsername)
		}
	}
	domain := func(build func(d string) string) func(scraper.Job) string {
		return func(job scraper.Job) string {
			if job.SearchType != scraper.SearchTypeDomain {
				return ""
			}
			d := strings.ToLower(strings.TrimSpace(job.TargetUsername))
			if d == "" || strings.ContainsAny(d, "/ ") || !strings.Contains(d, ".") {
				return ""
			}
			return build(d)
		}
	}
	return []Probe{
		{
			Platform: scraper.PlatformGitHub,
			Name:     "github",
			URL:      username(func(u string) string { return "https://github.com/" + u }),
		},
		{
			Platform: scraper.PlatformReddit,
			Name:     "reddit",
			URL:      username(func(u string) string { return "https://www.reddit.com/user/" + u + "/about.json" }),
		},
		{
			Platform: scraper.PlatformTwitter,
			Name:     "twitter",
			URL:      username(func(u string) string { return "https://x.com/" + u }),
		},
		{
			Platform: scraper.PlatformMastodon,
			Name:     "mastodon",
			URL:      username(func(u string) string { return "https://mastodon.social/@" + u }),
		},
		{
			Platform: scraper.PlatformYouTube,
			Name:     "youtube",
			URL:      username(func(u string) string { return "https://www.youtube.com/@" + u }),
		},
		{
			Platform: scraper.PlatformGeneric,
			Name:     "gravatar",
			URL: func(job scraper.Job) string {
				if job.SearchType != scraper.SearchTypeEmail {
					return ""
				}
				email := strings.ToLower(strings.TrimSpace(job.TargetUsername))
				if email == "" {
					return ""
				}
				return fmt.Sprintf("https://www.gravatar.com/avatar/%x?d=404", md5.Sum([]byte(email)))
			},
		},
		{
			Platform: scraper.PlatformGeneric,
			Name:     "whatsapp",
			URL: func(job scraper.Job) string {
				if job.SearchType != scraper.SearchTypePhone {
					return ""
				}
				digits := phoneDigits(job.TargetUsername)
				if digits == "" {
					return ""
				}
				return "https://wa.me/" + digits
			},
		},
		{
			Platform: scraper.PlatformGeneric,
			Name:     "rdap",
			URL:      domain(func(d string) string { return "https://rdap.org/domain/" + d }),
		},
		{
			Platform: scraper.PlatformGeneric,
			Name:     "website",
			URL:      domain(func(d string) string { return "https://" + d }),
		},
	}
}

// phoneDigits reduces a phone identifier to its digits. E.164-style
// punctuation ("+", spaces, dashes, parens) is stripped; anything else
// disqualifies the probe.
func phoneDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	return b.String()
}
