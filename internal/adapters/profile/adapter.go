// Package profile scrapes public profile pages over plain HTTP using a
// Colly collector and per-platform extraction selectors.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/policy/ratelimit"
	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// maxArchiveBytes caps how much raw HTML is handed to the archive.
const maxArchiveBytes = 512 << 10

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// Adapter implements scraper.Adapter for server-rendered profile pages.
// Platforms that only render under JavaScript are delegated to the
// optional headless adapter.
type Adapter struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	headless      scraper.Adapter
	archive       scraper.Archive
	logger        *zap.Logger
}

// New builds an Adapter. The limiter, headless fallback, and archive are
// all optional.
func New(cfg Config, limiter *ratelimit.Limiter, headless scraper.Adapter, archive scraper.Archive, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.WithTransport(newHTTPTransport())
	return &Adapter{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		headless:      headless,
		archive:       archive,
		logger:        logger,
	}
}

// Scrape fetches the target page and extracts a normalized payload.
func (a *Adapter) Scrape(ctx context.Context, job scraper.Job) (scraper.Payload, error) {
	platform := job.Platform
	if platform == scraper.PlatformGeneric {
		platform = scraper.DetectPlatform(job.TargetURL)
	}
	if scraper.RequiresHeadless(platform) && a.headless != nil {
		return a.headless.Scrape(ctx, job)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, job.TargetURL); err != nil {
			return scraper.Payload{}, scraper.Failf(scraper.FailureTimeout, "rate limit wait aborted: %v", err)
		}
	}

	var (
		payload    scraper.Payload
		body       []byte
		statusCode int
		fetchErr   error
	)
	collector := a.buildCollector(platform, &payload, &body, &statusCode, &fetchErr)

	if err := runCollector(ctx, collector, job.TargetURL); err != nil {
		return scraper.Payload{}, classify(statusCode, errors.Join(err, fetchErr))
	}
	if fetchErr != nil || statusCode >= 400 {
		return scraper.Payload{}, classify(statusCode, fetchErr)
	}

	a.finishPayload(ctx, &payload, body, statusCode, job, platform)
	return payload, nil
}

func (a *Adapter) buildCollector(
	platform scraper.Platform,
	payload *scraper.Payload,
	body *[]byte,
	statusCode *int,
	fetchErr *error,
) *colly.Collector {
	collector := a.baseCollector.Clone()
	if a.cfg.UserAgent != "" {
		collector.UserAgent = a.cfg.UserAgent
	}
	timeout := a.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		*statusCode = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*statusCode = r.StatusCode
		}
		*fetchErr = err
	})

	set := selectorsFor(platform)
	hookField(collector, set.DisplayName, &payload.Profile.DisplayName)
	hookField(collector, set.Bio, &payload.Profile.Bio)
	hookField(collector, set.Avatar, &payload.Profile.AvatarURL)
	hookField(collector, set.Location, &payload.Profile.Location)
	hookField(collector, set.Website, &payload.Profile.Website)
	for key, sel := range set.Stats {
		hookStat(collector, sel, payload, key)
	}
	return collector
}

func hookField(collector *colly.Collector, sel fieldSelector, dst *string) {
	if sel.Query == "" {
		return
	}
	collector.OnHTML(sel.Query, func(e *colly.HTMLElement) {
		if *dst != "" {
			return
		}
		*dst = strings.TrimSpace(elementValue(e, sel))
	})
}

func hookStat(collector *colly.Collector, sel fieldSelector, payload *scraper.Payload, key string) {
	if sel.Query == "" {
		return
	}
	collector.OnHTML(sel.Query, func(e *colly.HTMLElement) {
		if _, exists := payload.Stats[key]; exists {
			return
		}
		count, ok := ParseCount(elementValue(e, sel))
		if !ok {
			return
		}
		if payload.Stats == nil {
			payload.Stats = make(map[string]int64)
		}
		payload.Stats[key] = count
	})
}

func elementValue(e *colly.HTMLElement, sel fieldSelector) string {
	if sel.Attr != "" {
		return e.Attr(sel.Attr)
	}
	return e.Text
}

func (a *Adapter) finishPayload(ctx context.Context, payload *scraper.Payload, body []byte, statusCode int, job scraper.Job, platform scraper.Platform) {
	if payload.Profile.Username == "" {
		payload.Profile.Username = usernameFor(job)
	}
	payload.RawExcerpt = scraper.BoundExcerpt(string(body))
	if payload.Metadata == nil {
		payload.Metadata = make(map[string]any)
	}
	payload.Metadata["source"] = "profile"
	payload.Metadata["status_code"] = statusCode

	if a.archive == nil || len(body) == 0 {
		return
	}
	archived := body
	if len(archived) > maxArchiveBytes {
		archived = archived[:maxArchiveBytes]
	}
	name := string(platform)
	if name == "" {
		name = "generic"
	}
	uri, err := a.archive.Save(ctx, fmt.Sprintf("raw/%s/%s.html", name, job.ID), "text/html; charset=utf-8", archived)
	if err != nil {
		a.logger.Warn("raw page archive failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	payload.Metadata["archive_uri"] = uri
}

func usernameFor(job scraper.Job) string {
	if job.TargetUsername != "" {
		return job.TargetUsername
	}
	trimmed := strings.Trim(path.Base(job.TargetURL), "/@")
	if trimmed == "." || trimmed == "" {
		return ""
	}
	return trimmed
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

// classify maps a fetch outcome to the failure kinds the retry policy
// understands.
func classify(statusCode int, err error) error {
	switch statusCode {
	case http.StatusNotFound, http.StatusGone:
		return scraper.Failf(scraper.FailureNotFound, "target responded %d", statusCode)
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusUnauthorized:
		return scraper.Failf(scraper.FailureBlocked, "target responded %d", statusCode)
	}
	if statusCode >= 400 {
		return scraper.Failf(scraper.FailureUnexpected, "target responded %d", statusCode)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return scraper.Failf(scraper.FailureTimeout, "fetch timed out: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("fetch canceled: %w", err)
	}
	return scraper.Failf(scraper.FailureUnexpected, "fetch failed: %v", err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
