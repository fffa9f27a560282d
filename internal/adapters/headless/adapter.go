// Package headless scrapes JavaScript-rendered profile pages with a
// headless Chrome browser driven by chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/adapters/profile"
	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// Config controls the behavior of the headless adapter.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// pageSnapshot is what one rendered page boils down to before
// normalization.
type pageSnapshot struct {
	Title string            `json:"title"`
	URL   string            `json:"url"`
	Meta  map[string]string `json:"meta"`
	Text  string            `json:"text"`
}

// browseFunc renders a page and returns its snapshot plus the document
// response status. Swappable so tests run without a browser.
type browseFunc func(ctx context.Context, url string) (pageSnapshot, int, error)

// Adapter implements scraper.Adapter using headless Chrome.
type Adapter struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	browse      browseFunc
	logger      *zap.Logger
}

// New creates a headless adapter backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	a := &Adapter{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
	a.browse = a.browseChromedp
	return a, nil
}

// Close cancels the allocator context.
func (a *Adapter) Close() {
	a.allocCancel()
}

// Scrape renders the target page and extracts a normalized payload.
func (a *Adapter) Scrape(ctx context.Context, job scraper.Job) (scraper.Payload, error) {
	if err := a.acquire(ctx); err != nil {
		return scraper.Payload{}, err
	}
	defer a.release()

	snapshot, status, err := a.browse(ctx, job.TargetURL)
	if err != nil {
		return scraper.Payload{}, classifyBrowse(err)
	}
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return scraper.Payload{}, scraper.Failf(scraper.FailureNotFound, "target responded %d", status)
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusUnauthorized:
		return scraper.Payload{}, scraper.Failf(scraper.FailureBlocked, "target responded %d", status)
	}
	if status >= 400 {
		return scraper.Payload{}, scraper.Failf(scraper.FailureUnexpected, "target responded %d", status)
	}
	if loginWalled(snapshot) {
		return scraper.Payload{}, scraper.Failf(scraper.FailureBlocked, "target served a login wall")
	}
	return buildPayload(job, snapshot, status), nil
}

func (a *Adapter) browseChromedp(ctx context.Context, url string) (pageSnapshot, int, error) {
	taskCtx, taskCancel := chromedp.NewContext(a.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, a.cfg.NavigationTimeout)
	defer cancel()

	// Propagate the job deadline onto the browser task.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var snapshot pageSnapshot
	actions := []chromedp.Action{
		a.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(snapshotScript, &snapshot),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return pageSnapshot{}, 0, ctx.Err()
		}
		return pageSnapshot{}, 0, fmt.Errorf("chromedp run: %w", err)
	}
	return snapshot, meta.status(), nil
}

const snapshotScript = `(() => {
	const meta = {};
	document.querySelectorAll("meta[property], meta[name]").forEach((m) => {
		const key = m.getAttribute("property") || m.getAttribute("name");
		if (key && !(key in meta)) {
			meta[key] = m.getAttribute("content") || "";
		}
	});
	return {
		title: document.title,
		url: location.href,
		meta,
		text: document.body ? document.body.innerText.slice(0, 4096) : "",
	};
})()`

func (a *Adapter) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if a.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(a.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (a *Adapter) acquire(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	select {
	case a.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (a *Adapter) release() {
	if a.limiter == nil {
		return
	}
	select {
	case <-a.limiter:
	default:
	}
}

func classifyBrowse(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return scraper.Failf(scraper.FailureTimeout, "render timed out: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("render canceled: %w", err)
	}
	return scraper.Failf(scraper.FailureUnexpected, "render failed: %v", err)
}

// loginWalled spots the usual signs of a page that only renders for
// authenticated sessions.
func loginWalled(s pageSnapshot) bool {
	title := strings.ToLower(s.Title)
	if strings.Contains(title, "log in") || strings.Contains(title, "login") || strings.Contains(title, "sign in") {
		return s.Meta["og:title"] == ""
	}
	return false
}

func buildPayload(job scraper.Job, s pageSnapshot, status int) scraper.Payload {
	displayName := s.Meta["og:title"]
	if displayName == "" {
		displayName = s.Title
	}
	payload := scraper.Payload{
		Profile: scraper.Profile{
			Username:    job.TargetUsername,
			DisplayName: strings.TrimSpace(displayName),
			Bio:         strings.TrimSpace(s.Meta["og:description"]),
			AvatarURL:   s.Meta["og:image"],
		},
		Stats:      statsFromDescription(s.Meta["og:description"]),
		RawExcerpt: scraper.BoundExcerpt(s.Text),
		Metadata: map[string]any{
			"source":      "headless",
			"status_code": status,
			"final_url":   s.URL,
		},
	}
	return payload
}

// statPattern matches "1,234 Followers" style fragments that platforms
// like Instagram pack into their page description.
var statPattern = regexp.MustCompile(`(?i)([\d.,]+[kmb]?)\s+(followers|following|posts|likes|subscribers)`)

func statsFromDescription(description string) map[string]int64 {
	matches := statPattern.FindAllStringSubmatch(description, -1)
	if len(matches) == 0 {
		return nil
	}
	stats := make(map[string]int64, len(matches))
	for _, m := range matches {
		count, ok := profile.ParseCount(m[1])
		if !ok {
			continue
		}
		key := strings.ToLower(m[2])
		if _, exists := stats[key]; !exists {
			stats[key] = count
		}
	}
	if len(stats) == 0 {
		return nil
	}
	return stats
}

type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.statusCode == 0 {
		return http.StatusOK
	}
	return m.statusCode
}
