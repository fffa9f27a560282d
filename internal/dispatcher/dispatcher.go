// Package dispatcher maps jobs to the scraper adapter that should handle them.
package dispatcher

import (
	"github.com/osintwatch/scrapeworker/internal/scraper"
)

// Config names the adapters the dispatcher can hand out.
type Config struct {
	// Profile handles single-target username/profile jobs; it is also the
	// fallback when no platform can be determined.
	Profile scraper.Adapter
	// Social handles email/phone/domain multi-probe jobs.
	Social scraper.Adapter
	// Cloud, when set, takes precedence for the platforms it supports.
	Cloud          scraper.Adapter
	CloudPlatforms []scraper.Platform
}

// Dispatcher implements scraper.AdapterResolver with a pure mapping:
// explicit declared platform first, then inference from the target URL
// host, then the generic profile adapter.
type Dispatcher struct {
	cfg   Config
	cloud map[scraper.Platform]bool
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	cloud := make(map[scraper.Platform]bool, len(cfg.CloudPlatforms))
	if cfg.Cloud != nil {
		for _, p := range cfg.CloudPlatforms {
			cloud[p] = true
		}
	}
	return &Dispatcher{cfg: cfg, cloud: cloud}
}

// Resolve selects the adapter for a job.
func (d *Dispatcher) Resolve(job scraper.Job) scraper.Adapter {
	switch job.SearchType {
	case scraper.SearchTypeEmail, scraper.SearchTypePhone, scraper.SearchTypeDomain:
		if d.cfg.Social != nil {
			return d.cfg.Social
		}
	}

	platform := job.Platform
	if !scraper.KnownPlatform(platform) {
		platform = scraper.DetectPlatform(job.TargetURL)
	}
	if d.cloud[platform] {
		return d.cfg.Cloud
	}
	return d.cfg.Profile
}

// Fixed returns a resolver that always hands out the given adapter. Mock
// mode and tests inject it so business logic never branches on a flag.
func Fixed(adapter scraper.Adapter) scraper.AdapterResolver {
	return fixedResolver{adapter: adapter}
}

type fixedResolver struct {
	adapter scraper.Adapter
}

func (r fixedResolver) Resolve(scraper.Job) scraper.Adapter {
	return r.adapter
}
