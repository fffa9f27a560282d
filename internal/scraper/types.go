// Package scraper defines core types shared across subsystems.
package scraper

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// SearchType hints at what kind of identifier the job carries.
type SearchType string

// Search type values accepted from the producer.
const (
	SearchTypeUsername SearchType = "username"
	SearchTypeEmail    SearchType = "email"
	SearchTypePhone    SearchType = "phone"
	SearchTypeDomain   SearchType = "domain"
)

// Job represents one queued request to investigate a target.
// The row is created by the producer (dashboard); the worker only ever
// flips status, retry bookkeeping, and the scraped payload.
type Job struct {
	ID             string     `json:"id"`
	TargetURL      string     `json:"target_url"`
	TargetUsername string     `json:"target_username,omitempty"`
	Platform       Platform   `json:"platform,omitempty"`
	SearchType     SearchType `json:"search_type,omitempty"`
	Status         JobStatus  `json:"status"`
	ScrapedData    *Payload   `json:"scraped_data,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DefaultMaxRetries is applied when the producer omits a ceiling.
const DefaultMaxRetries = 3

// Profile holds identity fields discovered for a target.
type Profile struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Location    string `json:"location,omitempty"`
	Website     string `json:"website,omitempty"`
}

// Contact holds discovered reachability data.
type Contact struct {
	Emails []string `json:"emails,omitempty"`
	Phones []string `json:"phones,omitempty"`
}

// Payload is the normalized output of a successful scrape.
// Every field is optional; an empty payload is a valid result (the target
// had no discoverable data).
type Payload struct {
	Profile    Profile          `json:"profile,omitempty"`
	Stats      map[string]int64 `json:"stats,omitempty"`
	Contact    Contact          `json:"contact,omitempty"`
	Activity   map[string]any   `json:"activity,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	RawExcerpt string           `json:"raw_excerpt,omitempty"`
}

// IsEmpty reports whether the payload carries no discovered data at all.
func (p Payload) IsEmpty() bool {
	return p.Profile == (Profile{}) &&
		len(p.Stats) == 0 &&
		len(p.Contact.Emails) == 0 &&
		len(p.Contact.Phones) == 0 &&
		len(p.Activity) == 0 &&
		len(p.Metadata) == 0 &&
		p.RawExcerpt == ""
}

// Merge folds another payload into this one. Existing scalar fields win;
// maps and contact lists are unioned. Used by multi-probe adapters to
// aggregate partial successes.
func (p *Payload) Merge(other Payload) {
	mergeProfile(&p.Profile, other.Profile)
	if len(other.Stats) > 0 {
		if p.Stats == nil {
			p.Stats = make(map[string]int64, len(other.Stats))
		}
		for k, v := range other.Stats {
			if _, exists := p.Stats[k]; !exists {
				p.Stats[k] = v
			}
		}
	}
	p.Contact.Emails = unionStrings(p.Contact.Emails, other.Contact.Emails)
	p.Contact.Phones = unionStrings(p.Contact.Phones, other.Contact.Phones)
	p.Activity = mergeAnyMap(p.Activity, other.Activity)
	p.Metadata = mergeAnyMap(p.Metadata, other.Metadata)
	if p.RawExcerpt == "" {
		p.RawExcerpt = other.RawExcerpt
	}
}

func mergeProfile(dst *Profile, src Profile) {
	if dst.Username == "" {
		dst.Username = src.Username
	}
	if dst.DisplayName == "" {
		dst.DisplayName = src.DisplayName
	}
	if dst.Bio == "" {
		dst.Bio = src.Bio
	}
	if dst.AvatarURL == "" {
		dst.AvatarURL = src.AvatarURL
	}
	if dst.Location == "" {
		dst.Location = src.Location
	}
	if dst.Website == "" {
		dst.Website = src.Website
	}
}

func mergeAnyMap(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	return dst
}

func unionStrings(dst, src []string) []string {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

// MaxExcerptBytes bounds the raw-content excerpt kept for debugging.
const MaxExcerptBytes = 2048

// BoundExcerpt truncates raw content to the excerpt limit.
func BoundExcerpt(raw string) string {
	if len(raw) <= MaxExcerptBytes {
		return raw
	}
	return raw[:MaxExcerptBytes]
}

// FailureKind classifies ordinary collection failures.
type FailureKind string

// Failure kinds consumed by the retry policy.
const (
	FailureTimeout    FailureKind = "timeout"
	FailureNotFound   FailureKind = "not_found"
	FailureBlocked    FailureKind = "blocked"
	FailureUnexpected FailureKind = "unexpected"
)

// ScrapeFailure is the typed outcome for ordinary collection failures
// (missing profile, timeout, anti-bot block). Adapters return it as an
// error value; anything that is not a ScrapeFailure is treated as a hard
// adapter error and fails the job immediately.
type ScrapeFailure struct {
	Kind    FailureKind
	Message string
}

// Error implements the error interface.
func (f *ScrapeFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Failf builds a ScrapeFailure with a formatted message.
func Failf(kind FailureKind, format string, args ...any) *ScrapeFailure {
	return &ScrapeFailure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsFailure extracts a ScrapeFailure from an error chain.
func AsFailure(err error) (*ScrapeFailure, bool) {
	var f *ScrapeFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
