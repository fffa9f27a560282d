package scraper

import (
	"net/url"
	"strings"
)

// Platform identifies which collector family handles a target.
type Platform string

// Platforms with dedicated extraction rules. PlatformGeneric means no
// platform could be determined and the generic adapter applies.
const (
	PlatformGeneric   Platform = ""
	PlatformGitHub    Platform = "github"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTikTok    Platform = "tiktok"
	PlatformFacebook  Platform = "facebook"
	PlatformYouTube   Platform = "youtube"
	PlatformReddit    Platform = "reddit"
	PlatformMastodon  Platform = "mastodon"
)

// domainPlatforms maps known hosts to platforms. Consulted only when the
// producer did not declare a platform explicitly.
var domainPlatforms = map[string]Platform{
	"github.com":        PlatformGitHub,
	"gist.github.com":   PlatformGitHub,
	"twitter.com":       PlatformTwitter,
	"x.com":             PlatformTwitter,
	"instagram.com":     PlatformInstagram,
	"linkedin.com":      PlatformLinkedIn,
	"tiktok.com":        PlatformTikTok,
	"facebook.com":      PlatformFacebook,
	"fb.com":            PlatformFacebook,
	"youtube.com":       PlatformYouTube,
	"youtu.be":          PlatformYouTube,
	"reddit.com":        PlatformReddit,
	"old.reddit.com":    PlatformReddit,
	"mastodon.social":   PlatformMastodon,
	"mastodon.online":   PlatformMastodon,
}

// headlessPlatforms serve useful markup only after JavaScript execution.
var headlessPlatforms = map[Platform]bool{
	PlatformInstagram: true,
	PlatformFacebook:  true,
	PlatformTikTok:    true,
}

// KnownPlatform reports whether the declared platform string is one the
// dispatcher recognizes.
func KnownPlatform(p Platform) bool {
	if p == PlatformGeneric {
		return false
	}
	for _, known := range domainPlatforms {
		if known == p {
			return true
		}
	}
	return false
}

// RequiresHeadless reports whether the platform needs a rendered DOM.
func RequiresHeadless(p Platform) bool {
	return headlessPlatforms[p]
}

// DetectPlatform infers a platform from the target URL host. Returns
// PlatformGeneric when the host is unknown or the URL does not parse.
func DetectPlatform(targetURL string) Platform {
	u, err := url.Parse(targetURL)
	if err != nil || u.Hostname() == "" {
		return PlatformGeneric
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if p, ok := domainPlatforms[host]; ok {
		return p
	}
	// Subdomains of a known host map to the same platform.
	for domain, p := range domainPlatforms {
		if strings.HasSuffix(host, "."+domain) {
			return p
		}
	}
	return PlatformGeneric
}

// ValidTargetURL reports whether the job's target is a syntactically
// valid absolute http(s) URL.
func ValidTargetURL(targetURL string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
