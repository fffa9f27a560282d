package profile

import "github.com/osintwatch/scrapeworker/internal/scraper"

// fieldSelector extracts one profile field. When Attr is empty the
// element text is used.
type fieldSelector struct {
	Query string
	Attr  string
}

// selectorSet is the extraction recipe for one platform's profile page.
type selectorSet struct {
	DisplayName fieldSelector
	Bio         fieldSelector
	Avatar      fieldSelector
	Location    fieldSelector
	Website     fieldSelector
	// Stats maps a stat key to a selector whose text is a count.
	Stats map[string]fieldSelector
}

// platformSelectors covers platforms whose profile pages render enough
// server-side markup to scrape without a browser. Everything else falls
// back to Open Graph metadata.
var platformSelectors = map[scraper.Platform]selectorSet{
	scraper.PlatformGitHub: {
		DisplayName: fieldSelector{Query: `span.p-name`},
		Bio:         fieldSelector{Query: `div.p-note`},
		Avatar:      fieldSelector{Query: `img.avatar-user`, Attr: "src"},
		Location:    fieldSelector{Query: `span.p-label`},
		Website:     fieldSelector{Query: `li[itemprop='url'] a`, Attr: "href"},
		Stats: map[string]fieldSelector{
			"followers": {Query: `a[href$='tab=followers'] span.text-bold`},
			"following": {Query: `a[href$='tab=following'] span.text-bold`},
		},
	},
	scraper.PlatformReddit: {
		DisplayName: fieldSelector{Query: `h1`},
		Bio:         fieldSelector{Query: `p[data-testid='profile-description']`},
		Avatar:      fieldSelector{Query: `img[alt$='avatar']`, Attr: "src"},
		Stats: map[string]fieldSelector{
			"karma": {Query: `span[data-testid='karma-number']`},
		},
	},
	scraper.PlatformMastodon: {
		DisplayName: fieldSelector{Query: `.public-account-header__tabs__name h1`},
		Bio:         fieldSelector{Query: `.public-account-bio .account__header__content`},
		Avatar:      fieldSelector{Query: `.public-account-header__bar .account__avatar img`, Attr: "src"},
		Stats: map[string]fieldSelector{
			"followers": {Query: `.public-account-header__tabs__tabs a[href$='/followers'] .counter-number`},
			"posts":     {Query: `.public-account-header__tabs__tabs a[href$='/with_replies'] .counter-number`},
		},
	},
}

// openGraphSelectors is the generic fallback, reading the standard
// metadata most sites emit regardless of framework.
var openGraphSelectors = selectorSet{
	DisplayName: fieldSelector{Query: `meta[property='og:title']`, Attr: "content"},
	Bio:         fieldSelector{Query: `meta[property='og:description']`, Attr: "content"},
	Avatar:      fieldSelector{Query: `meta[property='og:image']`, Attr: "content"},
	Website:     fieldSelector{Query: `meta[property='og:url']`, Attr: "content"},
}

func selectorsFor(platform scraper.Platform) selectorSet {
	if set, ok := platformSelectors[platform]; ok {
		return set
	}
	return openGraphSelectors
}
