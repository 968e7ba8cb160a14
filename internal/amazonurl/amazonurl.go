// Package amazonurl classifies and normalizes Amazon URLs. Classification
// is a total, pure function: malformed input degrades to PageUnknown, never
// an error.
package amazonurl

import (
	"net/url"
	"regexp"
	"strings"
)

// PageClass is the detected page type of a URL.
type PageClass string

const (
	PageProduct  PageClass = "product"
	PageSearch   PageClass = "search"
	PageCategory PageClass = "category"
	PageStore    PageClass = "store"
	PageUnknown  PageClass = "unknown"
)

// Descriptor is the classification result for one raw URL. Created once per
// request and immutable afterwards.
type Descriptor struct {
	Raw        string
	Normalized string
	Class      PageClass
}

var (
	productPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/dp/[A-Z0-9]{10}`),
		regexp.MustCompile(`/gp/product/[A-Z0-9]{10}`),
		regexp.MustCompile(`/product/[A-Z0-9]{10}`),
	}
	searchPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/s\?`),
		regexp.MustCompile(`[?&]k=`),
		regexp.MustCompile(`/s/ref=`),
		regexp.MustCompile(`/s$`),
	}
	categoryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/gp/bestsellers`),
		regexp.MustCompile(`/zgbs/`),
		regexp.MustCompile(`/Best-Sellers-`),
		regexp.MustCompile(`/gp/top-sellers`),
		regexp.MustCompile(`/gp/new-releases`),
		regexp.MustCompile(`/most-wished-for`),
		regexp.MustCompile(`/movers-and-shakers`),
	}
	storePatterns = []*regexp.Regexp{
		regexp.MustCompile(`/stores/`),
		regexp.MustCompile(`/shop/`),
		regexp.MustCompile(`/brand/`),
		regexp.MustCompile(`seller`),
		regexp.MustCompile(`/b\?node=`),
	}

	malformedItemPath = regexp.MustCompile(`/dp/product/([A-Z0-9]{10})`)
	gpItemPath        = regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`)
	asinPath          = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)
)

// Classify normalizes raw and maps it to a page class. Normalization runs
// first so pattern matching always sees canonical item-path shapes, and
// product patterns are evaluated before the broader search, category and
// store groups: the most specific match must win.
func Classify(raw string) Descriptor {
	normalized := Normalize(raw)
	return Descriptor{
		Raw:        raw,
		Normalized: normalized,
		Class:      classify(normalized),
	}
}

func classify(u string) PageClass {
	u = strings.TrimSpace(u)
	if u == "" {
		return PageUnknown
	}
	groups := []struct {
		class    PageClass
		patterns []*regexp.Regexp
	}{
		{PageProduct, productPatterns},
		{PageSearch, searchPatterns},
		{PageCategory, categoryPatterns},
		{PageStore, storePatterns},
	}
	for _, g := range groups {
		for _, p := range g.patterns {
			if p.MatchString(u) {
				return g.class
			}
		}
	}
	return PageUnknown
}

// Normalize repairs malformed item paths to the canonical /dp/<ASIN> form,
// strips tracking query parameters and removes the fragment. Unparseable
// input falls back to basic string cleanup.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.SplitN(strings.SplitN(raw, "#", 2)[0], "?", 2)[0]
	}

	u.Path = malformedItemPath.ReplaceAllString(u.Path, "/dp/$1")
	u.Path = gpItemPath.ReplaceAllString(u.Path, "/dp/$1")

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String()
}

func isTrackingParam(key string) bool {
	switch key {
	case "linkCode", "camp", "creative", "creativeASIN", "ie":
		return true
	}
	return strings.HasPrefix(key, "tag") ||
		strings.HasPrefix(key, "pf_") ||
		strings.HasPrefix(key, "plattr") ||
		strings.Contains(key, "tracking") ||
		strings.Contains(key, "utm_")
}

// ExtractASIN returns the 10-character item identifier embedded in a
// canonical /dp/ item path. A URL-derived ASIN is authoritative: callers
// must never replace it with a weaker document heuristic.
func ExtractASIN(u string) (string, bool) {
	m := asinPath.FindStringSubmatch(u)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// IsAmazonHost reports whether raw parses to a host on an Amazon domain.
func IsAmazonHost(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.Contains(u.Hostname(), "amazon.")
}
