// Package lister expands a listing page (search results, category
// bestsellers, brand storefront) into per-item fetches and aggregates the
// partial results. Items are fetched strictly one at a time with an
// inter-item delay: concurrent fan-out against the same host sharply
// raises the chance of defensive blocking.
package lister

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/amazon-product-scraper/internal/amazonurl"
	"github.com/maltedev/amazon-product-scraper/internal/fetcher"
	"github.com/maltedev/amazon-product-scraper/internal/models"
)

// Fetcher retrieves a candidate item's detail page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Document, error)
}

// Extractor turns a fetched detail page into a record.
type Extractor interface {
	Extract(doc *fetcher.Document) (models.Record, error)
}

// Limiter paces the per-item fetches.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Config bounds the expansion.
type Config struct {
	// MaxItems caps the number of per-item fetches regardless of how many
	// candidate links are discoverable.
	MaxItems int
}

func DefaultConfig() Config {
	return Config{MaxItems: 10}
}

// Container-selector fallback chains per page class. Search, category and
// store listings use different markup.
var containerChains = map[amazonurl.PageClass][]string{
	amazonurl.PageSearch: {
		`div[data-component-type="s-search-result"]`,
		`div.s-result-item[data-asin]`,
		`div.s-search-results div.sg-col-inner`,
	},
	amazonurl.PageCategory: {
		`div.zg-grid-general-faceout`,
		`div.zg-item-immersion`,
		`div#gridItemRoot`,
		`div.p13n-sc-uncoverable-faceout`,
	},
	amazonurl.PageStore: {
		`li[data-testid="product-grid-item"]`,
		`div[data-testid="product-card"]`,
		`li[class*="ProductGridItem"]`,
		`div[class*="ProductCard"]`,
	},
}

// Link-selector fallback chain evaluated within each container.
var linkChain = []string{
	`a[href*="/dp/"]`,
	`h2 a`,
	`a.a-link-normal`,
}

// Navigational, footer and promotional link shapes that never point at a
// catalog item.
var excludedLinkFragments = []string{
	"/gp/help",
	"/gp/css",
	"/gp/cart",
	"/customer-preferences",
	"/ap/signin",
	"/hz/wishlist",
	"/gp/bestsellers/ref=",
	"javascript:",
}

// Embedded-identifier patterns for storefront pages that render their
// catalog client-side.
var (
	scriptASINPattern = regexp.MustCompile(`"asin"\s*:\s*"([A-Z0-9]{10})"`)
	scriptDPPattern   = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)
)

type candidate struct {
	url       string
	asin      string
	container *goquery.Selection
}

type Lister struct {
	fetcher   Fetcher
	extractor Extractor
	limiter   Limiter
	cfg       Config
	logger    *slog.Logger
}

func New(f Fetcher, e Extractor, l Limiter, cfg Config, logger *slog.Logger) *Lister {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultConfig().MaxItems
	}
	return &Lister{
		fetcher:   f,
		extractor: e,
		limiter:   l,
		cfg:       cfg,
		logger:    logger.With("component", "lister"),
	}
}

// Expand discovers candidate item links in doc and fetches each one
// sequentially, degrading per item to a summary record and then to an
// error-flagged entry. It fails hard only when every fallback tier found
// zero candidates.
func (l *Lister) Expand(ctx context.Context, doc *fetcher.Document, class amazonurl.PageClass) (*models.ListResult, error) {
	gdoc, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, models.WrapError(models.KindExtraction, "failed to parse listing page", doc.URL, err)
	}

	base := l.baseURL(doc)
	candidates := l.discoverCandidates(gdoc, doc, class, base)
	if len(candidates) == 0 {
		return nil, models.NewError(models.KindExtraction, "no product items found on listing page", doc.URL)
	}

	candidates = dedupe(candidates)
	if len(candidates) > l.cfg.MaxItems {
		l.logger.Info("truncating candidate list",
			"discovered", len(candidates),
			"cap", l.cfg.MaxItems,
		)
		candidates = candidates[:l.cfg.MaxItems]
	}

	result := &models.ListResult{Items: make([]models.Record, 0, len(candidates))}
	for i, cand := range candidates {
		if i > 0 && l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				// Deadline hit mid-batch: flag the remaining slots rather
				// than discarding what was already gathered.
				for _, rest := range candidates[i:] {
					result.Items = append(result.Items, errorRecord(rest, "request deadline exceeded before item fetch"))
				}
				break
			}
		}
		result.Items = append(result.Items, l.scrapeItem(ctx, cand))
	}

	result.ComputeSuccessRatio()
	l.logger.Info("list expansion completed",
		"url", doc.URL,
		"class", class,
		"items", len(result.Items),
		"success_ratio", result.SuccessRatio,
	)
	return result, nil
}

// discoverCandidates runs the tiered discovery: class-specific containers,
// then a page-wide direct link search, then (for store pages) embedded
// script data.
func (l *Lister) discoverCandidates(gdoc *goquery.Document, doc *fetcher.Document, class amazonurl.PageClass, base *url.URL) []candidate {
	for _, sel := range containerChains[class] {
		containers := gdoc.Find(sel)
		if containers.Length() == 0 {
			continue
		}
		var found []candidate
		containers.Each(func(_ int, container *goquery.Selection) {
			if cand, ok := l.candidateFromContainer(container, base); ok {
				found = append(found, cand)
			}
		})
		if len(found) > 0 {
			l.logger.Debug("containers matched", "selector", sel, "candidates", len(found))
			return found
		}
	}

	var found []candidate
	gdoc.Find(`a[href*="/dp/"]`).Each(func(_ int, link *goquery.Selection) {
		if cand, ok := l.candidateFromLink(link, nil, base); ok {
			found = append(found, cand)
		}
	})
	if len(found) > 0 {
		l.logger.Debug("page-wide link search matched", "candidates", len(found))
		return found
	}

	if class == amazonurl.PageStore {
		found = l.candidatesFromScripts(gdoc, doc, base)
		if len(found) > 0 {
			l.logger.Debug("dynamic extraction matched", "candidates", len(found))
		}
	}
	return found
}

func (l *Lister) candidateFromContainer(container *goquery.Selection, base *url.URL) (candidate, bool) {
	for _, sel := range linkChain {
		link := container.Find(sel).First()
		if link.Length() == 0 {
			continue
		}
		if cand, ok := l.candidateFromLink(link, container, base); ok {
			return cand, true
		}
	}
	return candidate{}, false
}

func (l *Lister) candidateFromLink(link *goquery.Selection, container *goquery.Selection, base *url.URL) (candidate, bool) {
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return candidate{}, false
	}
	for _, fragment := range excludedLinkFragments {
		if strings.Contains(href, fragment) {
			return candidate{}, false
		}
	}
	resolved := resolveHref(base, href)
	asin, ok := amazonurl.ExtractASIN(resolved)
	if !ok {
		return candidate{}, false
	}
	return candidate{
		url:       canonicalItemURL(base, asin, resolved),
		asin:      asin,
		container: container,
	}, true
}

// candidatesFromScripts scans embedded script/data blocks for item
// identifiers. Storefront pages frequently render their catalog
// client-side, leaving the ASINs only in bootstrap JSON.
func (l *Lister) candidatesFromScripts(gdoc *goquery.Document, doc *fetcher.Document, base *url.URL) []candidate {
	var found []candidate
	seen := map[string]bool{}

	collect := func(text string) {
		for _, pattern := range []*regexp.Regexp{scriptASINPattern, scriptDPPattern} {
			for _, m := range pattern.FindAllStringSubmatch(text, -1) {
				asin := m[1]
				if seen[asin] {
					continue
				}
				seen[asin] = true
				found = append(found, candidate{
					url:  canonicalItemURL(base, asin, ""),
					asin: asin,
				})
			}
		}
	}

	gdoc.Find("script").Each(func(_ int, s *goquery.Selection) {
		collect(s.Text())
	})
	if len(found) == 0 {
		collect(doc.HTML())
	}
	return found
}

// scrapeItem fetches and extracts one candidate, degrading to the listing
// container's own summary text and finally to an error-flagged record.
func (l *Lister) scrapeItem(ctx context.Context, cand candidate) models.Record {
	detail, err := l.fetcher.Fetch(ctx, cand.url)
	if err == nil {
		rec, xerr := l.extractor.Extract(detail)
		if xerr == nil {
			return rec
		}
		err = xerr
	}

	l.logger.Warn("item scrape failed, trying listing summary",
		"url", cand.url,
		"error", err,
	)
	if rec, ok := l.summaryRecord(cand); ok {
		return rec
	}
	return errorRecord(cand, models.MessageOf(err))
}

// summaryRecord synthesizes a weaker record from the text visible in the
// listing container itself.
func (l *Lister) summaryRecord(cand candidate) (models.Record, bool) {
	if cand.container == nil {
		return models.Record{}, false
	}
	rec := models.NewRecord(cand.url)
	rec.Source = models.SourceSummary
	rec.ASIN = cand.asin

	for _, sel := range []string{"h2", `span.a-text-normal`, `a[href*="/dp/"]`} {
		if title := validateSummaryText(cand.container.Find(sel).First().Text()); title != "" {
			rec.Title = title
			break
		}
	}
	for _, sel := range []string{"span.a-price span.a-offscreen", "span.a-price-whole", "span.a-offscreen"} {
		text := cand.container.Find(sel).First().Text()
		if cleaned := summaryPrice(text); cleaned != "" {
			rec.Price = cleaned
			break
		}
	}
	if rating := ratingLoose(cand.container.Find("span.a-icon-alt").First().Text()); rating != "" {
		rec.Rating = rating
	}

	if rec.Title == models.NotAvailable && rec.Price == models.NotAvailable {
		return models.Record{}, false
	}
	return rec, true
}

func errorRecord(cand candidate, reason string) models.Record {
	rec := models.NewRecord(cand.url)
	rec.ASIN = cand.asin
	rec.Error = reason
	return rec
}

func (l *Lister) baseURL(doc *fetcher.Document) *url.URL {
	for _, raw := range []string{doc.FinalURL, doc.URL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u
		}
	}
	return &url.URL{Scheme: "https", Host: "www.amazon.com"}
}

func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// canonicalItemURL collapses a candidate to the bare /dp/<ASIN> path, which
// sheds listing ref segments that trip bot detection.
func canonicalItemURL(base *url.URL, asin, fallback string) string {
	if base != nil && base.Host != "" {
		return fmt.Sprintf("%s://%s/dp/%s", base.Scheme, base.Host, asin)
	}
	return fallback
}

var summaryWhitespace = regexp.MustCompile(`\s+`)

func validateSummaryText(text string) string {
	return strings.TrimSpace(summaryWhitespace.ReplaceAllString(text, " "))
}

var summaryPricePattern = regexp.MustCompile(`[0-9][0-9.,]*`)

func summaryPrice(text string) string {
	m := summaryPricePattern.FindString(text)
	if m == "" {
		return ""
	}
	return "$" + strings.Trim(m, ".,")
}

var summaryRatingPattern = regexp.MustCompile(`(?i)([0-9.]+)\s+out\s+of\s+5`)

func ratingLoose(text string) string {
	m := summaryRatingPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1] + " out of 5 stars"
}

// dedupe keeps the first occurrence of each ASIN in order.
func dedupe(cands []candidate) []candidate {
	seen := make(map[string]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		if seen[c.asin] {
			continue
		}
		seen[c.asin] = true
		out = append(out, c)
	}
	return out
}
