package parser

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/amazon-product-scraper/internal/amazonurl"
	"github.com/maltedev/amazon-product-scraper/internal/fetcher"
	"github.com/maltedev/amazon-product-scraper/internal/models"
)

// fieldRule is one tier of a field's fallback chain: a named extractor that
// returns "" when it cannot produce a validated value.
type fieldRule struct {
	name    string
	extract func(doc *goquery.Document, raw string) string
}

// firstMatch evaluates a chain left to right; the first non-empty value
// wins, else the NotAvailable sentinel.
func firstMatch(rules []fieldRule, doc *goquery.Document, raw string) string {
	for _, r := range rules {
		if v := r.extract(doc, raw); v != "" {
			return v
		}
	}
	return models.NotAvailable
}

// AmazonParser extracts product fields from Amazon page markup using
// ordered fallback chains: structural selector first, then looser
// selectors, then pattern matching over the raw text.
type AmazonParser struct {
	titleRules  []fieldRule
	priceRules  []fieldRule
	ratingRules []fieldRule
	reviewRules []fieldRule

	asinAttrPattern *regexp.Regexp
	asinTextPattern *regexp.Regexp
}

var (
	whitespacePattern  = regexp.MustCompile(`\s+`)
	priceTextPattern   = regexp.MustCompile(`(?i)price[^:]*:\s*\$?([0-9,]+\.?[0-9]*)`)
	priceCleanPattern  = regexp.MustCompile(`[^\d.,]`)
	ratingTextPattern  = regexp.MustCompile(`(?i)([0-9.]+)\s+out\s+of\s+5\s+stars`)
	ratingLoosePattern = regexp.MustCompile(`(?i)([0-9.]+)\s+out\s+of\s+5`)
	bareCountPattern   = regexp.MustCompile(`^[0-9,]+$`)
	ratingStarsPattern = regexp.MustCompile(`(?i)stars[^>]*>\s*([0-9.]+)`)
	reviewPatterns     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)([0-9,]+)\s+ratings?`),
		regexp.MustCompile(`(?i)([0-9,]+)\s+customer\s+reviews?`),
		regexp.MustCompile(`(?i)([0-9,]+)\s+reviews?`),
	}
)

func NewAmazonParser() *AmazonParser {
	p := &AmazonParser{
		asinAttrPattern: regexp.MustCompile(`data-asin=["']([A-Z0-9]{10})["']`),
		asinTextPattern: regexp.MustCompile(`['"](B[A-Z0-9]{9})['"]`),
	}

	p.titleRules = []fieldRule{
		{"product-title-span", func(doc *goquery.Document, _ string) string {
			return validateTitle(doc.Find("#productTitle").First().Text())
		}},
		{"product-title-heading", func(doc *goquery.Document, _ string) string {
			return validateTitle(doc.Find(`h1[class*="product-title"]`).First().Text())
		}},
		{"document-title", func(doc *goquery.Document, _ string) string {
			return validateTitle(doc.Find("title").First().Text())
		}},
	}

	p.priceRules = []fieldRule{
		{"price-whole", func(doc *goquery.Document, _ string) string {
			return validatePrice(doc.Find("span.a-price-whole").First().Text())
		}},
		{"price-offscreen", func(doc *goquery.Document, _ string) string {
			return validatePrice(doc.Find("span.a-offscreen").First().Text())
		}},
		{"price-class", func(doc *goquery.Document, _ string) string {
			return validatePrice(doc.Find(`span[class*="price"]`).First().Text())
		}},
		{"price-text", func(_ *goquery.Document, raw string) string {
			m := priceTextPattern.FindStringSubmatch(raw)
			if len(m) < 2 {
				return ""
			}
			return validatePrice(m[1])
		}},
	}

	p.ratingRules = []fieldRule{
		{"icon-alt", func(doc *goquery.Document, _ string) string {
			return normalizeRating(doc.Find("span.a-icon-alt").First().Text())
		}},
		{"rating-text", func(_ *goquery.Document, raw string) string {
			return normalizeRating(raw)
		}},
		{"stars-markup", func(_ *goquery.Document, raw string) string {
			m := ratingStarsPattern.FindStringSubmatch(raw)
			if len(m) < 2 {
				return ""
			}
			return m[1] + " out of 5 stars"
		}},
	}

	p.reviewRules = []fieldRule{
		{"review-count-link", func(doc *goquery.Document, _ string) string {
			return normalizeReviewCount(doc.Find("#acrCustomerReviewText").First().Text())
		}},
		{"review-text", func(_ *goquery.Document, raw string) string {
			return normalizeReviewCount(html.UnescapeString(raw))
		}},
	}

	return p
}

// Extract produces a record from doc. A single missing field is never
// fatal: unmatched chains yield the NotAvailable sentinel. The error return
// is non-nil only when title, price and rating are all unresolved, which
// leaves no usable signal.
func (p *AmazonParser) Extract(doc *fetcher.Document) (models.Record, error) {
	rec := models.NewRecord(doc.URL)
	rec.Source = models.SourceDetail

	gdoc, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		rec.ASIN = p.extractASIN(doc.URL, nil, doc.HTML())
		return rec, models.WrapError(models.KindExtraction, "failed to parse HTML document", doc.URL, err)
	}
	raw := doc.HTML()

	rec.Title = firstMatch(p.titleRules, gdoc, raw)
	rec.Price = firstMatch(p.priceRules, gdoc, raw)
	rec.ASIN = p.extractASIN(doc.URL, gdoc, raw)
	rec.Rating = firstMatch(p.ratingRules, gdoc, raw)
	rec.ReviewCount = firstMatch(p.reviewRules, gdoc, raw)

	if rec.Title == models.NotAvailable && rec.Price == models.NotAvailable && rec.Rating == models.NotAvailable {
		kind := models.KindExtraction
		message := "no product data could be extracted from the page"
		if doc.BotChallenge {
			kind = models.KindBotChallenge
			message = "Amazon served a bot challenge page instead of product content"
		}
		return rec, models.NewError(kind, message, doc.URL)
	}

	return rec, nil
}

// extractASIN prefers the canonical item path on the URL; that value is
// authoritative and is never replaced by a document heuristic.
func (p *AmazonParser) extractASIN(sourceURL string, doc *goquery.Document, raw string) string {
	if asin, ok := amazonurl.ExtractASIN(sourceURL); ok {
		return asin
	}
	if doc != nil {
		if asin, ok := doc.Find("[data-asin]").First().Attr("data-asin"); ok && len(asin) == 10 {
			return asin
		}
	}
	if m := p.asinAttrPattern.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	if m := p.asinTextPattern.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	return models.NotAvailable
}

// validateTitle collapses whitespace and rejects site-branding boilerplate
// so the page <title> tier cannot win with "Amazon.com: ...".
func validateTitle(text string) string {
	title := strings.TrimSpace(whitespacePattern.ReplaceAllString(html.UnescapeString(text), " "))
	if title == "" || strings.Contains(strings.ToLower(title), "amazon.com") {
		return ""
	}
	return title
}

// validatePrice strips everything but digits and separators and re-prefixes
// the currency symbol.
func validatePrice(text string) string {
	cleaned := strings.Trim(priceCleanPattern.ReplaceAllString(text, ""), ".,")
	if cleaned == "" || !strings.ContainsAny(cleaned, "0123456789") {
		return ""
	}
	return "$" + cleaned
}

// normalizeRating maps any "<value> out of 5"-shaped text to the literal
// phrase "<value> out of 5 stars".
func normalizeRating(text string) string {
	m := ratingTextPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		// "4.5 out of 5" without the word "stars" still counts.
		m = ratingLoosePattern.FindStringSubmatch(text)
		if len(m) < 2 {
			return ""
		}
	}
	return m[1] + " out of 5 stars"
}

// normalizeReviewCount turns a count into "<count> ratings" unless the
// source text already states rating/review, in which case the matched
// phrasing passes through unchanged.
func normalizeReviewCount(text string) string {
	trimmed := strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
	if trimmed == "" {
		return ""
	}
	if bareCountPattern.MatchString(trimmed) {
		return fmt.Sprintf("%s ratings", trimmed)
	}
	for _, pattern := range reviewPatterns {
		if m := pattern.FindStringSubmatch(trimmed); len(m) > 1 {
			return strings.TrimSpace(m[0])
		}
	}
	return ""
}
