package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/amazon-product-scraper/internal/amazonurl"
	"github.com/maltedev/amazon-product-scraper/internal/fetcher"
	"github.com/maltedev/amazon-product-scraper/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubFetcher struct {
	doc *fetcher.Document
	err error

	fetchedURL string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (*fetcher.Document, error) {
	s.fetchedURL = url
	if s.err != nil {
		return nil, s.err
	}
	doc := *s.doc
	doc.URL = url
	return &doc, nil
}

type stubExtractor struct {
	rec models.Record
	err error
}

func (s *stubExtractor) Extract(doc *fetcher.Document) (models.Record, error) {
	return s.rec, s.err
}

type stubExpander struct {
	result *models.ListResult
	err    error

	class amazonurl.PageClass
}

func (s *stubExpander) Expand(_ context.Context, _ *fetcher.Document, class amazonurl.PageClass) (*models.ListResult, error) {
	s.class = class
	return s.result, s.err
}

func testDoc() *fetcher.Document {
	return &fetcher.Document{StatusCode: 200, Body: []byte("<html>page</html>")}
}

func TestScrapeRejectsEmptyURL(t *testing.T) {
	s := NewService(&stubFetcher{doc: testDoc()}, &stubExtractor{}, &stubExpander{}, testLogger())

	_, err := s.Scrape(context.Background(), "   ")

	require.Error(t, err)
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))
	assert.Equal(t, "URL is required", models.MessageOf(err))
}

func TestScrapeRejectsNonAmazonURL(t *testing.T) {
	s := NewService(&stubFetcher{doc: testDoc()}, &stubExtractor{}, &stubExpander{}, testLogger())

	_, err := s.Scrape(context.Background(), "https://www.example.com/dp/B000000001")

	require.Error(t, err)
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))
}

func TestScrapeProductPage(t *testing.T) {
	rec := models.NewRecord("https://www.amazon.com/dp/B000000001")
	rec.Title = "Test Product"
	rec.ASIN = "B000000001"

	f := &stubFetcher{doc: testDoc()}
	s := NewService(f, &stubExtractor{rec: rec}, &stubExpander{}, testLogger())

	outcome, err := s.Scrape(context.Background(), "https://www.amazon.com/dp/B000000001?tag=aff-20")

	require.NoError(t, err)
	require.NotNil(t, outcome.Record)
	assert.Nil(t, outcome.List)
	assert.Equal(t, "Test Product", outcome.Record.Title)

	// The session identifier is a valid UUID.
	_, parseErr := uuid.Parse(outcome.SessionID)
	assert.NoError(t, parseErr)

	// The fetch goes to the normalized URL, tracking params stripped.
	assert.Equal(t, "https://www.amazon.com/dp/B000000001", f.fetchedURL)
}

func TestScrapeSearchPage(t *testing.T) {
	list := &models.ListResult{
		Items:        []models.Record{models.NewRecord("https://www.amazon.com/dp/B000000001")},
		SuccessRatio: 1,
	}
	x := &stubExpander{result: list}
	s := NewService(&stubFetcher{doc: testDoc()}, &stubExtractor{}, x, testLogger())

	outcome, err := s.Scrape(context.Background(), "https://www.amazon.com/s?k=headphones")

	require.NoError(t, err)
	require.NotNil(t, outcome.List)
	assert.Nil(t, outcome.Record)
	assert.Equal(t, amazonurl.PageSearch, x.class)
	assert.Len(t, outcome.List.Items, 1)
}

func TestScrapeStoreHeroFallback(t *testing.T) {
	// A store page with no discoverable listing items but valid product
	// content resolves as a single product.
	rec := models.NewRecord("https://www.amazon.com/stores/Brand/page/ABC")
	rec.Title = "Hero Product"

	x := &stubExpander{err: models.NewError(models.KindExtraction, "no product items found on listing page", "")}
	s := NewService(&stubFetcher{doc: testDoc()}, &stubExtractor{rec: rec}, x, testLogger())

	outcome, err := s.Scrape(context.Background(), "https://www.amazon.com/stores/Brand/page/ABC")

	require.NoError(t, err)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, "Hero Product", outcome.Record.Title)
}

func TestScrapeStoreExpandFailurePropagates(t *testing.T) {
	// Non-extraction expander failures are not eligible for the hero
	// fallback.
	x := &stubExpander{err: models.NewError(models.KindRateLimited, "slow down", "")}
	s := NewService(&stubFetcher{doc: testDoc()}, &stubExtractor{}, x, testLogger())

	_, err := s.Scrape(context.Background(), "https://www.amazon.com/stores/Brand/page/ABC")

	require.Error(t, err)
	assert.Equal(t, models.KindRateLimited, models.KindOf(err))
}

func TestScrapeNormalizesForeignErrors(t *testing.T) {
	f := &stubFetcher{err: errors.New("socket closed unexpectedly")}
	s := NewService(f, &stubExtractor{}, &stubExpander{}, testLogger())

	_, err := s.Scrape(context.Background(), "https://www.amazon.com/dp/B000000001")

	require.Error(t, err)
	var pe *models.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.KindUnknown, pe.Kind)
	assert.Equal(t, "https://www.amazon.com/dp/B000000001", pe.URL)
}
