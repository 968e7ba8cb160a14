package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/amazon-product-scraper/internal/fetcher"
	"github.com/maltedev/amazon-product-scraper/internal/models"
)

func doc(url, html string) *fetcher.Document {
	return &fetcher.Document{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(html)}
}

func TestExtractFullProductPage(t *testing.T) {
	p := NewAmazonParser()

	html := `<html><head><title>Amazon.com: Echo Dot</title></head><body>
		<span id="productTitle"> Echo Dot (5th Gen)   Smart Speaker </span>
		<span class="a-price-whole">49.99</span>
		<span class="a-icon-alt">4.7 out of 5 stars</span>
		<span id="acrCustomerReviewText">12,345 ratings</span>
	</body></html>`

	rec, err := p.Extract(doc("https://www.amazon.com/dp/B09B8V1LZ3", html))
	require.NoError(t, err)

	assert.Equal(t, "Echo Dot (5th Gen) Smart Speaker", rec.Title)
	assert.Equal(t, "$49.99", rec.Price)
	assert.Equal(t, "B09B8V1LZ3", rec.ASIN)
	assert.Equal(t, "4.7 out of 5 stars", rec.Rating)
	assert.Equal(t, "12,345 ratings", rec.ReviewCount)
	assert.Equal(t, models.SourceDetail, rec.Source)
}

func TestExtractTitleFallbacks(t *testing.T) {
	p := NewAmazonParser()

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "Primary selector wins",
			html:     `<span id="productTitle">Primary Title</span><h1 class="product-title-word-break">Secondary</h1>`,
			expected: "Primary Title",
		},
		{
			name:     "Heading fallback",
			html:     `<h1 class="product-title-word-break">Heading Title</h1>`,
			expected: "Heading Title",
		},
		{
			name:     "Document title fallback",
			html:     `<html><head><title>Standalone Product Name</title></head><body></body></html>`,
			expected: "Standalone Product Name",
		},
		{
			name:     "Boilerplate document title is rejected",
			html:     `<html><head><title>Amazon.com: Echo Dot</title></head><body><span class="a-price-whole">10</span></body></html>`,
			expected: models.NotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := p.Extract(doc("https://www.amazon.com/dp/B09B8V1LZ3", tt.html))
			assert.Equal(t, tt.expected, rec.Title)
		})
	}
}

func TestExtractPriceFallbacks(t *testing.T) {
	p := NewAmazonParser()

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "Offscreen price",
			html:     `<span id="productTitle">X</span><span class="a-offscreen">$23.50</span>`,
			expected: "$23.50",
		},
		{
			name:     "Loose price class",
			html:     `<span id="productTitle">X</span><span class="priceToPay">99</span>`,
			expected: "$99",
		},
		{
			name:     "Text pattern over raw markup",
			html:     `<span id="productTitle">X</span><div>List Price: $129.00</div>`,
			expected: "$129.00",
		},
		{
			name:     "No price resolves to sentinel",
			html:     `<span id="productTitle">X</span>`,
			expected: models.NotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Extract(doc("https://www.amazon.com/dp/B09B8V1LZ3", tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rec.Price)
		})
	}
}

func TestExtractRatingNormalization(t *testing.T) {
	p := NewAmazonParser()

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "Icon alt text",
			html:     `<span id="productTitle">X</span><span class="a-icon-alt">4.5 out of 5 stars</span>`,
			expected: "4.5 out of 5 stars",
		},
		{
			name:     "Phrase without stars suffix is normalized",
			html:     `<span id="productTitle">X</span><div>Rated 3.9 out of 5 by buyers</div>`,
			expected: "3.9 out of 5 stars",
		},
		{
			name:     "No rating resolves to sentinel",
			html:     `<span id="productTitle">X</span>`,
			expected: models.NotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Extract(doc("https://www.amazon.com/dp/B09B8V1LZ3", tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rec.Rating)
		})
	}
}

func TestExtractReviewCountNormalization(t *testing.T) {
	p := NewAmazonParser()

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "Ratings phrase passes through",
			html:     `<span id="productTitle">X</span><span id="acrCustomerReviewText">1,024 ratings</span>`,
			expected: "1,024 ratings",
		},
		{
			name:     "Bare count gains suffix",
			html:     `<span id="productTitle">X</span><span id="acrCustomerReviewText">512</span>`,
			expected: "512 ratings",
		},
		{
			name:     "Customer reviews phrase from raw text",
			html:     `<span id="productTitle">X</span><div>873 customer reviews</div>`,
			expected: "873 customer reviews",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Extract(doc("https://www.amazon.com/dp/B09B8V1LZ3", tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rec.ReviewCount)
		})
	}
}

func TestExtractASINPriority(t *testing.T) {
	p := NewAmazonParser()

	// The URL identifier wins even when the document carries a different
	// one.
	html := `<span id="productTitle">X</span><div data-asin="B0DOCASIN9"></div>`
	rec, err := p.Extract(doc("https://www.amazon.com/dp/B0FROMURL1", html))
	require.NoError(t, err)
	assert.Equal(t, "B0FROMURL1", rec.ASIN)

	// Without a URL identifier the document attribute is used.
	rec, err = p.Extract(doc("https://www.amazon.com/gp/browse", html))
	require.NoError(t, err)
	assert.Equal(t, "B0DOCASIN9", rec.ASIN)
}

func TestExtractAllFieldsMissing(t *testing.T) {
	p := NewAmazonParser()

	html := `<html><head><title>Amazon.com</title></head><body><div>nothing useful here</div></body></html>`
	rec, err := p.Extract(doc("https://www.amazon.com/dp/B09B8V1LZ3", html))

	require.Error(t, err)
	assert.Equal(t, models.KindExtraction, models.KindOf(err))
	// The record still comes back with sentinel fields.
	assert.Equal(t, models.NotAvailable, rec.Title)
	assert.Equal(t, "B09B8V1LZ3", rec.ASIN)
}

func TestExtractBotChallengeEscalation(t *testing.T) {
	p := NewAmazonParser()

	html := `<html><head><title>Amazon.com</title></head><body>
		<p>Enter the characters you see below</p>
	</body></html>`
	d := doc("https://www.amazon.com/dp/B09B8V1LZ3", html)
	d.BotChallenge = true

	_, err := p.Extract(d)
	require.Error(t, err)
	assert.Equal(t, models.KindBotChallenge, models.KindOf(err))
}

func TestExtractBotChallengeWithContent(t *testing.T) {
	p := NewAmazonParser()

	// A flagged document that still carries product content extracts
	// normally.
	html := `<span id="productTitle">Cached Product</span><span class="a-price-whole">15</span>`
	d := doc("https://www.amazon.com/dp/B09B8V1LZ3", html)
	d.BotChallenge = true

	rec, err := p.Extract(d)
	require.NoError(t, err)
	assert.Equal(t, "Cached Product", rec.Title)
	assert.Equal(t, "$15", rec.Price)
}
