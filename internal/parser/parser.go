package parser

import (
	"github.com/maltedev/amazon-product-scraper/internal/fetcher"
	"github.com/maltedev/amazon-product-scraper/internal/models"
)

// Parser turns a fetched document into a product record.
type Parser interface {
	Extract(doc *fetcher.Document) (models.Record, error)
}
