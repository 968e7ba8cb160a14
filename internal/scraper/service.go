// Package scraper composes the pipeline: classify the URL, fetch the
// document, then either extract a single record or expand a listing into
// per-item records.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/maltedev/amazon-product-scraper/internal/amazonurl"
	"github.com/maltedev/amazon-product-scraper/internal/fetcher"
	"github.com/maltedev/amazon-product-scraper/internal/models"
)

// Fetcher retrieves one document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Document, error)
}

// Extractor turns a fetched document into a record.
type Extractor interface {
	Extract(doc *fetcher.Document) (models.Record, error)
}

// Expander turns a fetched listing document into an aggregate of records.
type Expander interface {
	Expand(ctx context.Context, doc *fetcher.Document, class amazonurl.PageClass) (*models.ListResult, error)
}

type Service struct {
	fetcher   Fetcher
	extractor Extractor
	expander  Expander
	logger    *slog.Logger
}

func NewService(f Fetcher, e Extractor, x Expander, logger *slog.Logger) *Service {
	return &Service{
		fetcher:   f,
		extractor: e,
		expander:  x,
		logger:    logger.With("component", "scraper"),
	}
}

// Scrape handles one caller-supplied URL end to end. Every failure is
// normalized to a *models.Error so callers can switch on the kind.
func (s *Service) Scrape(ctx context.Context, rawURL string) (*models.Outcome, error) {
	sessionID := uuid.NewString()
	log := s.logger.With("session_id", sessionID)

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, models.NewError(models.KindInvalidInput, "URL is required", rawURL)
	}
	if !amazonurl.IsAmazonHost(rawURL) {
		return nil, models.NewError(models.KindInvalidInput, "Please enter a valid Amazon URL", rawURL)
	}

	desc := amazonurl.Classify(rawURL)
	log.Info("starting scrape session",
		"url", rawURL,
		"normalized", desc.Normalized,
		"class", desc.Class,
	)

	doc, err := s.fetcher.Fetch(ctx, desc.Normalized)
	if err != nil {
		return nil, s.normalize(err, rawURL)
	}

	switch desc.Class {
	case amazonurl.PageSearch, amazonurl.PageCategory, amazonurl.PageStore:
		list, err := s.expander.Expand(ctx, doc, desc.Class)
		if err != nil {
			// Store pages occasionally resolve to a single hero product;
			// retry the same fetched document as a product page before
			// giving up.
			if desc.Class == amazonurl.PageStore && isNoItems(err) {
				if rec, xerr := s.extractor.Extract(doc); xerr == nil {
					log.Info("store page resolved as single product", "url", rawURL)
					return &models.Outcome{SessionID: sessionID, Record: &rec}, nil
				}
			}
			return nil, s.normalize(err, rawURL)
		}
		log.Info("scrape session completed",
			"items", len(list.Items),
			"success_ratio", list.SuccessRatio,
		)
		return &models.Outcome{SessionID: sessionID, List: list}, nil

	default:
		// Product pages, plus unrecognized Amazon URLs scraped
		// opportunistically as a single item.
		rec, err := s.extractor.Extract(doc)
		if err != nil {
			return nil, s.normalize(err, rawURL)
		}
		log.Info("scrape session completed", "asin", rec.ASIN)
		return &models.Outcome{SessionID: sessionID, Record: &rec}, nil
	}
}

// normalize guarantees the returned error carries a kind and the request
// URL.
func (s *Service) normalize(err error, url string) error {
	var pe *models.Error
	if errors.As(err, &pe) {
		if pe.URL == "" {
			pe.URL = url
		}
		return pe
	}
	return models.WrapError(models.KindUnknown, "scraping failed", url, err)
}

func isNoItems(err error) bool {
	return models.KindOf(err) == models.KindExtraction
}
