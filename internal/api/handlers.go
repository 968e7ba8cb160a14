package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/maltedev/amazon-product-scraper/internal/database"
	"github.com/maltedev/amazon-product-scraper/internal/models"
)

const (
	ServiceName = "Amazon Product Scraper"
	Version     = "2.1.0"
)

// Scraper runs one scrape end to end.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string) (*models.Outcome, error)
}

// History persists completed sessions. Nil when no database is
// configured.
type History interface {
	SaveSession(ctx context.Context, s *database.Session) error
	RecentSessions(ctx context.Context, limit int) ([]database.Session, error)
}

type Handlers struct {
	scraper Scraper
	history History
	logger  *slog.Logger
}

func NewHandlers(scraper Scraper, history History, logger *slog.Logger) *Handlers {
	return &Handlers{
		scraper: scraper,
		history: history,
		logger:  logger.With("component", "api"),
	}
}

// ScrapeRequest represents a scrape request for a single Amazon URL
type ScrapeRequest struct {
	URL string `json:"url"`
}

// ScrapeResponse wraps either a single record or an expanded listing
type ScrapeResponse struct {
	Success      bool    `json:"success"`
	Data         any     `json:"data"`
	Count        int     `json:"count"`
	IsListResult bool    `json:"isListResult"`
	SuccessRatio float64 `json:"successRatio,omitempty"`
}

// ErrorResponse is the error payload for failed scrapes
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// Scrape handles POST /scrape
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		status := statusForError(err)
		h.logger.Error("scrape failed",
			"url", req.URL,
			"kind", models.KindOf(err).String(),
			"status", status,
			"error", err,
		)
		h.respondError(w, status, models.MessageOf(err))
		return
	}

	resp := ScrapeResponse{Success: true}
	if outcome.List != nil {
		resp.Data = outcome.List.Items
		resp.Count = len(outcome.List.Items)
		resp.IsListResult = true
		resp.SuccessRatio = outcome.List.SuccessRatio
	} else {
		resp.Data = outcome.Record
		resp.Count = 1
	}

	h.saveSession(r.Context(), req.URL, outcome)
	h.respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   ServiceName,
		"version":   Version,
	})
}

// HistoryList handles GET /history
func (h *Handlers) HistoryList(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := h.history.RecentSessions(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load history", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if sessions == nil {
		sessions = []database.Session{}
	}

	h.respondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) saveSession(ctx context.Context, url string, outcome *models.Outcome) {
	if h.history == nil {
		return
	}

	s := &database.Session{
		ID:  outcome.SessionID,
		URL: url,
	}
	if outcome.List != nil {
		s.Records = outcome.List.Items
		s.ItemCount = len(outcome.List.Items)
		s.SuccessRatio = outcome.List.SuccessRatio
		s.PageClass = "listing"
	} else if outcome.Record != nil {
		s.Records = []models.Record{*outcome.Record}
		s.ItemCount = 1
		s.SuccessRatio = 1
		s.PageClass = "product"
	}

	if err := h.history.SaveSession(ctx, s); err != nil {
		// History is best effort; the scrape already succeeded.
		h.logger.Warn("failed to save session", "session_id", s.ID, "error", err)
	}
}

// statusForError maps the error kind to an HTTP status. Kinds are a
// closed set, so the mapping never inspects message text.
func statusForError(err error) int {
	var pe *models.Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}

	switch pe.Kind {
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindTimeout:
		return http.StatusRequestTimeout
	case models.KindExtraction, models.KindBotChallenge:
		return http.StatusUnprocessableEntity
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindNetwork:
		return http.StatusBadGateway
	case models.KindUpstreamServer:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:      http.StatusText(status),
		Message:    message,
		StatusCode: status,
	})
}
