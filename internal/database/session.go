package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maltedev/amazon-product-scraper/internal/models"
)

// Session is one completed scrape, single-product or listing.
type Session struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	PageClass    string          `json:"pageClass"`
	ItemCount    int             `json:"itemCount"`
	SuccessRatio float64         `json:"successRatio"`
	Records      []models.Record `json:"records"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SaveSession stores the outcome of a scrape. Records are persisted as a
// JSONB array so the table schema stays stable across field changes.
func (db *DB) SaveSession(ctx context.Context, s *Session) error {
	recordsJSON, err := json.Marshal(s.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	query := `
		INSERT INTO scrape_sessions (id, url, page_class, item_count, success_ratio, records)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err = db.pool.QueryRow(ctx, query,
		s.ID, s.URL, s.PageClass, s.ItemCount, s.SuccessRatio, recordsJSON,
	).Scan(&s.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

// RecentSessions returns the latest sessions, newest first.
func (db *DB) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, url, page_class, item_count, success_ratio, records, created_at
		FROM scrape_sessions
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var recordsJSON []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.PageClass, &s.ItemCount,
			&s.SuccessRatio, &recordsJSON, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if len(recordsJSON) > 0 {
			if err := json.Unmarshal(recordsJSON, &s.Records); err != nil {
				return nil, fmt.Errorf("failed to unmarshal records: %w", err)
			}
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}
