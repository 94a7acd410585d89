package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches responses using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the user's responses, ranked with ts_rank
// and snippeted with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM responses
		WHERE user_id = $1
		  AND to_tsvector('english', response_text) @@ plainto_tsquery('english', $2)
	`, q.UserID, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, step_number, variant_number, section_title, question_key,
			ts_headline('english', response_text, plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM responses
		WHERE user_id = $1
		  AND to_tsvector('english', response_text) @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(to_tsvector('english', response_text), plainto_tsquery('english', $2)) DESC
		LIMIT %d OFFSET %d`, limit, offset),
		q.UserID, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Step, &r.Variant, &r.Section, &r.Question, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllDocs returns every saved response as an indexable document, for full
// reindexing into Meilisearch.
func (p *PgFTS) LoadAllDocs(ctx context.Context) ([]ResponseDoc, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, step_number, variant_number, section_title, question_key, response_text, updated_at
		FROM responses
	`)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	defer rows.Close()

	docs := make([]ResponseDoc, 0)
	for rows.Next() {
		var d ResponseDoc
		if err := rows.Scan(&d.ID, &d.UserID, &d.Step, &d.Variant, &d.Section, &d.Question, &d.Text, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return docs, nil
}
