// Package search provides full-text search across a user's saved workbook
// responses, via Meilisearch when available and PostgreSQL FTS otherwise.
package search

import "time"

type Query struct {
	UserID string
	Text   string
	Limit  int
	Offset int
}

type Result struct {
	ID       string `json:"id"`
	Step     int    `json:"step"`
	Variant  int    `json:"variant"`
	Section  string `json:"section"`
	Question string `json:"question"`
	Snippet  string `json:"snippet"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ResponseDoc is the indexed shape of one saved answer.
type ResponseDoc struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Step      int       `json:"step"`
	Variant   int       `json:"variant"`
	Section   string    `json:"section"`
	Question  string    `json:"question"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}
