// Package search finds questions in the builder's question library, so an
// editor can reuse an existing question instead of authoring a duplicate.
// Meilisearch is the primary backend with Postgres FTS as the fallback.
package search

// Result is a single question hit returned to the builder.
type Result struct {
	QuestionID int64  `json:"questionId"`
	Text       string `json:"text"`
	Snippet    string `json:"snippet"`
	Type       string `json:"type"`
	IsFixed    bool   `json:"isFixed"`
}

// Query describes a question-library search request.
type Query struct {
	Text       string
	FilterType string // empty = all question types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a question search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// QuestionRecord is the data indexed per question. Meilisearch primary keys
// are strings, so the numeric id is carried twice.
type QuestionRecord struct {
	ID        string `json:"id"`
	NumericID int64  `json:"numericId"`
	Text      string `json:"text"`
	HelpText  string `json:"helpText"`
	Type      string `json:"type"`
	IsFixed   bool   `json:"isFixed"`
}
