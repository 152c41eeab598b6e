package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the questions table with ts_headline
// snippets, ranked by ts_rank.
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

	where := `q.fts @@ plainto_tsquery('simple', $1)`
	args := []any{q.Text}
	if q.FilterType != "" {
		where += fmt.Sprintf(" AND q.question_type = $%d", len(args)+1)
		args = append(args, q.FilterType)
	}

	countQuery := `SELECT COUNT(*) FROM questions q WHERE ` + where
	var total int
	if err := p.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count question hits: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT q.id, q.question_text, q.question_type, q.is_fixed,
			ts_headline('simple', q.question_text, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM questions q
		WHERE %s
		ORDER BY ts_rank(q.fts, plainto_tsquery('simple', $1)) DESC, q.id
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search questions: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.QuestionID, &r.Text, &r.Type, &r.IsFixed, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("scan question hit: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate question hits: %w", err)
	}
	return results, total, nil
}
