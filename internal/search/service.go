package search

import (
	"log"
	"strconv"

	"stepform/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexQuestion pushes a question into the index (fire-and-forget).
func (s *Service) IndexQuestion(question store.Question) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := QuestionRecord{
		ID:        strconv.FormatInt(question.ID, 10),
		NumericID: question.ID,
		Text:      question.Text,
		HelpText:  question.HelpText,
		Type:      question.Type,
		IsFixed:   question.IsFixed,
	}
	go func() {
		if err := s.meili.IndexQuestion(record); err != nil {
			log.Printf("search: index question %d: %v", question.ID, err)
		}
	}()
}

// RemoveQuestion drops a deleted question from the index (fire-and-forget).
func (s *Service) RemoveQuestion(questionID int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteQuestion(questionID); err != nil {
			log.Printf("search: delete question %d: %v", questionID, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
