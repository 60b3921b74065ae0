package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/amrrdev/quizscan/internal/index"
	"github.com/rs/zerolog"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type QuestionSearcher interface {
	Search(ctx context.Context, userID, query string, topK int) ([]index.Result, error)
}

type Search struct {
	searcher QuestionSearcher
	logger   zerolog.Logger
}

func NewSearch(searcher QuestionSearcher, logger zerolog.Logger) *Search {
	return &Search{searcher: searcher, logger: logger}
}

func (s *Search) Search(ctx context.Context, userID, query string, limit int) ([]index.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, err := s.searcher.Search(ctx, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", ErrUnavailable, err)
	}
	s.logger.Debug().Str("query", query).Int("results", len(results)).Msg("🔍 Search")
	return results, nil
}
