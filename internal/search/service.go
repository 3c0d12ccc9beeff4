package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   *zap.Logger
}

// NewService creates a search service. Either backend may be nil.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: logger.Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Warn("pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNode indexes a node (fire-and-forget to Meilisearch).
func (s *Service) IndexNode(rec NodeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexNode(rec); err != nil {
			s.log.Warn("index node", zap.String("node", rec.ID), zap.Error(err))
		}
	}()
}

// LoadNodes lists every stored node as a bare index record. Callers fill in
// annotations before indexing.
func (s *Service) LoadNodes(ctx context.Context) ([]NodeRecord, error) {
	if s.pgfts == nil {
		return []NodeRecord{}, nil
	}
	return s.pgfts.LoadNodes(ctx)
}

// IndexNodes replaces the given records in Meilisearch and waits for the
// request to be accepted. It is a no-op while Meilisearch is unavailable.
func (s *Service) IndexNodes(records []NodeRecord) error {
	if s.meili == nil || !s.meili.Healthy() {
		s.log.Info("meilisearch unavailable, skipping bulk index", zap.Int("records", len(records)))
		return nil
	}
	if err := s.meili.IndexNodes(records); err != nil {
		return fmt.Errorf("index nodes: %w", err)
	}
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
