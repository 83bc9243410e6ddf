package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/plugin"
	"github.com/armadahq/datacore/internal/storage"
	"github.com/armadahq/datacore/pkg/api"
)

// Store определяет срез хранилища, нужный query engine
type Store interface {
	SearchChunks(ctx context.Context, domain, pathPrefix string, candidateLimit int) ([]*models.Chunk, error)
	GetDocument(ctx context.Context, domain, path string) (*models.DocumentProjection, error)
	ResolveDocumentMapping(ctx context.Context, workspaceSlug, remoteDocID string) (*models.PluginDocumentMapping, error)
	ResolveDocumentMappingByDocID(ctx context.Context, remoteDocID string) (*models.PluginDocumentMapping, error)
}

// Service отвечает на hybrid/lexical запросы.
// Плагин инжектируется как plugin.Index; любой его сбой деградирует
// в локальный поиск (fail-open), никогда не доходя до вызывающего.
type Service struct {
	store          Store
	index          plugin.Index
	logger         *slog.Logger
	candidateLimit int
	topKDefault    int
}

// NewService creates a new query service
func NewService(store Store, index plugin.Index, logger *slog.Logger, candidateLimit, topKDefault int) *Service {
	return &Service{
		store:          store,
		index:          index,
		logger:         logger,
		candidateLimit: candidateLimit,
		topKDefault:    topKDefault,
	}
}

// Search выполняет поиск по vault.
//   - lexical всегда работает только по локальному chunk index, даже при
//     включенном плагине;
//   - hybrid пробует плагин и откатывается в локальный поиск, если плагин
//     вернул ошибку, ноль результатов или ноль валидных citations.
func (s *Service) Search(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query text is required")
	}

	mode := req.Mode
	if mode == "" {
		mode = api.QueryModeHybrid
	}
	if mode != api.QueryModeHybrid && mode != api.QueryModeLexical {
		return nil, fmt.Errorf("unknown query mode %q", mode)
	}

	k := req.K
	if k <= 0 {
		k = s.topKDefault
	}

	if mode == api.QueryModeLexical || !s.index.Enabled() {
		results, err := s.queryLocal(ctx, req, k)
		if err != nil {
			return nil, err
		}
		return &api.QueryResponse{Mode: mode, Results: results, FallbackUsed: false}, nil
	}

	results, ok := s.queryPlugin(ctx, req, k)
	if ok {
		return &api.QueryResponse{Mode: mode, Results: results, FallbackUsed: false}, nil
	}

	// Fail-open: деградируем в локальный поиск, не пробрасывая ошибку
	local, err := s.queryLocal(ctx, req, k)
	if err != nil {
		return nil, err
	}
	return &api.QueryResponse{Mode: mode, Results: local, FallbackUsed: true}, nil
}

// queryPlugin пробует внешний индекс; false — нужен локальный fallback
func (s *Service) queryPlugin(ctx context.Context, req *api.QueryRequest, k int) ([]api.QueryResult, bool) {
	hybridResults, err := s.index.QueryHybrid(ctx, plugin.HybridQuery{
		Query:      req.Query,
		Domain:     req.Domain,
		PathPrefix: req.PathPrefix,
		K:          k,
	})
	if err != nil {
		s.logger.Warn("Plugin hybrid query failed, falling back to local", "error", err)
		return nil, false
	}

	if len(hybridResults) == 0 {
		return nil, false
	}

	results := make([]api.QueryResult, 0, len(hybridResults))
	for _, r := range hybridResults {
		mapping, err := s.resolveMapping(ctx, r)
		if err != nil {
			if !errors.Is(err, storage.ErrDocumentNotFound) {
				s.logger.Warn("Failed to resolve plugin citation",
					"remote_doc_id", r.RemoteDocID, "error", err)
			}
			continue
		}

		title := ""
		if doc, err := s.store.GetDocument(ctx, mapping.Domain, mapping.CanonicalPath); err == nil && !doc.IsDeleted() {
			title = doc.Title
		}

		results = append(results, api.QueryResult{
			Domain:        mapping.Domain,
			CanonicalPath: mapping.CanonicalPath,
			Title:         title,
			Excerpt:       excerpt(r.Snippet),
			Score:         r.Score,
			Citations: []api.Citation{{
				Domain:        mapping.Domain,
				CanonicalPath: mapping.CanonicalPath,
				Heading:       r.Heading,
			}},
		})
	}

	// Ни один результат не резолвится в известный документ — fallback
	if len(results) == 0 {
		s.logger.Warn("Plugin returned results with no resolvable citations, falling back to local")
		return nil, false
	}

	if len(results) > k {
		results = results[:k]
	}

	return results, true
}

func (s *Service) resolveMapping(ctx context.Context, r plugin.HybridResult) (*models.PluginDocumentMapping, error) {
	if r.WorkspaceSlug != "" {
		return s.store.ResolveDocumentMapping(ctx, r.WorkspaceSlug, r.RemoteDocID)
	}
	return s.store.ResolveDocumentMappingByDocID(ctx, r.RemoteDocID)
}

// queryLocal ранжирует chunk index против запроса.
// Скан ограничен candidateLimit; результат детерминирован для
// одинаковых входов.
func (s *Service) queryLocal(ctx context.Context, req *api.QueryRequest, k int) ([]api.QueryResult, error) {
	chunks, err := s.store.SearchChunks(ctx, req.Domain, req.PathPrefix, s.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk candidates: %w", err)
	}

	queryTerms := Tokenize(req.Query)
	ranked := rankChunks(queryTerms, chunks)

	// Группируем chunks по документу: score документа — его лучший chunk,
	// citations — до трех лучших chunks
	docs := make(map[string]*api.QueryResult)
	results := make([]*api.QueryResult, 0, k)

	for _, sc := range ranked {
		key := sc.chunk.Domain + "\x00" + sc.chunk.CanonicalPath
		result, exists := docs[key]
		if !exists {
			if len(results) >= k {
				continue
			}
			title := lastSegment(sc.chunk.CanonicalPath)
			if doc, err := s.store.GetDocument(ctx, sc.chunk.Domain, sc.chunk.CanonicalPath); err == nil {
				title = doc.Title
			}
			result = &api.QueryResult{
				Domain:        sc.chunk.Domain,
				CanonicalPath: sc.chunk.CanonicalPath,
				Title:         title,
				Excerpt:       excerpt(sc.chunk.Content),
				Score:         float64(sc.score),
			}
			docs[key] = result
			results = append(results, result)
		}

		if len(result.Citations) < 3 {
			result.Citations = append(result.Citations, api.Citation{
				Domain:        sc.chunk.Domain,
				CanonicalPath: sc.chunk.CanonicalPath,
				Heading:       sc.chunk.Heading,
				ChunkIndex:    sc.chunk.ChunkIndex,
			})
		}
	}

	out := make([]api.QueryResult, 0, len(results))
	for _, r := range results {
		out = append(out, *r)
	}

	return out, nil
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
