package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/armadahq/datacore/pkg/api"
)

// Searcher определяет интерфейс поиска по vault
type Searcher interface {
	Search(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error)
}

// QueryHandler обрабатывает поисковые запросы
type QueryHandler struct {
	logger *slog.Logger
	search Searcher
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(logger *slog.Logger, search Searcher) *QueryHandler {
	return &QueryHandler{
		logger: logger,
		search: search,
	}
}

// Query обрабатывает GET /api/v1/query?q=...&domain=...&path_prefix=...&mode=...&k=...
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	req := &api.QueryRequest{
		Query:      params.Get("q"),
		Domain:     params.Get("domain"),
		PathPrefix: params.Get("path_prefix"),
		Mode:       params.Get("mode"),
	}

	if req.Query == "" {
		sendError(w, h.logger, http.StatusBadRequest, "q parameter is required")
		return
	}
	if req.Mode != "" && req.Mode != api.QueryModeHybrid && req.Mode != api.QueryModeLexical {
		sendError(w, h.logger, http.StatusBadRequest, "mode must be hybrid or lexical")
		return
	}

	if kStr := params.Get("k"); kStr != "" {
		k, err := strconv.Atoi(kStr)
		if err != nil || k <= 0 {
			sendError(w, h.logger, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		req.K = k
	}

	resp, err := h.search.Search(ctx, req)
	if err != nil {
		h.logger.Error("Query failed", "query", req.Query, "error", err)
		sendError(w, h.logger, http.StatusInternalServerError, "query failed")
		return
	}

	sendJSON(w, h.logger, http.StatusOK, resp)
}
