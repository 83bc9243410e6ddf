package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/storage"
	"github.com/armadahq/datacore/internal/syncer"
	"github.com/armadahq/datacore/internal/validation"
	"github.com/armadahq/datacore/pkg/api"
)

// Projections определяет интерфейс чтения projections и истории документа
type Projections interface {
	GetLatest(ctx context.Context, domain, path string) (*models.DocumentProjection, error)
	History(ctx context.Context, domain, path string, limit int) ([]*models.Event, error)
}

const defaultHistoryLimit = 50

// DocumentsHandler обрабатывает чтение документов
type DocumentsHandler struct {
	logger *slog.Logger
	vault  Projections
}

// NewDocumentsHandler creates a new documents handler
func NewDocumentsHandler(logger *slog.Logger, vault Projections) *DocumentsHandler {
	return &DocumentsHandler{
		logger: logger,
		vault:  vault,
	}
}

// Get обрабатывает GET /api/v1/documents/{domain}/{path...}.
// Возвращает текущую projection; удаленный документ отдает 404,
// как и никогда не существовавший.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain := r.PathValue("domain")
	path := r.PathValue("path")

	if err := validation.ValidateDomain(domain); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateCanonicalPath(path); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.vault.GetLatest(ctx, domain, path)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			sendError(w, h.logger, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("Failed to load document", "domain", domain, "path", path, "error", err)
		sendError(w, h.logger, http.StatusInternalServerError, "failed to load document")
		return
	}
	if doc.IsDeleted() {
		sendError(w, h.logger, http.StatusNotFound, "document not found")
		return
	}

	sendJSON(w, h.logger, http.StatusOK, doc)
}

// History обрабатывает GET /api/v1/history/{domain}/{path...}?limit=n.
// Возвращает события документа, новые первыми.
func (h *DocumentsHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain := r.PathValue("domain")
	path := r.PathValue("path")

	if err := validation.ValidateDomain(domain); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateCanonicalPath(path); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			sendError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.vault.History(ctx, domain, path, limit)
	if err != nil {
		h.logger.Error("Failed to load history", "domain", domain, "path", path, "error", err)
		sendError(w, h.logger, http.StatusInternalServerError, "failed to load history")
		return
	}
	if len(events) == 0 {
		sendError(w, h.logger, http.StatusNotFound, "document not found")
		return
	}

	wire := make([]api.SyncEvent, 0, len(events))
	for _, event := range events {
		wire = append(wire, syncer.WireFromEvent(event))
	}
	sendJSON(w, h.logger, http.StatusOK, wire)
}
