package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/sign"
	"github.com/armadahq/datacore/internal/validation"
	"github.com/armadahq/datacore/pkg/api"
)

// EventLog определяет интерфейс записи в event log
type EventLog interface {
	AppendEvent(ctx context.Context, candidate *models.EventCandidate) (*models.AppendOutcome, error)
}

// IngestHandler обрабатывает запись документов в vault
type IngestHandler struct {
	logger *slog.Logger
	vault  EventLog
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(logger *slog.Logger, vault EventLog) *IngestHandler {
	return &IngestHandler{
		logger: logger,
		vault:  vault,
	}
}

// Ingest обрабатывает POST /api/v1/ingest.
// Результат различает три исхода: applied (200), merge_queued (202)
// и duplicate (200 с прежним event id).
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode ingest request", "error", err)
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	candidate, err := candidateFromRequest(&req)
	if err != nil {
		h.logger.Warn("Invalid ingest request",
			"domain", req.Domain,
			"path", req.CanonicalPath,
			"error", err)
		sendError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.vault.AppendEvent(ctx, candidate)
	if err != nil {
		h.logger.Error("Failed to append event",
			"domain", req.Domain,
			"path", req.CanonicalPath,
			"error", err)
		sendError(w, h.logger, http.StatusInternalServerError, "failed to apply event")
		return
	}

	status := http.StatusOK
	if outcome.Outcome == api.OutcomeMergeQueued {
		status = http.StatusAccepted
	}

	sendJSON(w, h.logger, status, api.IngestResponse{
		EventID: outcome.EventID,
		Outcome: outcome.Outcome,
		Cursor:  outcome.Cursor,
	})
}

// candidateFromRequest валидирует запрос и собирает событие-кандидата.
// payload_hash вычисляется сервером из канонического payload; подпись
// писателя проверяется против него в vault.
func candidateFromRequest(req *api.IngestRequest) (*models.EventCandidate, error) {
	if err := validation.ValidateDomain(req.Domain); err != nil {
		return nil, err
	}
	if err := validation.ValidateCanonicalPath(req.CanonicalPath); err != nil {
		return nil, err
	}
	if err := validation.ValidateContent(req.Content); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency_key is required")
	}
	if req.WriterID == "" {
		return nil, fmt.Errorf("writer_id is required")
	}

	switch req.Operation {
	case models.OpUpsert, models.OpDelete:
	case models.OpMove:
		if req.MovedFrom == "" {
			return nil, fmt.Errorf("moved_from is required for move operation")
		}
		if err := validation.ValidateCanonicalPath(req.MovedFrom); err != nil {
			return nil, fmt.Errorf("invalid moved_from: %w", err)
		}
	case models.OpMerge:
		// merge события порождает только merge worker
		return nil, fmt.Errorf("merge operation is not accepted via ingest")
	default:
		return nil, fmt.Errorf("unknown operation %q", req.Operation)
	}

	metadata, err := mergeMovedFrom(req.Metadata, req.MovedFrom)
	if err != nil {
		return nil, err
	}

	return &models.EventCandidate{
		IdempotencyKey: req.IdempotencyKey,
		Operation:      req.Operation,
		Domain:         req.Domain,
		CanonicalPath:  req.CanonicalPath,
		Content:        req.Content,
		Metadata:       metadata,
		WriterID:       req.WriterID,
		Signature:      req.Signature,
		PayloadHash:    sign.PayloadHash(req.Domain, req.CanonicalPath, req.Operation, req.Content),
		BasedOnEventID: req.BasedOnEventID,
		OccurredAt:     req.OccurredAt,
		Deleted:        req.Operation == models.OpDelete,
	}, nil
}

// mergeMovedFrom вписывает moved_from в metadata JSON: старый путь должен
// ехать внутри события, чтобы move реплицировался без отдельных полей
func mergeMovedFrom(metadata, movedFrom string) (string, error) {
	if metadata != "" && !json.Valid([]byte(metadata)) {
		return "", fmt.Errorf("metadata must be valid JSON")
	}
	if movedFrom == "" {
		return metadata, nil
	}

	meta := map[string]interface{}{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
			return "", fmt.Errorf("metadata must be a JSON object for move: %w", err)
		}
	}
	meta["moved_from"] = movedFrom

	out, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(out), nil
}
