package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/syncer"
	"github.com/armadahq/datacore/pkg/api"
)

// Replication определяет срез vault, нужный обмену с пирами
type Replication interface {
	AppendEvent(ctx context.Context, candidate *models.EventCandidate) (*models.AppendOutcome, error)
	ListSince(ctx context.Context, after int64, limit int) ([]*models.Event, error)
}

// SyncHandler обрабатывает push/pull репликацию между пирами
type SyncHandler struct {
	logger   *slog.Logger
	vault    Replication
	maxBatch int
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, vault Replication, maxBatch int) *SyncHandler {
	return &SyncHandler{
		logger:   logger,
		vault:    vault,
		maxBatch: maxBatch,
	}
}

// Push обрабатывает POST /api/v1/sync/push.
// Батч применяется по одному событию; повторная доставка того же батча
// безопасна — дубликаты отсекает idempotency key. acked_cursor сообщает
// отправителю, до какого его курсора батч принят.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	peerID, ok := GetPeerCoreID(ctx)
	if !ok {
		h.logger.Error("Peer core id not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.SyncPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode push request", "error", err)
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Events) > h.maxBatch {
		sendError(w, h.logger, http.StatusBadRequest, "batch exceeds max size")
		return
	}

	resp := api.SyncPushResponse{}
	for _, wireEvent := range req.Events {
		outcome, err := h.vault.AppendEvent(ctx, syncer.CandidateFromWire(wireEvent))
		if err != nil {
			// Остаток батча не применяем: курсор отправителя не двигается,
			// повтор доставит те же события заново
			h.logger.Error("Failed to apply pushed event",
				"peer_id", peerID,
				"event_id", wireEvent.ID,
				"error", err)
			sendError(w, h.logger, http.StatusInternalServerError, "failed to apply event batch")
			return
		}

		resp.Results = append(resp.Results, api.SyncPushResult{
			EventID: outcome.EventID,
			Outcome: outcome.Outcome,
		})
		switch outcome.Outcome {
		case api.OutcomeMergeQueued:
			resp.MergeQueued++
		case api.OutcomeDuplicate:
			resp.Duplicates++
		default:
			resp.Applied++
		}
		if wireEvent.Cursor > resp.AckedCursor {
			resp.AckedCursor = wireEvent.Cursor
		}
	}

	h.logger.Info("Push batch applied",
		"peer_id", peerID,
		"received", len(req.Events),
		"applied", resp.Applied,
		"merge_queued", resp.MergeQueued,
		"duplicates", resp.Duplicates)

	sendJSON(w, h.logger, http.StatusOK, resp)
}

// Pull обрабатывает GET /api/v1/sync/pull?after=cursor&limit=n.
// Возвращает события локального лога после курсора, по порядку.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	peerID, ok := GetPeerCoreID(ctx)
	if !ok {
		h.logger.Error("Peer core id not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var after int64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		var err error
		after, err = strconv.ParseInt(afterStr, 10, 64)
		if err != nil || after < 0 {
			sendError(w, h.logger, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}

	limit := h.maxBatch
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			sendError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	events, err := h.vault.ListSince(ctx, after, limit)
	if err != nil {
		h.logger.Error("Failed to list events", "peer_id", peerID, "after", after, "error", err)
		sendError(w, h.logger, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := api.SyncPullResponse{
		Events:    make([]api.SyncEvent, 0, len(events)),
		MaxCursor: after,
	}
	for _, event := range events {
		resp.Events = append(resp.Events, syncer.WireFromEvent(event))
		if event.Cursor > resp.MaxCursor {
			resp.MaxCursor = event.Cursor
		}
	}

	sendJSON(w, h.logger, http.StatusOK, resp)
}
