package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/pkg/api"
)

// PeerRegistry определяет интерфейс регистрации пиров
type PeerRegistry interface {
	UpsertPeer(ctx context.Context, peer *models.SyncPeer) error
}

// PeersHandler обрабатывает регистрацию пиров репликации
type PeersHandler struct {
	logger *slog.Logger
	peers  PeerRegistry
}

// NewPeersHandler creates a new peers handler
func NewPeersHandler(logger *slog.Logger, peers PeerRegistry) *PeersHandler {
	return &PeersHandler{
		logger: logger,
		peers:  peers,
	}
}

// Register обрабатывает POST /api/v1/peers.
// Идемпотентно: повторная регистрация тем же id обновляет URL и роль.
func (h *PeersHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.PeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode peer request", "error", err)
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ID == "" {
		sendError(w, h.logger, http.StatusBadRequest, "id is required")
		return
	}
	if req.Role != models.RoleShip && req.Role != models.RoleFleet {
		sendError(w, h.logger, http.StatusBadRequest, "role must be ship or fleet")
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		sendError(w, h.logger, http.StatusBadRequest, "url must be absolute")
		return
	}

	peer := &models.SyncPeer{
		ID:     req.ID,
		URL:    req.URL,
		Role:   req.Role,
		Active: true,
	}
	if err := h.peers.UpsertPeer(ctx, peer); err != nil {
		h.logger.Error("Failed to register peer", "peer_id", req.ID, "error", err)
		sendError(w, h.logger, http.StatusInternalServerError, "failed to register peer")
		return
	}

	h.logger.Info("Peer registered", "peer_id", req.ID, "role", req.Role, "url", req.URL)

	sendJSON(w, h.logger, http.StatusOK, api.PeerResponse{
		ID:     req.ID,
		Active: true,
	})
}
