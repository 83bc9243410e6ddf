package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Pinger проверяет доступность хранилища
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	db      Pinger
	version string
	role    string
	coreID  string
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger, db Pinger, version, role, coreID string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		db:      db,
		version: version,
		role:    role,
		coreID:  coreID,
	}
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Role    string `json:"role,omitempty"`
	CoreID  string `json:"core_id,omitempty"`
	Version string `json:"version,omitempty"`
}

// Health обрабатывает GET /healthz.
// Возвращает 503, если база недоступна.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := HealthResponse{
		Status:  "ok",
		Role:    h.role,
		CoreID:  h.coreID,
		Version: h.version,
	}

	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
