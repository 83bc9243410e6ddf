package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/armadahq/datacore/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// PeerCoreIDKey ключ для хранения core_id аутентифицированного пира
	PeerCoreIDKey contextKey = "peer_core_id"
	// PeerRoleKey ключ для хранения роли пира (ship | fleet)
	PeerRoleKey contextKey = "peer_role"
)

// GetPeerCoreID извлекает core_id пира из контекста запроса
func GetPeerCoreID(ctx context.Context) (string, bool) {
	coreID, ok := ctx.Value(PeerCoreIDKey).(string)
	return coreID, ok
}

// GetPeerRole извлекает роль пира из контекста запроса
func GetPeerRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(PeerRoleKey).(string)
	return role, ok
}

// sendJSON сериализует ответ с заданным статусом
func sendJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// sendError отправляет ErrorResponse с заданным статусом
func sendError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	sendJSON(w, logger, status, api.ErrorResponse{Error: message})
}
