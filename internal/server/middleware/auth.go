package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/armadahq/datacore/internal/auth"
	"github.com/armadahq/datacore/internal/server/handlers"
)

// AuthMiddleware создает middleware для проверки JWT токена пира.
// Токен подписан общим секретом кластера; claims несут core_id и роль.
func AuthMiddleware(logger *slog.Logger, jwtConfig auth.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("Invalid Authorization header format")
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ValidateToken(jwtConfig, parts[1])
			if err != nil {
				logger.Warn("Invalid peer token", "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), handlers.PeerCoreIDKey, claims.CoreID)
			ctx = context.WithValue(ctx, handlers.PeerRoleKey, claims.Role)

			logger.Debug("Peer authenticated", "core_id", claims.CoreID, "role", claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
