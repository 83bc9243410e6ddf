// Package server собирает HTTP поверхность узла Data Core.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/armadahq/datacore/internal/auth"
	"github.com/armadahq/datacore/internal/server/handlers"
	"github.com/armadahq/datacore/internal/server/middleware"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	// Лимит на писателя: ingest идет от автоматических агентов,
	// всплеск выше этого — почти наверняка петля
	ingestRateLimit  = 120
	ingestRateWindow = time.Minute
)

// Deps перечисляет зависимости HTTP поверхности
type Deps struct {
	Vault     handlers.EventLog
	Replica   handlers.Replication
	Docs      handlers.Projections
	Search    handlers.Searcher
	Peers     handlers.PeerRegistry
	DB        handlers.Pinger
	Logger    *slog.Logger
	JWTConfig auth.Config
	Version   string
	Role      string
	CoreID    string
	MaxBatch  int
}

// Server инкапсулирует http.Server с маршрутизацией узла
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
}

// New собирает маршруты и middleware цепочки.
// Публичные маршруты (ingest, query, documents) открыты локальным
// писателям; /api/v1/sync/* и /api/v1/peers требуют JWT пира.
func New(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	ingest := handlers.NewIngestHandler(deps.Logger, deps.Vault)
	query := handlers.NewQueryHandler(deps.Logger, deps.Search)
	docs := handlers.NewDocumentsHandler(deps.Logger, deps.Docs)
	sync := handlers.NewSyncHandler(deps.Logger, deps.Replica, deps.MaxBatch)
	peers := handlers.NewPeersHandler(deps.Logger, deps.Peers)
	health := handlers.NewHealthHandler(deps.Logger, deps.DB, deps.Version, deps.Role, deps.CoreID)

	limiter := middleware.NewRateLimiter(ingestRateLimit, ingestRateWindow, deps.Logger)
	limitIngest := limiter.Middleware(func(r *http.Request) string {
		return r.RemoteAddr
	})
	peerAuth := middleware.AuthMiddleware(deps.Logger, deps.JWTConfig)

	mux.Handle("POST /api/v1/ingest", limitIngest(http.HandlerFunc(ingest.Ingest)))
	mux.HandleFunc("GET /api/v1/query", query.Query)
	mux.HandleFunc("GET /api/v1/documents/{domain}/{path...}", docs.Get)
	mux.HandleFunc("GET /api/v1/history/{domain}/{path...}", docs.History)

	mux.Handle("POST /api/v1/sync/push", peerAuth(http.HandlerFunc(sync.Push)))
	mux.Handle("GET /api/v1/sync/pull", peerAuth(http.HandlerFunc(sync.Pull)))
	mux.Handle("POST /api/v1/peers", peerAuth(http.HandlerFunc(peers.Register)))

	mux.HandleFunc("GET /healthz", health.Health)

	var handler http.Handler = mux
	handler = middleware.LoggingWithSkip(deps.Logger, []string{"/healthz"})(handler)
	handler = middleware.RecoveryMiddleware(deps.Logger)(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		limiter: limiter,
		logger:  deps.Logger,
	}
}

// Run блокирует до отмены контекста, затем выполняет graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
			return
		}
		errC <- nil
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	s.limiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errC
}
