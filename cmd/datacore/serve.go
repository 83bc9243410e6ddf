package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/armadahq/datacore/internal/auth"
	"github.com/armadahq/datacore/internal/config"
	"github.com/armadahq/datacore/internal/merge"
	"github.com/armadahq/datacore/internal/models"
	"github.com/armadahq/datacore/internal/plugin"
	"github.com/armadahq/datacore/internal/plugin/edgequake"
	"github.com/armadahq/datacore/internal/query"
	"github.com/armadahq/datacore/internal/runner"
	"github.com/armadahq/datacore/internal/server"
	"github.com/armadahq/datacore/internal/sign"
	"github.com/armadahq/datacore/internal/storage/sqlite"
	"github.com/armadahq/datacore/internal/syncer"
	"github.com/armadahq/datacore/internal/vault"
	"github.com/armadahq/datacore/pkg/api"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Data Core node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Data Core starting",
		"version", Version,
		"role", cfg.Role,
		"core_id", cfg.CoreID,
		"cluster_id", cfg.ClusterID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.DatabaseDSN, cfg.AutoMigrate)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	signer, err := sign.New(cfg.ClusterSecret, cfg.ClusterID)
	if err != nil {
		return fmt.Errorf("failed to init signer: %w", err)
	}

	vaultSvc := vault.NewService(store, signer, logger, cfg.CoreID)

	index, catalog, err := buildIndex(cfg, store, vaultSvc, logger)
	if err != nil {
		return err
	}
	if catalog != nil {
		defer func() {
			if err := catalog.Close(); err != nil {
				logger.Error("Failed to close plugin catalog", "error", err)
			}
		}()
	}

	querySvc := query.NewService(store, index, logger, cfg.QueryCandidateLimit, cfg.QueryTopKDefault)

	peerClient := syncer.NewClient([]byte(cfg.ClusterSecret), cfg.CoreID, cfg.Role, cfg.SyncTimeout)
	syncSvc := syncer.NewService(store, vaultSvc, peerClient, logger, cfg.CoreID, cfg.MaxSyncBatch)

	// Ship регистрирует fleet hub как пира и представляется ему сам
	if cfg.Role == models.RoleShip {
		if err := registerHub(ctx, cfg, syncSvc, peerClient, logger); err != nil {
			return err
		}
	}

	jwtConfig := auth.Config{Secret: []byte(cfg.ClusterSecret)}

	srv := server.New(cfg.ListenAddr, server.Deps{
		Vault:     vaultSvc,
		Replica:   vaultSvc,
		Docs:      vaultSvc,
		Search:    querySvc,
		Peers:     store,
		DB:        store.DB(),
		Logger:    logger,
		JWTConfig: jwtConfig,
		Version:   Version,
		Role:      cfg.Role,
		CoreID:    cfg.CoreID,
		MaxBatch:  cfg.MaxSyncBatch,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx)
	})

	g.Go(func() error {
		r := &runner.Runner{
			Name:     "sync-push",
			Interval: cfg.SyncInterval,
			Tick:     syncSvc.TickPush,
			Logger:   logger,
		}
		return r.Run(gctx)
	})

	g.Go(func() error {
		r := &runner.Runner{
			Name:     "sync-pull",
			Interval: cfg.SyncInterval,
			Tick:     syncSvc.TickPull,
			Logger:   logger,
		}
		return r.Run(gctx)
	})

	if cfg.MergeWorkerEnabled {
		worker := merge.NewWorker(store, vaultSvc, signer, logger, cfg.CoreID)
		g.Go(func() error {
			r := &runner.Runner{
				Name:     "merge-worker",
				Interval: cfg.MergeInterval,
				Tick:     worker.Tick,
				Logger:   logger,
			}
			return r.Run(gctx)
		})
	}

	if cfg.Plugin.Enabled {
		g.Go(func() error {
			r := &runner.Runner{
				Name:     "plugin-drain",
				Interval: cfg.Plugin.DrainInterval,
				Tick:     index.DrainPending,
				Logger:   logger,
			}
			return r.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("node terminated: %w", err)
	}

	logger.Info("Data Core stopped")
	return nil
}

// buildIndex собирает плагин-адаптер или его выключенную заглушку
func buildIndex(cfg *config.Config, store *sqlite.Storage, vaultSvc *vault.Service, logger *slog.Logger) (plugin.Index, *edgequake.Catalog, error) {
	if !cfg.Plugin.Enabled {
		return plugin.NewDisabled(), nil, nil
	}

	catalog, err := edgequake.NewCatalog(cfg.Plugin.CatalogPath, cfg.Plugin.APIKey, cfg.Plugin.TenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open plugin catalog: %w", err)
	}

	client := edgequake.NewClient(cfg.Plugin.BaseURL, cfg.Plugin.APIKey, cfg.Plugin.TenantID, cfg.Plugin.Timeout)
	adapter := edgequake.NewAdapter(client, catalog, store, vaultSvc, logger,
		cfg.ClusterID, cfg.Plugin.MaxRetries, cfg.Plugin.DrainBatch)

	return adapter, catalog, nil
}

// registerHub сохраняет hub как локального пира и регистрирует этот узел
// на hub. Сбой обращения к hub не фатален: регистрация повторится при
// следующем запуске, а push/pull начнут работать как только hub доступен.
func registerHub(ctx context.Context, cfg *config.Config, syncSvc *syncer.Service, peerClient *syncer.Client, logger *slog.Logger) error {
	hubID := hubPeerID(cfg.FleetHubURL)
	if err := syncSvc.RegisterHub(ctx, cfg.FleetHubURL, hubID); err != nil {
		return err
	}

	// Без advertise url hub не сможет пушить на этот узел; пара
	// push+pull с нашей стороны все равно дает полную репликацию
	if cfg.AdvertiseURL == "" {
		return nil
	}

	resp, err := peerClient.Register(ctx, cfg.FleetHubURL, &api.PeerRequest{
		ID:   cfg.CoreID,
		URL:  cfg.AdvertiseURL,
		Role: models.RoleShip,
	})
	if err != nil {
		logger.Warn("Failed to register at fleet hub, will rely on push", "hub", cfg.FleetHubURL, "error", err)
		return nil
	}

	logger.Info("Registered at fleet hub", "hub", cfg.FleetHubURL, "peer_id", resp.ID)
	return nil
}

// hubPeerID производит стабильный идентификатор пира из URL hub.
// Hub не обязан сообщать свой core_id до первого обмена.
func hubPeerID(hubURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(hubURL)).String()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
