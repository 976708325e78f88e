// Command server boots the gateway lifecycle core: database, cache, SSH
// pool, lock registry, lifecycle manager and registrar, then reconnects
// to every live gateway before serving. Bootstrap order mirrors
// vps-service/main.go (logger -> database -> redis -> domain managers).
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/vectorhaven/fleetctl/internal/cache"
	"github.com/vectorhaven/fleetctl/internal/config"
	"github.com/vectorhaven/fleetctl/internal/database"
	"github.com/vectorhaven/fleetctl/internal/gateways"
	"github.com/vectorhaven/fleetctl/internal/lockregistry"
	"github.com/vectorhaven/fleetctl/internal/logger"
	"github.com/vectorhaven/fleetctl/internal/sshpool"
)

const reconcileInterval = 5 * time.Minute

func main() {
	logger.Init()
	cfg := config.Load()

	if err := database.InitDatabase(cfg.DatabaseURL); err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}

	redisCache, err := cache.New(cfg.RedisAddr, cfg.RedisPass)
	if err != nil {
		logger.Warn("redis unavailable, continuing without gateway read cache: %v", err)
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	repo := database.NewGatewayRepository(database.DB, redisCache)
	pool := sshpool.NewPool()
	defer pool.Close()
	locks := lockregistry.New()

	backends := map[database.BackendType]gateways.ComputeBackend{
		database.BackendDstack: &gateways.StubBackend{},
	}

	manager := gateways.NewManager(database.DB, repo, pool, locks, &cfg, backends)
	_ = gateways.NewRegistrar(database.DB, repo, pool)
	reconciler := gateways.NewReconciler(database.DB, repo, pool, manager, &cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reconciler.Run(ctx); err != nil {
		logger.Error("startup reconciliation failed: %v", err)
	}

	go runReconcileLoop(ctx, reconciler)

	logger.Info("gateway core ready")
	<-ctx.Done()
	logger.Info("shutting down")
}

func runReconcileLoop(ctx context.Context, reconciler *gateways.Reconciler) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := reconciler.Run(ctx); err != nil {
				logger.Error("periodic reconciliation failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
