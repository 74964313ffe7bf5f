package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prmission/backend/internal/chain"
	"github.com/prmission/backend/internal/config"
	"github.com/prmission/backend/internal/db"
	"github.com/prmission/backend/internal/events"
	"github.com/prmission/backend/internal/protocol"
	"github.com/prmission/backend/internal/repositories"
	"github.com/prmission/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const statsCacheKey = "stats:protocol"

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	eth, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID, log)
	if err != nil {
		log.Fatal("failed to connect to rpc", zap.Error(err))
	}
	defer eth.Close()

	contract := common.HexToAddress(cfg.ContractAddress)
	usdc := common.HexToAddress(cfg.USDCAddress)
	state := protocol.NewStateClient(eth, contract, usdc)

	// Repos
	permRepo := repositories.NewPermissionRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	reconciler := services.NewReconciler(state, escrowRepo, publisher, cfg.ProtocolFeeBPS, log)

	log.Info("worker started")

	// Run jobs on tickers
	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	expiryTicker := time.NewTicker(cfg.ExpiryInterval)
	statsTicker := time.NewTicker(cfg.StatsInterval)
	defer reconcileTicker.Stop()
	defer expiryTicker.Stop()
	defer statsTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reconcileTicker.C:
			runReconcile(ctx, reconciler, log)
		case <-expiryTicker.C:
			runExpirySweep(ctx, permRepo, log)
		case <-statsTicker.C:
			runStatsSnapshot(ctx, state, rdb, cfg.StatsInterval, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runReconcile(ctx context.Context, reconciler *services.Reconciler, log *zap.Logger) {
	drifted, err := reconciler.Run(ctx)
	if err != nil {
		log.Error("reconciliation sweep failed", zap.Error(err))
		return
	}
	if drifted > 0 {
		log.Warn("reconciliation found drift", zap.Int("escrows", drifted))
	}
}

// runExpirySweep flips cached ACTIVE permissions whose validity has
// passed to EXPIRED. Expiry is a pure function of time on the contract
// side, so no transaction is submitted; only the read model moves.
func runExpirySweep(ctx context.Context, permRepo *repositories.PermissionRepo, log *zap.Logger) {
	n, err := permRepo.MarkExpired(ctx, time.Now())
	if err != nil {
		log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("permissions expired", zap.Int64("count", n))
	}
}

func runStatsSnapshot(ctx context.Context, state *protocol.StateClient, rdb *redis.Client, interval time.Duration, log *zap.Logger) {
	stats, err := state.ProtocolStats(ctx)
	if err != nil {
		log.Error("stats snapshot failed", zap.Error(err))
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	// Twice the refresh interval so a single failed cycle does not serve
	// stale-forever data.
	if err := rdb.Set(ctx, statsCacheKey, data, 2*interval).Err(); err != nil {
		log.Warn("stats cache write failed", zap.Error(err))
	}
}
