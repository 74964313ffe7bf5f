package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/prmission/backend/internal/chain"
	"github.com/prmission/backend/internal/config"
	"github.com/prmission/backend/internal/db"
	"github.com/prmission/backend/internal/events"
	apphttp "github.com/prmission/backend/internal/http"
	"github.com/prmission/backend/internal/http/handlers"
	"github.com/prmission/backend/internal/protocol"
	"github.com/prmission/backend/internal/repositories"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Ledger
	eth, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID, log)
	if err != nil {
		log.Fatal("failed to connect to rpc", zap.Error(err))
	}
	defer eth.Close()

	key, operator, err := chain.ParseKey(cfg.OperatorKey)
	if err != nil {
		log.Fatal("invalid operator key", zap.Error(err))
	}
	log.Info("operator account loaded", zap.String("address", operator.Hex()))

	contract := common.HexToAddress(cfg.ContractAddress)
	usdc := common.HexToAddress(cfg.USDCAddress)

	orch := chain.NewOrchestrator(eth, key, operator, cfg.ChainID, cfg.GasMultiplier,
		cfg.ConfirmTimeout, cfg.PollInterval, log)
	state := protocol.NewStateClient(eth, contract, usdc)
	client := protocol.NewClient(state, orch, contract, cfg.ProtocolFeeBPS, log)

	// Repositories
	permRepo := repositories.NewPermissionRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, rdb, log)
	permissionHandler := handlers.NewPermissionHandler(client, permRepo, auditRepo, log)
	escrowHandler := handlers.NewEscrowHandler(client, escrowRepo, auditRepo, log)
	statsHandler := handlers.NewStatsHandler(client, rdb, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, permissionHandler, escrowHandler, statsHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
