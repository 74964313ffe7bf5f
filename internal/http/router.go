package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prmission/backend/internal/config"
	"github.com/prmission/backend/internal/http/handlers"
	"github.com/prmission/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	permissionHandler *handlers.PermissionHandler,
	escrowHandler *handlers.EscrowHandler,
	statsHandler *handlers.StatsHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/challenge", authHandler.Challenge)
	api.Post("/auth/login", authHandler.Login)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Stats (public, no auth required)
	api.Get("/stats", statsHandler.Get)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Permissions
	protected.Post("/permissions", permissionHandler.Grant)
	protected.Get("/permissions", permissionHandler.List)
	protected.Get("/permissions/:id", permissionHandler.Get)
	protected.Post("/permissions/:id/revoke", permissionHandler.Revoke)
	protected.Get("/permissions/:id/escrows", permissionHandler.Escrows)
	protected.Get("/permissions/:id/access", permissionHandler.Access)
	protected.Get("/permissions/:id/audit", permissionHandler.Audit)

	// Escrows
	protected.Post("/escrows", escrowHandler.Deposit)
	protected.Get("/escrows/:id", escrowHandler.Get)
	protected.Post("/escrows/:id/report", escrowHandler.Report)
	protected.Post("/escrows/:id/dispute", escrowHandler.Dispute)
	protected.Post("/escrows/:id/settle", escrowHandler.Settle)
	protected.Post("/escrows/:id/refund", escrowHandler.Refund)
	protected.Get("/escrows/:id/preview", escrowHandler.Preview)
	protected.Get("/escrows/:id/audit", escrowHandler.Audit)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
