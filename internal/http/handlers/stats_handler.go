package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/prmission/backend/internal/http/dto"
	"github.com/prmission/backend/internal/protocol"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const statsCacheKey = "stats:protocol"

type StatsHandler struct {
	client *protocol.Client
	rdb    *redis.Client
	log    *zap.Logger
}

func NewStatsHandler(client *protocol.Client, rdb *redis.Client, log *zap.Logger) *StatsHandler {
	return &StatsHandler{client: client, rdb: rdb, log: log}
}

// Get serves the worker's cached snapshot when present and falls back
// to a live ledger read.
func (h *StatsHandler) Get(c *fiber.Ctx) error {
	if cached, err := h.rdb.Get(c.Context(), statsCacheKey).Result(); err == nil {
		var stats protocol.ProtocolStats
		if jsonErr := json.Unmarshal([]byte(cached), &stats); jsonErr == nil {
			return c.JSON(dto.SuccessResponse{OK: true, Data: stats})
		} else {
			h.log.Warn("stats cache corrupt, rereading", zap.Error(jsonErr))
		}
	}

	stats, err := h.client.State().ProtocolStats(c.Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stats})
}
