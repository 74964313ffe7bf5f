package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/prmission/backend/internal/auth"
	"github.com/prmission/backend/internal/config"
	"github.com/prmission/backend/internal/http/dto"
	"github.com/prmission/backend/internal/rbac"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type AuthHandler struct {
	cfg *config.Config
	rdb *redis.Client
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, rdb: rdb, log: log}
}

func challengeKey(address string) string {
	return fmt.Sprintf("auth:challenge:%s", strings.ToLower(address))
}

// Challenge issues a one-time message the wallet must sign. Stored in
// redis with a TTL so a challenge can be used at most once and expires.
func (h *AuthHandler) Challenge(c *fiber.Ctx) error {
	var req dto.ChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if !common.IsHexAddress(req.Address) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid address"})
	}

	message, err := auth.NewChallenge(req.Address, time.Now())
	if err != nil {
		h.log.Error("challenge generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	if err := h.rdb.Set(c.Context(), challengeKey(req.Address), message, h.cfg.ChallengeTTL).Err(); err != nil {
		h.log.Error("challenge store failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.ChallengeResponse{Message: message})
}

// Login verifies the signed challenge and issues a JWT bound to the
// wallet address and requested role.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if !common.IsHexAddress(req.Address) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid address"})
	}

	role := req.Role
	if role == "" {
		role = rbac.RoleUser
	}
	if _, ok := rbac.RoleActions[role]; !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unknown role"})
	}

	key := challengeKey(req.Address)
	message, err := h.rdb.Get(c.Context(), key).Result()
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "no active challenge, request one first"})
	}

	if err := auth.VerifySignature(message, req.Signature, req.Address); err != nil {
		h.log.Debug("signature verification failed", zap.String("address", req.Address), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid signature"})
	}

	// One-shot: consume the challenge
	h.rdb.Del(c.Context(), key)

	address := strings.ToLower(common.HexToAddress(req.Address).Hex())
	token, err := auth.GenerateJWT(h.cfg.JWTSecret, address, role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("jwt generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token, Address: address, Role: role})
}
