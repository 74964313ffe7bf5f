package handlers

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/prmission/backend/internal/http/dto"
	"github.com/prmission/backend/internal/middleware"
	"github.com/prmission/backend/internal/protocol"
	"github.com/prmission/backend/internal/rbac"
	"github.com/prmission/backend/internal/repositories"
	"github.com/prmission/backend/internal/units"
	"go.uber.org/zap"
)

type PermissionHandler struct {
	client   *protocol.Client
	permRepo *repositories.PermissionRepo
	audit    *repositories.AuditRepo
	log      *zap.Logger
}

func NewPermissionHandler(client *protocol.Client, permRepo *repositories.PermissionRepo, audit *repositories.AuditRepo, log *zap.Logger) *PermissionHandler {
	return &PermissionHandler{client: client, permRepo: permRepo, audit: audit, log: log}
}

// Grant creates a permission on the ledger on behalf of the operator
// account and returns the assigned id.
func (h *PermissionHandler) Grant(c *fiber.Ctx) error {
	if !rbac.CanPerform(middleware.GetRole(c), rbac.ActionGrant) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "role cannot grant permissions"})
	}

	var req dto.GrantPermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.DataCategory == "" || req.Purpose == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "data_category and purpose are required"})
	}
	if req.ValidityHours <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validity_hours must be positive"})
	}

	merchant := common.Address{}
	if req.Merchant != "" {
		if !common.IsHexAddress(req.Merchant) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid merchant address"})
		}
		merchant = common.HexToAddress(req.Merchant)
	}

	upfront := big.NewInt(0)
	if req.UpfrontFeeUSDC != "" {
		var err error
		upfront, err = units.ToBaseUnits(req.UpfrontFeeUSDC)
		if err != nil {
			return respondErr(c, err)
		}
	}

	id, res, err := h.client.Grant(c.Context(), merchant, req.DataCategory, req.Purpose,
		req.CompensationBps, upfront, time.Duration(req.ValidityHours)*time.Hour)
	if err != nil {
		return respondErr(c, err)
	}

	actor := middleware.GetAddress(c)
	txHash := res.TxHash.Hex()
	_ = h.audit.Log(c.Context(), auditEntry(actor, "user", "permission_granted", "permission", id, txHash,
		map[string]any{"data_category": req.DataCategory, "compensation_bps": req.CompensationBps}))

	return c.Status(fiber.StatusCreated).JSON(dto.TxResponse{
		TxHash: txHash, Phase: string(res.Phase), PermissionID: id,
	})
}

// Revoke terminates a permission. The contract enforces subject-only.
func (h *PermissionHandler) Revoke(c *fiber.Ctx) error {
	if !rbac.CanPerform(middleware.GetRole(c), rbac.ActionRevoke) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "role cannot revoke permissions"})
	}

	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid permission id"})
	}

	res, err := h.client.Revoke(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}

	actor := middleware.GetAddress(c)
	txHash := res.TxHash.Hex()
	_ = h.audit.Log(c.Context(), auditEntry(actor, "user", "permission_revoked", "permission", id, txHash, nil))

	return c.JSON(dto.TxResponse{TxHash: txHash, Phase: string(res.Phase), PermissionID: id})
}

// Get reads the permission from the ledger (authoritative), annotated
// with its time-derived effective status.
func (h *PermissionHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid permission id"})
	}

	perm, err := h.client.State().GetPermission(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"permission":       perm,
		"effective_status": perm.EffectiveStatus(time.Now()).String(),
	}})
}

// List serves the caller's permissions from the indexer-fed read model.
func (h *PermissionHandler) List(c *fiber.Ctx) error {
	address := c.Query("address", middleware.GetAddress(c))
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	perms, err := h.permRepo.ListByUser(c.Context(), address, limit, offset)
	if err != nil {
		h.log.Error("list permissions failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: perms})
}

// Escrows lists escrow ids opened against a permission, from the ledger.
func (h *PermissionHandler) Escrows(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid permission id"})
	}

	ids, err := h.client.State().ListPermissionEscrows(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ids})
}

// Access returns the contract's eligibility snapshot for an agent. The
// snapshot is valid for the current block only.
func (h *PermissionHandler) Access(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid permission id"})
	}

	agentParam := c.Query("agent", middleware.GetAddress(c))
	if !common.IsHexAddress(agentParam) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agent address"})
	}

	access, err := h.client.State().CheckAccess(c.Context(), id, common.HexToAddress(agentParam))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: access})
}

// Audit lists indexed audit rows for a permission.
func (h *PermissionHandler) Audit(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid permission id"})
	}

	logs, err := h.audit.GetByEntity(c.Context(), "permission", id, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		h.log.Error("audit query failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func parseID(c *fiber.Ctx, param string) (uint64, error) {
	return strconv.ParseUint(c.Params(param), 10, 64)
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
