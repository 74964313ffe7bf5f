package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prmission/backend/internal/http/dto"
	"github.com/prmission/backend/internal/middleware"
	"github.com/prmission/backend/internal/protocol"
	"github.com/prmission/backend/internal/rbac"
	"github.com/prmission/backend/internal/repositories"
	"github.com/prmission/backend/internal/settlement"
	"github.com/prmission/backend/internal/units"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	client     *protocol.Client
	escrowRepo *repositories.EscrowRepo
	audit      *repositories.AuditRepo
	log        *zap.Logger
}

func NewEscrowHandler(client *protocol.Client, escrowRepo *repositories.EscrowRepo, audit *repositories.AuditRepo, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{client: client, escrowRepo: escrowRepo, audit: audit, log: log}
}

// Deposit locks USDC against a permission. Allowance is topped up
// first when needed, so the call may submit two transactions.
func (h *EscrowHandler) Deposit(c *fiber.Ctx) error {
	if !rbac.CanPerform(middleware.GetRole(c), rbac.ActionDeposit) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "role cannot deposit escrow"})
	}

	var req dto.DepositEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	amount, err := units.ToBaseUnits(req.AmountUSDC)
	if err != nil {
		return respondErr(c, err)
	}

	id, res, err := h.client.Deposit(c.Context(), req.PermissionID, amount, req.AgentID)
	if err != nil {
		return respondErr(c, err)
	}

	actor := middleware.GetAddress(c)
	txHash := res.TxHash.Hex()
	_ = h.audit.Log(c.Context(), auditEntry(actor, "agent", "escrow_deposited", "escrow", id, txHash,
		map[string]any{"permission_id": req.PermissionID, "amount": amount.String()}))

	return c.Status(fiber.StatusCreated).JSON(dto.TxResponse{
		TxHash: txHash, Phase: string(res.Phase), EscrowID: id,
	})
}

// Get reads the escrow from the ledger.
func (h *EscrowHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	esc, err := h.client.State().GetEscrow(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: esc})
}

// Report records the agent's outcome and opens the dispute window.
func (h *EscrowHandler) Report(c *fiber.Ctx) error {
	if !rbac.CanPerform(middleware.GetRole(c), rbac.ActionReport) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "role cannot report outcomes"})
	}

	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.ReportOutcomeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	value, err := units.ToBaseUnits(req.OutcomeValueUSDC)
	if err != nil {
		return respondErr(c, err)
	}

	windowEnd, res, err := h.client.Report(c.Context(), id, value, req.OutcomeType, req.OutcomeDescription)
	if err != nil {
		return respondErr(c, err)
	}

	actor := middleware.GetAddress(c)
	txHash := res.TxHash.Hex()
	_ = h.audit.Log(c.Context(), auditEntry(actor, "agent", "outcome_reported", "escrow", id, txHash,
		map[string]any{"outcome_type": req.OutcomeType, "outcome_value": value.String()}))

	return c.JSON(dto.TxResponse{TxHash: txHash, Phase: string(res.Phase), EscrowID: id,
		Data: fiber.Map{"dispute_window_end": windowEnd.UTC().Format(time.RFC3339)}})
}

// Dispute freezes settlement until the arbiter rules.
func (h *EscrowHandler) Dispute(c *fiber.Ctx) error {
	if !rbac.CanPerform(middleware.GetRole(c), rbac.ActionDispute) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "role cannot dispute"})
	}

	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.DisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	res, err := h.client.Dispute(c.Context(), id, req.Reason)
	if err != nil {
		return respondErr(c, err)
	}

	actor := middleware.GetAddress(c)
	txHash := res.TxHash.Hex()
	_ = h.audit.Log(c.Context(), auditEntry(actor, "user", "escrow_disputed", "escrow", id, txHash,
		map[string]any{"reason": req.Reason}))

	return c.JSON(dto.TxResponse{TxHash: txHash, Phase: string(res.Phase), EscrowID: id})
}

// Settle releases escrowed funds per the three-way split. The contract
// rejects settlement inside an open dispute window.
func (h *EscrowHandler) Settle(c *fiber.Ctx) error {
	if !rbac.CanPerform(middleware.GetRole(c), rbac.ActionSettle) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "role cannot settle"})
	}

	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	split, res, err := h.client.Settle(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}

	actor := middleware.GetAddress(c)
	txHash := res.TxHash.Hex()
	_ = h.audit.Log(c.Context(), auditEntry(actor, middleware.GetRole(c), "settlement_completed", "escrow", id, txHash,
		map[string]any{"user_share": split.UserShare.String(), "protocol_fee": split.ProtocolFee.String(), "agent_refund": split.AgentRefund.String()}))

	return c.JSON(dto.TxResponse{TxHash: txHash, Phase: string(res.Phase), EscrowID: id,
		Data: splitBody(*split)})
}

// Refund returns the full locked amount to the agent. The contract
// restricts this to pre-outcome or arbiter-ruled escrows.
func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	if !rbac.CanPerform(middleware.GetRole(c), rbac.ActionRefund) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "role cannot refund"})
	}

	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	res, err := h.client.Refund(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}

	actor := middleware.GetAddress(c)
	txHash := res.TxHash.Hex()
	_ = h.audit.Log(c.Context(), auditEntry(actor, "agent", "escrow_refunded", "escrow", id, txHash, nil))

	return c.JSON(dto.TxResponse{TxHash: txHash, Phase: string(res.Phase), EscrowID: id})
}

// Preview returns the split the contract would pay out right now,
// without submitting anything.
func (h *EscrowHandler) Preview(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	split, err := h.client.State().PreviewSettlement(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: splitBody(split)})
}

// Audit lists indexed audit rows for an escrow.
func (h *EscrowHandler) Audit(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	logs, err := h.audit.GetByEntity(c.Context(), "escrow", id, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		h.log.Error("audit query failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func splitBody(s settlement.Split) fiber.Map {
	return fiber.Map{
		"user_share":         units.ToDecimal(s.UserShare),
		"protocol_fee":       units.ToDecimal(s.ProtocolFee),
		"agent_refund":       units.ToDecimal(s.AgentRefund),
		"user_share_units":   s.UserShare.String(),
		"protocol_fee_units": s.ProtocolFee.String(),
		"agent_refund_units": s.AgentRefund.String(),
	}
}
