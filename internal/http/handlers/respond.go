package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/prmission/backend/internal/chain"
	"github.com/prmission/backend/internal/http/dto"
	"github.com/prmission/backend/internal/models"
	"github.com/prmission/backend/internal/protocol"
	"github.com/prmission/backend/internal/settlement"
	"github.com/prmission/backend/internal/units"
)

func auditEntry(actor, actorType, action, entityType string, entityID uint64, txHash string, meta map[string]any) models.AuditLog {
	return models.AuditLog{
		ActorAddr:  &actor,
		ActorType:  actorType,
		Action:     action,
		EntityType: entityType,
		EntityID:   &entityID,
		TxHash:     &txHash,
		Meta:       meta,
	}
}

// respondErr maps the protocol error taxonomy to HTTP statuses. Timed-out
// confirmations get 504 with the tx hash in the message so the caller can
// re-query before resubmitting; estimation failures and reverts are
// business-rule rejections, not server faults.
func respondErr(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, protocol.ErrInsufficientFunds),
		errors.Is(err, chain.ErrEstimationFailed),
		errors.Is(err, chain.ErrReverted),
		errors.Is(err, settlement.ErrInvalidRate),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, units.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, chain.ErrConfirmTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, chain.ErrConnectivity),
		errors.Is(err, protocol.ErrSettlementUnverified):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
}
