package services

import (
	"context"

	"github.com/prmission/backend/internal/events"
	"github.com/prmission/backend/internal/models"
	"github.com/prmission/backend/internal/protocol"
	"github.com/prmission/backend/internal/repositories"
	"github.com/prmission/backend/internal/settlement"
	"go.uber.org/zap"
)

// Reconciler cross-checks the contract's settlement preview against the
// locally computed split for every escrow awaiting settlement. A mismatch
// means cached state has drifted from the chain (missed event, reorg) and
// is surfaced as an event rather than silently corrected.
type Reconciler struct {
	state      *protocol.StateClient
	escrowRepo *repositories.EscrowRepo
	publisher  events.Publisher
	feeBps     int64
	log        *zap.Logger
}

func NewReconciler(state *protocol.StateClient, escrowRepo *repositories.EscrowRepo, publisher events.Publisher, feeBps int64, log *zap.Logger) *Reconciler {
	return &Reconciler{state: state, escrowRepo: escrowRepo, publisher: publisher, feeBps: feeBps, log: log}
}

// Run performs one reconciliation sweep and returns the number of
// escrows that disagreed with the chain.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	pending, err := r.escrowRepo.ListByStatus(ctx,
		[]models.EscrowStatus{models.EscrowStatusOutcomeReported, models.EscrowStatusDisputed}, 500)
	if err != nil {
		return 0, err
	}

	drifted := 0
	for _, esc := range pending {
		if err := ctx.Err(); err != nil {
			return drifted, err
		}

		onChain, err := r.state.PreviewSettlement(ctx, esc.ID)
		if err != nil {
			r.log.Warn("settlement preview failed", zap.Uint64("escrow_id", esc.ID), zap.Error(err))
			continue
		}

		perm, err := r.state.GetPermission(ctx, esc.PermissionID)
		if err != nil {
			r.log.Warn("permission read failed", zap.Uint64("permission_id", esc.PermissionID), zap.Error(err))
			continue
		}

		local, err := settlement.Preview(esc.Amount, perm.CompensationBps, r.feeBps)
		if err != nil {
			r.log.Warn("local preview failed", zap.Uint64("escrow_id", esc.ID), zap.Error(err))
			continue
		}

		if local.Equal(onChain) {
			continue
		}

		drifted++
		r.log.Warn("settlement drift detected",
			zap.Uint64("escrow_id", esc.ID),
			zap.String("local_user_share", local.UserShare.String()),
			zap.String("chain_user_share", onChain.UserShare.String()))

		_ = r.publisher.Publish(ctx, events.StreamProtocol, events.Event{
			Type: events.EventReconciliationDrift,
			Payload: map[string]any{
				"escrow_id":          esc.ID,
				"local_user_share":   local.UserShare.String(),
				"chain_user_share":   onChain.UserShare.String(),
				"local_agent_refund": local.AgentRefund.String(),
				"chain_agent_refund": onChain.AgentRefund.String(),
			},
		})

		// Refresh the cached row from the chain so the next sweep is clean.
		fresh, err := r.state.GetEscrow(ctx, esc.ID)
		if err != nil {
			continue
		}
		if err := r.escrowRepo.Upsert(ctx, fresh); err != nil {
			r.log.Warn("escrow refresh failed", zap.Uint64("escrow_id", esc.ID), zap.Error(err))
		}
	}

	return drifted, nil
}
