package events

import "context"

// Stream carrying all protocol events.
const StreamProtocol = "events:protocol"

// Event types
const (
	EventPermissionGranted   = "permission_granted"
	EventEscrowDeposited     = "escrow_deposited"
	EventOutcomeReported     = "outcome_reported"
	EventSettlementCompleted = "settlement_completed"
	EventReconciliationDrift = "reconciliation_drift"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
