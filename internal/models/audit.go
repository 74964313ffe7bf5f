package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID `json:"id"`
	ActorAddr  *string   `json:"actor_addr,omitempty"` // hex address, nil for system events
	ActorType  string    `json:"actor_type"`           // user/agent/indexer/worker
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"` // permission/escrow
	EntityID   *uint64   `json:"entity_id,omitempty"`
	TxHash     *string   `json:"tx_hash,omitempty"`
	Meta       any       `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
