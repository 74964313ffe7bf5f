package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EscrowStatus mirrors the on-chain status enum.
type EscrowStatus uint8

const (
	EscrowStatusNone EscrowStatus = iota
	EscrowStatusFunded
	EscrowStatusOutcomeReported
	EscrowStatusDisputed
	EscrowStatusSettled
	EscrowStatusRefunded
)

var escrowStatusNames = map[EscrowStatus]string{
	EscrowStatusNone:            "none",
	EscrowStatusFunded:          "funded",
	EscrowStatusOutcomeReported: "outcome_reported",
	EscrowStatusDisputed:        "disputed",
	EscrowStatusSettled:         "settled",
	EscrowStatusRefunded:        "refunded",
}

func (s EscrowStatus) String() string {
	if name, ok := escrowStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid state transitions: from -> []to. FUNDED may move straight to
// REFUNDED (permission revoked, or the agent never files a report).
var ValidEscrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusNone:            {EscrowStatusFunded},
	EscrowStatusFunded:          {EscrowStatusOutcomeReported, EscrowStatusRefunded},
	EscrowStatusOutcomeReported: {EscrowStatusSettled, EscrowStatusDisputed},
	EscrowStatusDisputed:        {EscrowStatusSettled, EscrowStatusRefunded},
	EscrowStatusSettled:         {},
	EscrowStatusRefunded:        {},
}

func IsValidEscrowTransition(from, to EscrowStatus) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Escrow is funds locked by an agent against a Permission pending outcome
// reporting and settlement. Read-derived snapshot, same caveat as Permission.
type Escrow struct {
	ID                 uint64         `json:"id"`
	PermissionID       uint64         `json:"permission_id"`
	Agent              common.Address `json:"agent"`
	AgentID            uint64         `json:"agent_id"` // 0 = anonymous/unregistered
	Amount             *big.Int       `json:"amount"`
	OutcomeValue       *big.Int       `json:"outcome_value"`
	OutcomeType        string         `json:"outcome_type"`
	OutcomeDescription string         `json:"outcome_description"`
	ReportedAt         time.Time      `json:"reported_at"` // zero until reported
	Status             EscrowStatus   `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
}

// DisputeWindowEnd returns the instant settlement becomes possible. Zero
// time if no outcome has been reported yet.
func (e *Escrow) DisputeWindowEnd(window time.Duration) time.Time {
	if e.ReportedAt.IsZero() {
		return time.Time{}
	}
	return e.ReportedAt.Add(window)
}

// Settleable reports whether settle would be accepted by the contract:
// the dispute window must have elapsed and the escrow must be in
// OUTCOME_REPORTED or DISPUTED state.
func (e *Escrow) Settleable(at time.Time, window time.Duration) bool {
	if e.Status != EscrowStatusOutcomeReported && e.Status != EscrowStatusDisputed {
		return false
	}
	end := e.DisputeWindowEnd(window)
	return !end.IsZero() && !at.Before(end)
}
