// Package settlement reproduces the contract's escrow split arithmetic
// client-side, for previews and for verifying ledger-reported settlements.
package settlement

import (
	"errors"
	"fmt"
	"math/big"
)

// Protocol constants. These must match the deployed contract; the
// config layer allows overriding fee/cap for alternate deployments.
const (
	BPSDenominator        = 10000
	DefaultProtocolFeeBps = 300
	MaxCompensationBps    = 5000
	DisputeWindowSeconds  = 86400
	RevocationGraceSecs   = 60
)

var (
	ErrInvalidRate   = errors.New("invalid rate")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Split is the three-way division of a locked escrow amount.
type Split struct {
	UserShare   *big.Int `json:"user_share"`
	ProtocolFee *big.Int `json:"protocol_fee"`
	AgentRefund *big.Int `json:"agent_refund"`
}

// Equal reports whether two splits match share for share.
func (s Split) Equal(o Split) bool {
	return s.UserShare.Cmp(o.UserShare) == 0 &&
		s.ProtocolFee.Cmp(o.ProtocolFee) == 0 &&
		s.AgentRefund.Cmp(o.AgentRefund) == 0
}

// Preview computes the settlement split for a locked amount.
//
// userShare and protocolFee floor independently; agentRefund is the exact
// remainder, so the three shares always sum to locked even when both
// divisions round down.
func Preview(locked *big.Int, compensationBps, protocolFeeBps int64) (Split, error) {
	if locked == nil || locked.Sign() < 0 {
		return Split{}, fmt.Errorf("%w: locked amount must be non-negative", ErrInvalidAmount)
	}
	if compensationBps < 0 || protocolFeeBps < 0 {
		return Split{}, fmt.Errorf("%w: bps must be non-negative", ErrInvalidRate)
	}
	if compensationBps > MaxCompensationBps {
		return Split{}, fmt.Errorf("%w: compensation %d bps exceeds max %d", ErrInvalidRate, compensationBps, MaxCompensationBps)
	}
	if protocolFeeBps > BPSDenominator {
		return Split{}, fmt.Errorf("%w: protocol fee %d bps exceeds denominator", ErrInvalidRate, protocolFeeBps)
	}

	denom := big.NewInt(BPSDenominator)

	userShare := new(big.Int).Mul(locked, big.NewInt(compensationBps))
	userShare.Quo(userShare, denom)

	protocolFee := new(big.Int).Mul(locked, big.NewInt(protocolFeeBps))
	protocolFee.Quo(protocolFee, denom)

	agentRefund := new(big.Int).Sub(locked, userShare)
	agentRefund.Sub(agentRefund, protocolFee)

	return Split{UserShare: userShare, ProtocolFee: protocolFee, AgentRefund: agentRefund}, nil
}
