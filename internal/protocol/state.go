package protocol

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prmission/backend/internal/chain"
	"github.com/prmission/backend/internal/models"
	"github.com/prmission/backend/internal/settlement"
)

// AccessCheck is the eligibility snapshot returned by the contract's
// checkAccess view. Valid only for the current block: any subsequent
// block-advancing operation may invalidate it, so callers treat it as
// advisory and let the ledger re-validate at submission time.
type AccessCheck struct {
	Permitted       bool      `json:"permitted"`
	CompensationBps int64     `json:"compensation_bps"`
	UpfrontFee      *big.Int  `json:"upfront_fee"`
	ValidUntil      time.Time `json:"valid_until"`
}

// AgentTrust is the contract's registry/reputation view of an agent.
type AgentTrust struct {
	Registered bool     `json:"registered"`
	Authorized bool     `json:"authorized"`
	Reputable  bool     `json:"reputable"`
	RepScore   *big.Int `json:"rep_score"`
	RepCount   uint64   `json:"rep_count"`
}

// ProtocolStats aggregates the contract's global counters.
type ProtocolStats struct {
	TotalFeesCollected *big.Int `json:"total_fees_collected"`
	TotalSettledVolume *big.Int `json:"total_settled_volume"`
	TotalPermissions   uint64   `json:"total_permissions"`
	TotalEscrows       uint64   `json:"total_escrows"`
	IdentityEnforced   bool     `json:"identity_enforced"`
	ReputationEnforced bool     `json:"reputation_enforced"`
}

// StateClient reconstructs protocol entities from read-only contract
// calls. Every result is a point-in-time snapshot with no durability;
// the ledger stays authoritative.
type StateClient struct {
	backend  chain.Backend
	contract common.Address
	usdc     common.Address
}

func NewStateClient(backend chain.Backend, contract, usdc common.Address) *StateClient {
	return &StateClient{backend: backend, contract: contract, usdc: usdc}
}

func (s *StateClient) GetPermission(ctx context.Context, id uint64) (*models.Permission, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "permissions", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}

	user := vals[0].(common.Address)
	if user == (common.Address{}) {
		return nil, fmt.Errorf("%w: permission %d", ErrNotFound, id)
	}

	return &models.Permission{
		ID:              id,
		User:            user,
		Merchant:        vals[1].(common.Address),
		DataCategory:    vals[2].(string),
		Purpose:         vals[3].(string),
		CompensationBps: vals[4].(*big.Int).Int64(),
		UpfrontFee:      vals[5].(*big.Int),
		ValidUntil:      unixTime(vals[6].(*big.Int)),
		Status:          models.PermissionStatus(vals[7].(uint8)),
		CreatedAt:       unixTime(vals[8].(*big.Int)),
		RevokedAt:       unixTime(vals[9].(*big.Int)),
	}, nil
}

func (s *StateClient) GetEscrow(ctx context.Context, id uint64) (*models.Escrow, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "escrows", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}

	agent := vals[1].(common.Address)
	if agent == (common.Address{}) {
		return nil, fmt.Errorf("%w: escrow %d", ErrNotFound, id)
	}

	return &models.Escrow{
		ID:                 id,
		PermissionID:       vals[0].(*big.Int).Uint64(),
		Agent:              agent,
		AgentID:            vals[2].(*big.Int).Uint64(),
		Amount:             vals[3].(*big.Int),
		OutcomeValue:       vals[4].(*big.Int),
		OutcomeType:        vals[5].(string),
		OutcomeDescription: vals[6].(string),
		ReportedAt:         unixTime(vals[7].(*big.Int)),
		Status:             models.EscrowStatus(vals[8].(uint8)),
		CreatedAt:          unixTime(vals[9].(*big.Int)),
	}, nil
}

func (s *StateClient) CheckAccess(ctx context.Context, permissionID uint64, agent common.Address) (*AccessCheck, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "checkAccess",
		new(big.Int).SetUint64(permissionID), agent)
	if err != nil {
		return nil, err
	}
	return &AccessCheck{
		Permitted:       vals[0].(bool),
		CompensationBps: vals[1].(*big.Int).Int64(),
		UpfrontFee:      vals[2].(*big.Int),
		ValidUntil:      unixTime(vals[3].(*big.Int)),
	}, nil
}

func (s *StateClient) CheckAgentTrust(ctx context.Context, agentID uint64, agent common.Address) (*AgentTrust, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "checkAgentTrust",
		new(big.Int).SetUint64(agentID), agent)
	if err != nil {
		return nil, err
	}
	return &AgentTrust{
		Registered: vals[0].(bool),
		Authorized: vals[1].(bool),
		Reputable:  vals[2].(bool),
		RepScore:   vals[3].(*big.Int),
		RepCount:   vals[4].(uint64),
	}, nil
}

// ListUserPermissions returns a page of permission ids for a subject.
// An offset beyond the total count yields an empty slice, not an error.
func (s *StateClient) ListUserPermissions(ctx context.Context, user common.Address, offset, limit uint64) ([]uint64, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "getUserPermissions",
		user, new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	return toUint64s(vals[0].([]*big.Int)), nil
}

func (s *StateClient) ListPermissionEscrows(ctx context.Context, permissionID uint64) ([]uint64, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "getPermissionEscrows",
		new(big.Int).SetUint64(permissionID))
	if err != nil {
		return nil, err
	}
	return toUint64s(vals[0].([]*big.Int)), nil
}

// PreviewSettlement asks the ledger for its authoritative share
// computation, used to cross-check the local calculator.
func (s *StateClient) PreviewSettlement(ctx context.Context, escrowID uint64) (settlement.Split, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "previewSettlement",
		new(big.Int).SetUint64(escrowID))
	if err != nil {
		return settlement.Split{}, err
	}
	return settlement.Split{
		UserShare:   vals[0].(*big.Int),
		ProtocolFee: vals[1].(*big.Int),
		AgentRefund: vals[2].(*big.Int),
	}, nil
}

// ProtocolStats reads the global counters. Next-id counters start after
// the id space's zero slot, so totals are the counter minus one — with a
// never-used protocol (counter still zero) reporting zero, not negative.
func (s *StateClient) ProtocolStats(ctx context.Context) (*ProtocolStats, error) {
	stats := &ProtocolStats{}

	fees, err := s.callBig(ctx, "totalProtocolFees")
	if err != nil {
		return nil, err
	}
	stats.TotalFeesCollected = fees

	volume, err := s.callBig(ctx, "totalSettledVolume")
	if err != nil {
		return nil, err
	}
	stats.TotalSettledVolume = volume

	nextPerm, err := s.callBig(ctx, "nextPermissionId")
	if err != nil {
		return nil, err
	}
	stats.TotalPermissions = saturatingCount(nextPerm)

	nextEscrow, err := s.callBig(ctx, "nextEscrowId")
	if err != nil {
		return nil, err
	}
	stats.TotalEscrows = saturatingCount(nextEscrow)

	identity, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "identityEnforced")
	if err != nil {
		return nil, err
	}
	stats.IdentityEnforced = identity[0].(bool)

	reputation, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, "reputationEnforced")
	if err != nil {
		return nil, err
	}
	stats.ReputationEnforced = reputation[0].(bool)

	return stats, nil
}

// NextPermissionID reads the global permission id counter.
func (s *StateClient) NextPermissionID(ctx context.Context) (uint64, error) {
	v, err := s.callBig(ctx, "nextPermissionId")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// NextEscrowID reads the global escrow id counter.
func (s *StateClient) NextEscrowID(ctx context.Context) (uint64, error) {
	v, err := s.callBig(ctx, "nextEscrowId")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// BalanceOf reads the payment-asset balance of an account.
func (s *StateClient) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	vals, err := chain.Call(ctx, s.backend, s.usdc, chain.ERC20ABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// Allowance reads the spending allowance granted by owner to the protocol.
func (s *StateClient) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	vals, err := chain.Call(ctx, s.backend, s.usdc, chain.ERC20ABI, "allowance", owner, s.contract)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (s *StateClient) callBig(ctx context.Context, method string) (*big.Int, error) {
	vals, err := chain.Call(ctx, s.backend, s.contract, chain.PrmissionABI, method)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func saturatingCount(nextID *big.Int) uint64 {
	if nextID.Sign() <= 0 {
		return 0
	}
	return nextID.Uint64() - 1
}

func toUint64s(vals []*big.Int) []uint64 {
	ids := make([]uint64, 0, len(vals))
	for _, v := range vals {
		ids = append(ids, v.Uint64())
	}
	return ids
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
