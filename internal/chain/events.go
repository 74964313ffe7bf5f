package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event topic ids, derived from the parsed ABI.
var (
	TopicPermissionGranted   = PrmissionABI.Events["PermissionGranted"].ID
	TopicEscrowDeposited     = PrmissionABI.Events["EscrowDeposited"].ID
	TopicOutcomeReported     = PrmissionABI.Events["OutcomeReported"].ID
	TopicSettlementCompleted = PrmissionABI.Events["SettlementCompleted"].ID
)

type PermissionGrantedEvent struct {
	PermissionID    uint64
	User            common.Address
	Merchant        common.Address
	DataCategory    string
	Purpose         string
	CompensationBps int64
	UpfrontFee      *big.Int
	ValidUntil      time.Time
}

type EscrowDepositedEvent struct {
	EscrowID     uint64
	PermissionID uint64
	Agent        common.Address
	AgentID      uint64
	Amount       *big.Int
}

type OutcomeReportedEvent struct {
	EscrowID         uint64
	OutcomeValue     *big.Int
	OutcomeType      string
	DisputeWindowEnd time.Time
}

type SettlementCompletedEvent struct {
	EscrowID    uint64
	UserShare   *big.Int
	ProtocolFee *big.Int
	AgentRefund *big.Int
}

func ParsePermissionGranted(lg types.Log) (*PermissionGrantedEvent, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != TopicPermissionGranted {
		return nil, fmt.Errorf("not a PermissionGranted log")
	}
	vals, err := PrmissionABI.Unpack("PermissionGranted", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack PermissionGranted: %w", err)
	}
	return &PermissionGrantedEvent{
		PermissionID:    topicUint64(lg.Topics[1]),
		User:            common.BytesToAddress(lg.Topics[2].Bytes()),
		Merchant:        common.BytesToAddress(lg.Topics[3].Bytes()),
		DataCategory:    vals[0].(string),
		Purpose:         vals[1].(string),
		CompensationBps: vals[2].(*big.Int).Int64(),
		UpfrontFee:      vals[3].(*big.Int),
		ValidUntil:      unixTime(vals[4].(*big.Int)),
	}, nil
}

func ParseEscrowDeposited(lg types.Log) (*EscrowDepositedEvent, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != TopicEscrowDeposited {
		return nil, fmt.Errorf("not an EscrowDeposited log")
	}
	vals, err := PrmissionABI.Unpack("EscrowDeposited", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack EscrowDeposited: %w", err)
	}
	return &EscrowDepositedEvent{
		EscrowID:     topicUint64(lg.Topics[1]),
		PermissionID: topicUint64(lg.Topics[2]),
		Agent:        common.BytesToAddress(lg.Topics[3].Bytes()),
		AgentID:      vals[0].(*big.Int).Uint64(),
		Amount:       vals[1].(*big.Int),
	}, nil
}

func ParseOutcomeReported(lg types.Log) (*OutcomeReportedEvent, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != TopicOutcomeReported {
		return nil, fmt.Errorf("not an OutcomeReported log")
	}
	vals, err := PrmissionABI.Unpack("OutcomeReported", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack OutcomeReported: %w", err)
	}
	return &OutcomeReportedEvent{
		EscrowID:         topicUint64(lg.Topics[1]),
		OutcomeValue:     vals[0].(*big.Int),
		OutcomeType:      vals[1].(string),
		DisputeWindowEnd: unixTime(vals[2].(*big.Int)),
	}, nil
}

func ParseSettlementCompleted(lg types.Log) (*SettlementCompletedEvent, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != TopicSettlementCompleted {
		return nil, fmt.Errorf("not a SettlementCompleted log")
	}
	vals, err := PrmissionABI.Unpack("SettlementCompleted", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack SettlementCompleted: %w", err)
	}
	return &SettlementCompletedEvent{
		EscrowID:    topicUint64(lg.Topics[1]),
		UserShare:   vals[0].(*big.Int),
		ProtocolFee: vals[1].(*big.Int),
		AgentRefund: vals[2].(*big.Int),
	}, nil
}

// GrantedPermissionID scans receipt logs for the grant-confirmation event
// and returns the ledger-assigned permission id.
func GrantedPermissionID(receipt *types.Receipt) (uint64, bool) {
	for _, lg := range receipt.Logs {
		if ev, err := ParsePermissionGranted(*lg); err == nil {
			return ev.PermissionID, true
		}
	}
	return 0, false
}

// DepositedEscrowID scans receipt logs for the deposit-confirmation event
// and returns the ledger-assigned escrow id.
func DepositedEscrowID(receipt *types.Receipt) (uint64, bool) {
	for _, lg := range receipt.Logs {
		if ev, err := ParseEscrowDeposited(*lg); err == nil {
			return ev.EscrowID, true
		}
	}
	return 0, false
}

// CompletedSettlement scans receipt logs for the settlement-completion
// event carrying the final shares.
func CompletedSettlement(receipt *types.Receipt) (*SettlementCompletedEvent, bool) {
	for _, lg := range receipt.Logs {
		if ev, err := ParseSettlementCompleted(*lg); err == nil {
			return ev, true
		}
	}
	return nil, false
}

func topicUint64(h common.Hash) uint64 {
	return new(big.Int).SetBytes(h.Bytes()).Uint64()
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
