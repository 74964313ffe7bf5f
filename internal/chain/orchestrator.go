package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Phase tracks how far a submitted operation got. Partial states are never
// discarded: a Result always carries the last phase reached so the caller
// can decide whether a resubmission is safe.
type Phase string

const (
	PhaseBuilt     Phase = "built"
	PhasePriced    Phase = "priced"
	PhaseSigned    Phase = "signed"
	PhaseSubmitted Phase = "submitted"
	PhaseConfirmed Phase = "confirmed"
	PhaseFailed    Phase = "failed"
	PhaseTimedOut  Phase = "timed_out"
)

// Result records the outcome of one orchestrated transaction.
type Result struct {
	Phase    Phase          `json:"phase"`
	Nonce    uint64         `json:"nonce"`
	GasLimit uint64         `json:"gas_limit"`
	TxHash   common.Hash    `json:"tx_hash"`
	Receipt  *types.Receipt `json:"-"`
}

// Orchestrator drives a state-changing request through
// built -> priced -> signed -> submitted -> {confirmed | failed | timed_out}
// against the ledger. One orchestrator serves one account; the account's
// sequence number serializes its operations, so callers must not submit
// concurrently from the same account.
type Orchestrator struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	gasMultiplier  float64
	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            *zap.Logger
}

func NewOrchestrator(
	backend Backend,
	key *ecdsa.PrivateKey,
	from common.Address,
	chainID int64,
	gasMultiplier float64,
	confirmTimeout, pollInterval time.Duration,
	log *zap.Logger,
) *Orchestrator {
	if gasMultiplier < 1.0 {
		gasMultiplier = 1.0
	}
	return &Orchestrator{
		backend:        backend,
		key:            key,
		from:           from,
		chainID:        big.NewInt(chainID),
		gasMultiplier:  gasMultiplier,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		log:            log,
	}
}

func (o *Orchestrator) From() common.Address {
	return o.from
}

// Execute runs the full pipeline for already-packed calldata and blocks
// until the transaction confirms, reverts, or the confirmation deadline
// passes. An estimation revert never reaches submission: it surfaces the
// business-rule rejection as ErrEstimationFailed before any funds are spent.
func (o *Orchestrator) Execute(ctx context.Context, to common.Address, calldata []byte, description string) (*Result, error) {
	res := &Result{}

	// Build: the pending nonce serializes this account's operations and
	// prevents replay.
	nonce, err := o.backend.PendingNonceAt(ctx, o.from)
	if err != nil {
		return res, fmt.Errorf("%w: pending nonce: %v", ErrConnectivity, err)
	}
	res.Phase = PhaseBuilt
	res.Nonce = nonce

	// Price: simulate, then inflate the estimate to reduce the chance of
	// an underpriced rejection.
	gasPrice, err := o.backend.SuggestGasPrice(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: gas price: %v", ErrConnectivity, err)
	}
	gasFeeCap := new(big.Int).Add(gasPrice, big.NewInt(1_000_000_000)) // +1 gwei headroom
	gasTipCap := big.NewInt(1_000_000)

	estimate, err := o.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: o.from,
		To:   &to,
		Data: calldata,
	})
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrEstimationFailed, description, err)
	}
	res.GasLimit = uint64(float64(estimate) * o.gasMultiplier)
	res.Phase = PhasePriced

	signed, err := types.SignNewTx(o.key, types.LatestSignerForChainID(o.chainID), &types.DynamicFeeTx{
		ChainID:   o.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       res.GasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      calldata,
	})
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	res.Phase = PhaseSigned
	res.TxHash = signed.Hash()

	if err := o.backend.SendTransaction(ctx, signed); err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrSubmission, description, err)
	}
	res.Phase = PhaseSubmitted

	o.log.Info("transaction submitted",
		zap.String("description", description),
		zap.String("tx_hash", res.TxHash.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", res.GasLimit),
	)

	return o.confirm(ctx, res, description)
}

// confirm polls for inclusion up to the confirmation deadline. A missing
// receipt at the deadline is TIMED_OUT, not FAILED: the transaction may
// still confirm later, so the caller must re-query ledger state before
// resubmitting.
func (o *Orchestrator) confirm(ctx context.Context, res *Result, description string) (*Result, error) {
	deadline := time.NewTimer(o.confirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := o.backend.TransactionReceipt(ctx, res.TxHash)
		if err == nil && receipt != nil {
			res.Receipt = receipt
			if receipt.Status == types.ReceiptStatusSuccessful {
				res.Phase = PhaseConfirmed
				o.log.Info("transaction confirmed",
					zap.String("description", description),
					zap.String("tx_hash", res.TxHash.Hex()),
					zap.Uint64("block", receipt.BlockNumber.Uint64()),
					zap.Uint64("gas_used", receipt.GasUsed),
				)
				return res, nil
			}
			// Reverted on-chain: a business-rule rejection, not a
			// transient fault. Retrying the same transaction fails again.
			res.Phase = PhaseFailed
			return res, fmt.Errorf("%w: %s: tx %s", ErrReverted, description, res.TxHash.Hex())
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			o.log.Warn("receipt poll failed", zap.String("tx_hash", res.TxHash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			res.Phase = PhaseTimedOut
			return res, fmt.Errorf("%w: %s: tx %s: %v", ErrConfirmTimeout, description, res.TxHash.Hex(), ctx.Err())
		case <-deadline.C:
			res.Phase = PhaseTimedOut
			return res, fmt.Errorf("%w: %s: tx %s not included within %s", ErrConfirmTimeout, description, res.TxHash.Hex(), o.confirmTimeout)
		case <-ticker.C:
		}
	}
}
