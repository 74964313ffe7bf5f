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
	"github.com/prmission/backend/internal/units"
	"go.uber.org/zap"
)

// maxUint256 is used for the one-time unlimited approval, avoiding an
// approval round-trip on every subsequent deposit.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Client is the public protocol API: the seven mutating operations plus
// the read surface, composed from the state client and the transaction
// orchestrator. One Client serves one signing account.
type Client struct {
	state          *StateClient
	orch           *chain.Orchestrator
	contract       common.Address
	protocolFeeBps int64
	log            *zap.Logger
}

func NewClient(state *StateClient, orch *chain.Orchestrator, contract common.Address, protocolFeeBps int64, log *zap.Logger) *Client {
	return &Client{
		state:          state,
		orch:           orch,
		contract:       contract,
		protocolFeeBps: protocolFeeBps,
		log:            log,
	}
}

func (c *Client) State() *StateClient {
	return c.state
}

func (c *Client) Address() common.Address {
	return c.orch.From()
}

// Grant creates a permission and returns the ledger-assigned id.
// A zero merchant address leaves the permission unrestricted.
func (c *Client) Grant(ctx context.Context, merchant common.Address, dataCategory, purpose string, compensationBps int64, upfrontFee *big.Int, validity time.Duration) (uint64, *chain.Result, error) {
	if compensationBps < 0 || compensationBps > settlement.MaxCompensationBps {
		return 0, nil, fmt.Errorf("%w: compensation %d bps", settlement.ErrInvalidRate, compensationBps)
	}
	if upfrontFee == nil {
		upfrontFee = big.NewInt(0)
	}

	calldata, err := chain.PrmissionABI.Pack("grantPermission",
		merchant, dataCategory, purpose,
		big.NewInt(compensationBps), upfrontFee,
		big.NewInt(int64(validity.Seconds())))
	if err != nil {
		return 0, nil, fmt.Errorf("pack grantPermission: %w", err)
	}

	res, err := c.orch.Execute(ctx, c.contract, calldata, fmt.Sprintf("grant permission [%s]", dataCategory))
	if err != nil {
		return 0, res, err
	}

	if id, ok := chain.GrantedPermissionID(res.Receipt); ok {
		return id, res, nil
	}
	id, err := c.fallbackLastID(ctx, "permission", c.state.NextPermissionID)
	return id, res, err
}

// Revoke terminates a permission. Subject-only; the contract rejects
// anyone else at estimation time.
func (c *Client) Revoke(ctx context.Context, permissionID uint64) (*chain.Result, error) {
	calldata, err := chain.PrmissionABI.Pack("revokePermission", new(big.Int).SetUint64(permissionID))
	if err != nil {
		return nil, fmt.Errorf("pack revokePermission: %w", err)
	}
	return c.orch.Execute(ctx, c.contract, calldata, fmt.Sprintf("revoke permission #%d", permissionID))
}

// Deposit locks funds against a permission and returns the assigned
// escrow id. Pre-flight: the account must hold amount + the permission's
// upfront fee, and the protocol must have at least that allowance; a
// missing allowance triggers an approve that is confirmed before the
// deposit is built, since the deposit's validity depends on it.
func (c *Client) Deposit(ctx context.Context, permissionID uint64, amount *big.Int, agentID uint64) (uint64, *chain.Result, error) {
	perm, err := c.state.GetPermission(ctx, permissionID)
	if err != nil {
		return 0, nil, err
	}

	required := new(big.Int).Add(amount, perm.UpfrontFee)

	balance, err := c.state.BalanceOf(ctx, c.orch.From())
	if err != nil {
		return 0, nil, err
	}
	if balance.Cmp(required) < 0 {
		return 0, nil, fmt.Errorf("%w: balance %s below required %s",
			ErrInsufficientFunds, units.ToDecimal(balance), units.ToDecimal(required))
	}

	if err := c.ensureAllowance(ctx, required); err != nil {
		return 0, nil, err
	}

	calldata, err := chain.PrmissionABI.Pack("depositEscrow",
		new(big.Int).SetUint64(permissionID), amount, new(big.Int).SetUint64(agentID))
	if err != nil {
		return 0, nil, fmt.Errorf("pack depositEscrow: %w", err)
	}

	res, err := c.orch.Execute(ctx, c.contract, calldata, fmt.Sprintf("deposit escrow [%s USDC]", units.ToDecimal(amount)))
	if err != nil {
		return 0, res, err
	}

	if id, ok := chain.DepositedEscrowID(res.Receipt); ok {
		return id, res, nil
	}
	id, err := c.fallbackLastID(ctx, "escrow", c.state.NextEscrowID)
	return id, res, err
}

// Report files the outcome for a funded escrow and starts the dispute
// window. Returns the window end decoded from the emitted event, zero if
// the event was not found in the receipt.
func (c *Client) Report(ctx context.Context, escrowID uint64, outcomeValue *big.Int, outcomeType, outcomeDescription string) (time.Time, *chain.Result, error) {
	calldata, err := chain.PrmissionABI.Pack("reportOutcome",
		new(big.Int).SetUint64(escrowID), outcomeValue, outcomeType, outcomeDescription)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("pack reportOutcome: %w", err)
	}

	res, err := c.orch.Execute(ctx, c.contract, calldata, fmt.Sprintf("report outcome [escrow #%d]", escrowID))
	if err != nil {
		return time.Time{}, res, err
	}

	for _, lg := range res.Receipt.Logs {
		if ev, perr := chain.ParseOutcomeReported(*lg); perr == nil {
			return ev.DisputeWindowEnd, res, nil
		}
	}
	return time.Time{}, res, nil
}

// Dispute raises a dispute against a reported outcome within the window.
func (c *Client) Dispute(ctx context.Context, escrowID uint64, reason string) (*chain.Result, error) {
	calldata, err := chain.PrmissionABI.Pack("disputeSettlement", new(big.Int).SetUint64(escrowID), reason)
	if err != nil {
		return nil, fmt.Errorf("pack disputeSettlement: %w", err)
	}
	return c.orch.Execute(ctx, c.contract, calldata, fmt.Sprintf("dispute [escrow #%d]", escrowID))
}

// Settle pays out the escrow once the dispute window has elapsed. The
// splits decoded from the settlement event are cross-checked against the
// local calculator; a mismatch means fee-configuration or protocol
// version drift and is logged as a reconciliation warning, never
// silently trusted.
func (c *Client) Settle(ctx context.Context, escrowID uint64) (*settlement.Split, *chain.Result, error) {
	expected, expectErr := c.ExpectedSplit(ctx, escrowID)

	calldata, err := chain.PrmissionABI.Pack("settle", new(big.Int).SetUint64(escrowID))
	if err != nil {
		return nil, nil, fmt.Errorf("pack settle: %w", err)
	}

	res, err := c.orch.Execute(ctx, c.contract, calldata, fmt.Sprintf("settle [escrow #%d]", escrowID))
	if err != nil {
		return nil, res, err
	}

	ev, ok := chain.CompletedSettlement(res.Receipt)
	if !ok {
		c.log.Warn("settlement event missing from receipt",
			zap.Uint64("escrow_id", escrowID),
			zap.String("tx_hash", res.TxHash.Hex()))
		if expectErr != nil {
			return nil, res, fmt.Errorf("%w: escrow #%d, tx %s", ErrSettlementUnverified, escrowID, res.TxHash.Hex())
		}
		return &expected, res, nil
	}

	actual := settlement.Split{UserShare: ev.UserShare, ProtocolFee: ev.ProtocolFee, AgentRefund: ev.AgentRefund}
	if expectErr == nil && !actual.Equal(expected) {
		c.log.Warn("settlement drift: ledger shares differ from local computation",
			zap.Uint64("escrow_id", escrowID),
			zap.String("ledger_user_share", actual.UserShare.String()),
			zap.String("local_user_share", expected.UserShare.String()),
			zap.String("ledger_protocol_fee", actual.ProtocolFee.String()),
			zap.String("local_protocol_fee", expected.ProtocolFee.String()),
		)
	}
	return &actual, res, nil
}

// Refund returns escrowed funds to the agent (revoked permission, missed
// report, or resolved dispute).
func (c *Client) Refund(ctx context.Context, escrowID uint64) (*chain.Result, error) {
	calldata, err := chain.PrmissionABI.Pack("refundEscrow", new(big.Int).SetUint64(escrowID))
	if err != nil {
		return nil, fmt.Errorf("pack refundEscrow: %w", err)
	}
	return c.orch.Execute(ctx, c.contract, calldata, fmt.Sprintf("refund [escrow #%d]", escrowID))
}

// ExpectedSplit computes the settlement split locally from current
// ledger state, for previews and reconciliation.
func (c *Client) ExpectedSplit(ctx context.Context, escrowID uint64) (settlement.Split, error) {
	escrow, err := c.state.GetEscrow(ctx, escrowID)
	if err != nil {
		return settlement.Split{}, err
	}
	perm, err := c.state.GetPermission(ctx, escrow.PermissionID)
	if err != nil {
		return settlement.Split{}, err
	}
	return settlement.Preview(escrow.Amount, perm.CompensationBps, c.protocolFeeBps)
}

// ensureAllowance submits a max-value approve if the current allowance
// does not cover the required total, and waits for its confirmation.
func (c *Client) ensureAllowance(ctx context.Context, required *big.Int) error {
	current, err := c.state.Allowance(ctx, c.orch.From())
	if err != nil {
		return err
	}
	if current.Cmp(required) >= 0 {
		return nil
	}

	c.log.Info("allowance below required, approving",
		zap.String("current", current.String()),
		zap.String("required", required.String()))

	calldata, err := chain.ERC20ABI.Pack("approve", c.contract, maxUint256)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	_, err = c.orch.Execute(ctx, c.state.usdc, calldata, "approve USDC")
	return err
}

// fallbackLastID recovers an assigned id by reading the global next-id
// counter when the confirmation event is missing (e.g. log pruning).
// Best-effort only: racy if unrelated operations confirmed in the same
// window.
func (c *Client) fallbackLastID(ctx context.Context, entity string, next func(context.Context) (uint64, error)) (uint64, error) {
	c.log.Warn("confirmation event not found, falling back to next-id counter",
		zap.String("entity", entity))
	counter, err := next(ctx)
	if err != nil {
		return 0, fmt.Errorf("id recovery for %s: %w", entity, err)
	}
	if counter == 0 {
		return 0, fmt.Errorf("%w: %s counter still zero after confirmed transaction", ErrNotFound, entity)
	}
	return counter - 1, nil
}

// Eligible is a client-side pre-check mirroring the contract's rules: the
// permission must be effectively ACTIVE (expiry is derived at read time,
// never submitted) and either unrestricted or granted to this merchant.
// Advisory only — the ledger re-validates at submission.
func Eligible(perm *models.Permission, agent common.Address, at time.Time) bool {
	if !perm.Usable(at) {
		return false
	}
	return perm.Unrestricted() || perm.Merchant == agent
}
