package protocol

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prmission/backend/internal/chain"
	"github.com/prmission/backend/internal/models"
	"github.com/prmission/backend/internal/settlement"
	"go.uber.org/zap"
)

// txBackend scripts both the read surface (by selector) and the
// submission path: each sent transaction is paired with the next receipt
// in the queue.
type txBackend struct {
	outputs     map[string][]byte
	estimate    uint64
	estimateErr error

	queue    []*types.Receipt
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

func (b *txBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	sel := hex.EncodeToString(msg.Data[:4])
	out, ok := b.outputs[sel]
	if !ok {
		return nil, errors.New("unexpected call: " + sel)
	}
	return out, nil
}

func (b *txBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return uint64(len(b.sent)), nil
}

func (b *txBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *txBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	if b.estimate == 0 {
		return 100_000, nil
	}
	return b.estimate, nil
}

func (b *txBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if len(b.sent) >= len(b.queue) {
		return errors.New("no receipt scripted for this transaction")
	}
	if b.receipts == nil {
		b.receipts = make(map[common.Hash]*types.Receipt)
	}
	b.receipts[tx.Hash()] = b.queue[len(b.sent)]
	b.sent = append(b.sent, tx)
	return nil
}

func (b *txBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := b.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *txBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (b *txBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, errors.New("not scripted")
}

func newTestClient(t *testing.T, backend chain.Backend) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	orch := chain.NewOrchestrator(backend, key, from, 8453, 1.2, 200*time.Millisecond, 5*time.Millisecond, zap.NewNop())
	state := NewStateClient(backend, testContract, testUSDC)
	return NewClient(state, orch, testContract, settlement.DefaultProtocolFeeBps, zap.NewNop())
}

func grantedLog(t *testing.T, id uint64) *types.Log {
	t.Helper()
	data, err := chain.PrmissionABI.Events["PermissionGranted"].Inputs.NonIndexed().Pack(
		"purchase_history", "ad_targeting", big.NewInt(1000), big.NewInt(0), big.NewInt(time.Now().Add(time.Hour).Unix()))
	if err != nil {
		t.Fatal(err)
	}
	return &types.Log{
		Topics: []common.Hash{
			chain.TopicPermissionGranted,
			common.BigToHash(new(big.Int).SetUint64(id)),
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BytesToHash(common.Address{}.Bytes()),
		},
		Data: data,
	}
}

func successReceipt(logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs:        logs,
	}
}

func TestGrantDecodesAssignedID(t *testing.T) {
	backend := &txBackend{
		queue: []*types.Receipt{successReceipt(grantedLog(t, 42))},
	}
	client := newTestClient(t, backend)

	id, res, err := client.Grant(context.Background(), common.Address{},
		"purchase_history", "ad_targeting", 1000, big.NewInt(0), time.Hour)
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if id != 42 {
		t.Errorf("permission id = %d, want 42", id)
	}
	if res.Phase != chain.PhaseConfirmed {
		t.Errorf("phase = %v, want %v", res.Phase, chain.PhaseConfirmed)
	}
	if len(backend.sent) != 1 {
		t.Errorf("sent %d transactions, want 1", len(backend.sent))
	}
}

// When the receipt carries no recognizable event, the id is recovered
// from the next-id counter.
func TestGrantFallsBackToCounter(t *testing.T) {
	backend := &txBackend{
		queue: []*types.Receipt{successReceipt()}, // no logs
		outputs: map[string][]byte{
			selector(t, "nextPermissionId"): packOutputs(t, "nextPermissionId", big.NewInt(43)),
		},
	}
	client := newTestClient(t, backend)

	id, _, err := client.Grant(context.Background(), common.Address{},
		"purchase_history", "ad_targeting", 1000, big.NewInt(0), time.Hour)
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if id != 42 {
		t.Errorf("permission id = %d, want 42 (counter minus one)", id)
	}
}

func TestGrantRejectsCompensationAboveCap(t *testing.T) {
	backend := &txBackend{}
	client := newTestClient(t, backend)

	_, _, err := client.Grant(context.Background(), common.Address{},
		"purchase_history", "ad_targeting", settlement.MaxCompensationBps+1, big.NewInt(0), time.Hour)
	if !errors.Is(err, settlement.ErrInvalidRate) {
		t.Fatalf("error = %v, want ErrInvalidRate", err)
	}
	if len(backend.sent) != 0 {
		t.Error("invalid rate must be rejected before submission")
	}
}

func permissionOutputs(t *testing.T, upfront int64) []byte {
	t.Helper()
	return packOutputs(t, "permissions",
		common.HexToAddress("0x01"), common.Address{}, "purchase_history", "ad_targeting",
		big.NewInt(1000), big.NewInt(upfront),
		big.NewInt(time.Now().Add(time.Hour).Unix()), uint8(models.PermissionStatusActive),
		big.NewInt(time.Now().Unix()), big.NewInt(0))
}

func TestDepositInsufficientBalance(t *testing.T) {
	backend := &txBackend{
		outputs: map[string][]byte{
			selector(t, "permissions"): permissionOutputs(t, 500_000),
			selector(t, "balanceOf"):   packOutputs(t, "balanceOf", big.NewInt(1_000_000)),
		},
	}
	client := newTestClient(t, backend)

	// amount + upfront = 1.5 USDC against a 1.0 balance
	_, _, err := client.Deposit(context.Background(), 42, big.NewInt(1_000_000), 0)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	if len(backend.sent) != 0 {
		t.Error("underfunded deposit must not submit anything")
	}
}

// A short allowance triggers an approve that confirms before the deposit
// is built, so exactly two transactions go out in order.
func TestDepositApprovesWhenAllowanceShort(t *testing.T) {
	agent := common.HexToAddress("0x3333333333333333333333333333333333333333")
	depositData, err := chain.PrmissionABI.Events["EscrowDeposited"].Inputs.NonIndexed().Pack(
		big.NewInt(0), big.NewInt(1_000_000))
	if err != nil {
		t.Fatal(err)
	}
	depositLog := &types.Log{
		Topics: []common.Hash{
			chain.TopicEscrowDeposited,
			common.BigToHash(big.NewInt(9)),
			common.BigToHash(big.NewInt(42)),
			common.BytesToHash(agent.Bytes()),
		},
		Data: depositData,
	}

	backend := &txBackend{
		outputs: map[string][]byte{
			selector(t, "permissions"): permissionOutputs(t, 0),
			selector(t, "balanceOf"):   packOutputs(t, "balanceOf", big.NewInt(10_000_000)),
			selector(t, "allowance"):   packOutputs(t, "allowance", big.NewInt(0)),
		},
		queue: []*types.Receipt{
			successReceipt(),           // approve
			successReceipt(depositLog), // deposit
		},
	}
	client := newTestClient(t, backend)

	id, _, err := client.Deposit(context.Background(), 42, big.NewInt(1_000_000), 0)
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if id != 9 {
		t.Errorf("escrow id = %d, want 9", id)
	}
	if len(backend.sent) != 2 {
		t.Fatalf("sent %d transactions, want 2 (approve then deposit)", len(backend.sent))
	}
	if to := backend.sent[0].To(); to == nil || *to != testUSDC {
		t.Error("first transaction should target the token contract")
	}
	if to := backend.sent[1].To(); to == nil || *to != testContract {
		t.Error("second transaction should target the protocol contract")
	}
}

func TestDepositSkipsApproveWhenAllowanceCovers(t *testing.T) {
	backend := &txBackend{
		outputs: map[string][]byte{
			selector(t, "permissions"): permissionOutputs(t, 0),
			selector(t, "balanceOf"):   packOutputs(t, "balanceOf", big.NewInt(10_000_000)),
			selector(t, "allowance"):   packOutputs(t, "allowance", big.NewInt(5_000_000)),
			selector(t, "nextEscrowId"): packOutputs(t, "nextEscrowId", big.NewInt(10)),
		},
		queue: []*types.Receipt{successReceipt()},
	}
	client := newTestClient(t, backend)

	id, _, err := client.Deposit(context.Background(), 42, big.NewInt(1_000_000), 0)
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.sent))
	}
	if id != 9 {
		t.Errorf("escrow id = %d, want 9 (counter fallback)", id)
	}
}

// The ledger rejects a deposit against a revoked permission at gas
// estimation, before anything is signed or submitted.
func TestDepositEstimationRevertOnRevokedPermission(t *testing.T) {
	revoked := packOutputs(t, "permissions",
		common.HexToAddress("0x01"), common.Address{}, "purchase_history", "ad_targeting",
		big.NewInt(1000), big.NewInt(0),
		big.NewInt(time.Now().Add(time.Hour).Unix()), uint8(models.PermissionStatusRevoked),
		big.NewInt(time.Now().Add(-time.Hour).Unix()), big.NewInt(time.Now().Unix()))

	backend := &txBackend{
		outputs: map[string][]byte{
			selector(t, "permissions"): revoked,
			selector(t, "balanceOf"):   packOutputs(t, "balanceOf", big.NewInt(10_000_000)),
			selector(t, "allowance"):   packOutputs(t, "allowance", big.NewInt(5_000_000)),
		},
		estimateErr: errors.New("execution reverted: PermissionNotActive"),
	}
	client := newTestClient(t, backend)

	_, _, err := client.Deposit(context.Background(), 42, big.NewInt(1_000_000), 0)
	if !errors.Is(err, chain.ErrEstimationFailed) {
		t.Fatalf("error = %v, want ErrEstimationFailed", err)
	}
	if len(backend.sent) != 0 {
		t.Error("a rejected estimate must not reach submission")
	}
}

// A confirmed settle whose receipt carries no settlement event, with the
// pre-transaction state read also unavailable, must fail with a typed
// error carrying the tx hash rather than return a nil split with a nil
// error.
func TestSettleUnverifiedWhenEventAndStateMissing(t *testing.T) {
	backend := &txBackend{
		// no `escrows` output scripted: ExpectedSplit cannot be computed
		queue: []*types.Receipt{successReceipt()}, // confirmed, no logs
	}
	client := newTestClient(t, backend)

	split, res, err := client.Settle(context.Background(), 9)
	if !errors.Is(err, ErrSettlementUnverified) {
		t.Fatalf("error = %v, want ErrSettlementUnverified", err)
	}
	if split != nil {
		t.Errorf("split = %+v, want nil alongside the error", split)
	}
	if res == nil || res.Phase != chain.PhaseConfirmed {
		t.Fatal("result should still report the confirmed submission")
	}
	if !strings.Contains(err.Error(), res.TxHash.Hex()) {
		t.Errorf("error %q should carry tx hash %s for re-query", err, res.TxHash.Hex())
	}
}

func TestSettleFallsBackToExpectedSplit(t *testing.T) {
	backend := &txBackend{
		outputs: map[string][]byte{
			selector(t, "escrows"): packOutputs(t, "escrows",
				big.NewInt(42), common.HexToAddress("0x03"), big.NewInt(0), big.NewInt(1_000_000),
				big.NewInt(0), "", "", big.NewInt(time.Now().Unix()),
				uint8(models.EscrowStatusOutcomeReported), big.NewInt(time.Now().Unix())),
			selector(t, "permissions"): permissionOutputs(t, 0),
		},
		queue: []*types.Receipt{successReceipt()}, // confirmed, no logs
	}
	client := newTestClient(t, backend)

	split, _, err := client.Settle(context.Background(), 9)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if split == nil {
		t.Fatal("split = nil, want locally computed fallback")
	}
	sum := new(big.Int).Add(split.UserShare, split.ProtocolFee)
	sum.Add(sum, split.AgentRefund)
	if sum.Int64() != 1_000_000 {
		t.Errorf("fallback shares sum to %s, want 1000000", sum)
	}
}

func TestEligible(t *testing.T) {
	now := time.Now()
	agent := common.HexToAddress("0x3333333333333333333333333333333333333333")
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")

	active := &models.Permission{Status: models.PermissionStatusActive, ValidUntil: now.Add(time.Hour)}
	if !Eligible(active, agent, now) {
		t.Error("unrestricted active permission should be eligible for any agent")
	}

	scoped := &models.Permission{Status: models.PermissionStatusActive, ValidUntil: now.Add(time.Hour), Merchant: agent}
	if !Eligible(scoped, agent, now) {
		t.Error("scoped permission should be eligible for its merchant")
	}
	if Eligible(scoped, other, now) {
		t.Error("scoped permission should not be eligible for another agent")
	}

	lapsed := &models.Permission{Status: models.PermissionStatusActive, ValidUntil: now.Add(-time.Minute)}
	if Eligible(lapsed, agent, now) {
		t.Error("lapsed permission should not be eligible")
	}

	revoked := &models.Permission{Status: models.PermissionStatusRevoked, ValidUntil: now.Add(time.Hour)}
	if Eligible(revoked, agent, now) {
		t.Error("revoked permission should not be eligible")
	}
}
