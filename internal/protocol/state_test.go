package protocol

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prmission/backend/internal/chain"
	"github.com/prmission/backend/internal/models"
)

var (
	testContract = common.HexToAddress("0x0c8B16a57524f4009581B748356E01e1a969223d")
	testUSDC     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

// callBackend answers eth_call by method selector; everything else is
// out of scope for state reads.
type callBackend struct {
	outputs map[string][]byte // selector hex -> abi-encoded return data
	errs    map[string]error
}

func (b *callBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	sel := hex.EncodeToString(msg.Data[:4])
	if err, ok := b.errs[sel]; ok {
		return nil, err
	}
	out, ok := b.outputs[sel]
	if !ok {
		return nil, errors.New("unexpected call")
	}
	return out, nil
}

func (b *callBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, errors.New("not scripted")
}
func (b *callBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return nil, errors.New("not scripted")
}
func (b *callBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("not scripted")
}
func (b *callBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errors.New("not scripted")
}
func (b *callBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not scripted")
}
func (b *callBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return 0, errors.New("not scripted")
}
func (b *callBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, errors.New("not scripted")
}

func selector(t *testing.T, method string) string {
	t.Helper()
	m, ok := chain.PrmissionABI.Methods[method]
	if !ok {
		m, ok = chain.ERC20ABI.Methods[method]
	}
	if !ok {
		t.Fatalf("unknown method %q", method)
	}
	return hex.EncodeToString(m.ID)
}

func packOutputs(t *testing.T, method string, args ...any) []byte {
	t.Helper()
	m, ok := chain.PrmissionABI.Methods[method]
	if !ok {
		m = chain.ERC20ABI.Methods[method]
	}
	out, err := m.Outputs.Pack(args...)
	if err != nil {
		t.Fatalf("pack outputs for %s: %v", method, err)
	}
	return out
}

func newStateClient(backend chain.Backend) *StateClient {
	return NewStateClient(backend, testContract, testUSDC)
}

func TestGetPermission(t *testing.T) {
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	merchant := common.HexToAddress("0x2222222222222222222222222222222222222222")
	validUntil := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "permissions"): packOutputs(t, "permissions",
			user, merchant, "purchase_history", "ad_targeting",
			big.NewInt(1000), big.NewInt(500_000),
			big.NewInt(validUntil.Unix()), uint8(models.PermissionStatusActive),
			big.NewInt(createdAt.Unix()), big.NewInt(0)),
	}}

	perm, err := newStateClient(backend).GetPermission(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetPermission() error = %v", err)
	}
	if perm.ID != 42 || perm.User != user || perm.Merchant != merchant {
		t.Errorf("identity fields wrong: %+v", perm)
	}
	if perm.Status != models.PermissionStatusActive {
		t.Errorf("status = %v, want active", perm.Status)
	}
	if perm.CompensationBps != 1000 || perm.UpfrontFee.Int64() != 500_000 {
		t.Errorf("economics wrong: %+v", perm)
	}
	if !perm.ValidUntil.Equal(validUntil) {
		t.Errorf("valid until = %v, want %v", perm.ValidUntil, validUntil)
	}
	if !perm.RevokedAt.IsZero() {
		t.Errorf("revoked at = %v, want zero", perm.RevokedAt)
	}
}

// A zero user address in the storage slot means the id was never
// assigned; that is ErrNotFound, not a permission full of zeros.
func TestGetPermissionNotFound(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "permissions"): packOutputs(t, "permissions",
			common.Address{}, common.Address{}, "", "",
			big.NewInt(0), big.NewInt(0), big.NewInt(0), uint8(0),
			big.NewInt(0), big.NewInt(0)),
	}}

	_, err := newStateClient(backend).GetPermission(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestGetEscrow(t *testing.T) {
	agent := common.HexToAddress("0x3333333333333333333333333333333333333333")
	reportedAt := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "escrows"): packOutputs(t, "escrows",
			big.NewInt(42), agent, big.NewInt(5), big.NewInt(10_000_000),
			big.NewInt(2_500_000), "conversion", "user purchased",
			big.NewInt(reportedAt.Unix()), uint8(models.EscrowStatusOutcomeReported),
			big.NewInt(reportedAt.Add(-time.Hour).Unix())),
	}}

	esc, err := newStateClient(backend).GetEscrow(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetEscrow() error = %v", err)
	}
	if esc.ID != 9 || esc.PermissionID != 42 || esc.Agent != agent {
		t.Errorf("identity fields wrong: %+v", esc)
	}
	if esc.Status != models.EscrowStatusOutcomeReported {
		t.Errorf("status = %v, want outcome_reported", esc.Status)
	}
	if esc.Amount.Int64() != 10_000_000 || esc.OutcomeValue.Int64() != 2_500_000 {
		t.Errorf("amounts wrong: %+v", esc)
	}
	if !esc.ReportedAt.Equal(reportedAt) {
		t.Errorf("reported at = %v, want %v", esc.ReportedAt, reportedAt)
	}
}

func TestGetEscrowNotFound(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "escrows"): packOutputs(t, "escrows",
			big.NewInt(0), common.Address{}, big.NewInt(0), big.NewInt(0),
			big.NewInt(0), "", "", big.NewInt(0), uint8(0), big.NewInt(0)),
	}}

	_, err := newStateClient(backend).GetEscrow(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCheckAccess(t *testing.T) {
	validUntil := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "checkAccess"): packOutputs(t, "checkAccess",
			true, big.NewInt(1000), big.NewInt(0), big.NewInt(validUntil.Unix())),
	}}

	access, err := newStateClient(backend).CheckAccess(context.Background(), 42,
		common.HexToAddress("0x3333333333333333333333333333333333333333"))
	if err != nil {
		t.Fatalf("CheckAccess() error = %v", err)
	}
	if !access.Permitted || access.CompensationBps != 1000 {
		t.Errorf("access = %+v", access)
	}
}

func TestListPermissionEscrows(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "getPermissionEscrows"): packOutputs(t, "getPermissionEscrows",
			[]*big.Int{big.NewInt(1), big.NewInt(5), big.NewInt(9)}),
	}}

	ids, err := newStateClient(backend).ListPermissionEscrows(context.Background(), 42)
	if err != nil {
		t.Fatalf("ListPermissionEscrows() error = %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 9 {
		t.Errorf("ids = %v, want [1 5 9]", ids)
	}
}

func TestListPermissionEscrowsEmpty(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "getPermissionEscrows"): packOutputs(t, "getPermissionEscrows", []*big.Int{}),
	}}

	ids, err := newStateClient(backend).ListPermissionEscrows(context.Background(), 42)
	if err != nil {
		t.Fatalf("ListPermissionEscrows() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}

func TestListUserPermissions(t *testing.T) {
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "getUserPermissions"): packOutputs(t, "getUserPermissions",
			[]*big.Int{big.NewInt(3), big.NewInt(42)}),
	}}

	ids, err := newStateClient(backend).ListUserPermissions(context.Background(), user, 0, 50)
	if err != nil {
		t.Fatalf("ListUserPermissions() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 42 {
		t.Errorf("ids = %v, want [3 42]", ids)
	}
}

// An offset past the user's last permission yields an empty page, not an
// error.
func TestListUserPermissionsEmptyPage(t *testing.T) {
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "getUserPermissions"): packOutputs(t, "getUserPermissions", []*big.Int{}),
	}}

	ids, err := newStateClient(backend).ListUserPermissions(context.Background(), user, 100, 50)
	if err != nil {
		t.Fatalf("ListUserPermissions() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty page", ids)
	}
}

func TestPreviewSettlement(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "previewSettlement"): packOutputs(t, "previewSettlement",
			big.NewInt(100_000), big.NewInt(30_000), big.NewInt(870_000)),
	}}

	split, err := newStateClient(backend).PreviewSettlement(context.Background(), 9)
	if err != nil {
		t.Fatalf("PreviewSettlement() error = %v", err)
	}
	if split.UserShare.Int64() != 100_000 || split.ProtocolFee.Int64() != 30_000 || split.AgentRefund.Int64() != 870_000 {
		t.Errorf("split = %+v", split)
	}
}

func TestProtocolStats(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "totalProtocolFees"):  packOutputs(t, "totalProtocolFees", big.NewInt(30_000)),
		selector(t, "totalSettledVolume"): packOutputs(t, "totalSettledVolume", big.NewInt(1_000_000)),
		selector(t, "nextPermissionId"):   packOutputs(t, "nextPermissionId", big.NewInt(43)),
		selector(t, "nextEscrowId"):       packOutputs(t, "nextEscrowId", big.NewInt(10)),
		selector(t, "identityEnforced"):   packOutputs(t, "identityEnforced", true),
		selector(t, "reputationEnforced"): packOutputs(t, "reputationEnforced", false),
	}}

	stats, err := newStateClient(backend).ProtocolStats(context.Background())
	if err != nil {
		t.Fatalf("ProtocolStats() error = %v", err)
	}
	if stats.TotalPermissions != 42 || stats.TotalEscrows != 9 {
		t.Errorf("counts = %d/%d, want 42/9 (next id minus one)", stats.TotalPermissions, stats.TotalEscrows)
	}
	if !stats.IdentityEnforced || stats.ReputationEnforced {
		t.Errorf("flags = %v/%v", stats.IdentityEnforced, stats.ReputationEnforced)
	}
}

// A fresh deployment with zeroed counters must report zero, not wrap.
func TestProtocolStatsFreshDeployment(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "totalProtocolFees"):  packOutputs(t, "totalProtocolFees", big.NewInt(0)),
		selector(t, "totalSettledVolume"): packOutputs(t, "totalSettledVolume", big.NewInt(0)),
		selector(t, "nextPermissionId"):   packOutputs(t, "nextPermissionId", big.NewInt(0)),
		selector(t, "nextEscrowId"):       packOutputs(t, "nextEscrowId", big.NewInt(0)),
		selector(t, "identityEnforced"):   packOutputs(t, "identityEnforced", false),
		selector(t, "reputationEnforced"): packOutputs(t, "reputationEnforced", false),
	}}

	stats, err := newStateClient(backend).ProtocolStats(context.Background())
	if err != nil {
		t.Fatalf("ProtocolStats() error = %v", err)
	}
	if stats.TotalPermissions != 0 || stats.TotalEscrows != 0 {
		t.Errorf("counts = %d/%d, want 0/0", stats.TotalPermissions, stats.TotalEscrows)
	}
}

func TestBalanceOfUsesTokenContract(t *testing.T) {
	backend := &callBackend{outputs: map[string][]byte{
		selector(t, "balanceOf"): packOutputs(t, "balanceOf", big.NewInt(5_000_000)),
	}}

	bal, err := newStateClient(backend).BalanceOf(context.Background(),
		common.HexToAddress("0x1111111111111111111111111111111111111111"))
	if err != nil {
		t.Fatalf("BalanceOf() error = %v", err)
	}
	if bal.Int64() != 5_000_000 {
		t.Errorf("balance = %s, want 5000000", bal)
	}
}
