package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	ErrConnectivity     = errors.New("ledger unreachable")
	ErrEstimationFailed = errors.New("gas estimation failed")
	ErrSigning          = errors.New("signing failed")
	ErrSubmission       = errors.New("submission rejected")
	ErrReverted         = errors.New("transaction reverted")
	ErrConfirmTimeout   = errors.New("confirmation timed out")
)

// Backend is the slice of the RPC node surface the client depends on.
// *ethclient.Client satisfies it; tests substitute fakes.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Dial connects to the RPC endpoint and verifies the chain id matches the
// configured deployment.
func Dial(ctx context.Context, rpcURL string, wantChainID int64, log *zap.Logger) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectivity, rpcURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: chain id query: %v", ErrConnectivity, err)
	}
	if chainID.Int64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("rpc endpoint serves chain %d, expected %d", chainID.Int64(), wantChainID)
	}

	log.Info("connected to rpc endpoint", zap.String("url", rpcURL), zap.Int64("chain_id", wantChainID))
	return client, nil
}

// ParseKey decodes a hex private key and derives its address.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// Call executes a read-only contract method and returns the unpacked outputs.
func Call(ctx context.Context, backend Backend, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", ErrConnectivity, method, err)
	}

	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}
