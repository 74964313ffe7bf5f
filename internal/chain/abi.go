package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI fragments for the Prmission contract and the ERC-20 payment asset.
// Kept inline rather than abigen-generated: the surface is small and the
// client packs/unpacks through the generic abi package.

const prmissionABIJSON = `[
{"inputs":[{"name":"merchant","type":"address"},{"name":"dataCategory","type":"string"},{"name":"purpose","type":"string"},{"name":"compensationBps","type":"uint256"},{"name":"upfrontFee","type":"uint256"},{"name":"validityPeriod","type":"uint256"}],"name":"grantPermission","outputs":[{"name":"permissionId","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"permissionId","type":"uint256"}],"name":"revokePermission","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"permissionId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"agentId","type":"uint256"}],"name":"depositEscrow","outputs":[{"name":"escrowId","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"escrowId","type":"uint256"},{"name":"outcomeValue","type":"uint256"},{"name":"outcomeType","type":"string"},{"name":"outcomeDescription","type":"string"}],"name":"reportOutcome","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"escrowId","type":"uint256"},{"name":"reason","type":"string"}],"name":"disputeSettlement","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"escrowId","type":"uint256"}],"name":"settle","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"escrowId","type":"uint256"}],"name":"refundEscrow","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"permissionId","type":"uint256"},{"name":"agent","type":"address"}],"name":"checkAccess","outputs":[{"name":"permitted","type":"bool"},{"name":"compensationBps","type":"uint256"},{"name":"upfrontFee","type":"uint256"},{"name":"validUntil","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"agentId","type":"uint256"},{"name":"agentAddress","type":"address"}],"name":"checkAgentTrust","outputs":[{"name":"registered","type":"bool"},{"name":"authorized","type":"bool"},{"name":"reputable","type":"bool"},{"name":"repScore","type":"int128"},{"name":"repCount","type":"uint64"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"user","type":"address"},{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],"name":"getUserPermissions","outputs":[{"name":"result","type":"uint256[]"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"permissionId","type":"uint256"}],"name":"getPermissionEscrows","outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"user","type":"address"}],"name":"getUserPermissionCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"escrowId","type":"uint256"}],"name":"previewSettlement","outputs":[{"name":"userShare","type":"uint256"},{"name":"protocolFee","type":"uint256"},{"name":"agentRefund","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"","type":"uint256"}],"name":"permissions","outputs":[{"name":"user","type":"address"},{"name":"merchant","type":"address"},{"name":"dataCategory","type":"string"},{"name":"purpose","type":"string"},{"name":"compensationBps","type":"uint256"},{"name":"upfrontFee","type":"uint256"},{"name":"validUntil","type":"uint256"},{"name":"status","type":"uint8"},{"name":"createdAt","type":"uint256"},{"name":"revokedAt","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"","type":"uint256"}],"name":"escrows","outputs":[{"name":"permissionId","type":"uint256"},{"name":"agent","type":"address"},{"name":"agentId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"outcomeValue","type":"uint256"},{"name":"outcomeType","type":"string"},{"name":"outcomeDescription","type":"string"},{"name":"reportedAt","type":"uint256"},{"name":"status","type":"uint8"},{"name":"createdAt","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"nextPermissionId","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"nextEscrowId","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalProtocolFees","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalSettledVolume","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"treasury","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"identityEnforced","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"reputationEnforced","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"permissionId","type":"uint256"},{"indexed":true,"name":"user","type":"address"},{"indexed":true,"name":"merchant","type":"address"},{"indexed":false,"name":"dataCategory","type":"string"},{"indexed":false,"name":"purpose","type":"string"},{"indexed":false,"name":"compensationBps","type":"uint256"},{"indexed":false,"name":"upfrontFee","type":"uint256"},{"indexed":false,"name":"validUntil","type":"uint256"}],"name":"PermissionGranted","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"escrowId","type":"uint256"},{"indexed":true,"name":"permissionId","type":"uint256"},{"indexed":true,"name":"agent","type":"address"},{"indexed":false,"name":"agentId","type":"uint256"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"EscrowDeposited","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"escrowId","type":"uint256"},{"indexed":false,"name":"outcomeValue","type":"uint256"},{"indexed":false,"name":"outcomeType","type":"string"},{"indexed":false,"name":"disputeWindowEnd","type":"uint256"}],"name":"OutcomeReported","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"escrowId","type":"uint256"},{"indexed":false,"name":"userShare","type":"uint256"},{"indexed":false,"name":"protocolFee","type":"uint256"},{"indexed":false,"name":"agentRefund","type":"uint256"}],"name":"SettlementCompleted","type":"event"}
]`

const erc20ABIJSON = `[
{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var (
	PrmissionABI = mustParseABI(prmissionABIJSON)
	ERC20ABI     = mustParseABI(erc20ABIJSON)
)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}
