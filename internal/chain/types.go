package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of the JSON-RPC client the bridge uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// UnsignedTx is what the client's wallet signs.  Quantities are 0x-prefixed
// hex, matching what browser wallets expect.
type UnsignedTx struct {
	To       string `json:"to"`
	From     string `json:"from"`
	Data     string `json:"data"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Nonce    string `json:"nonce"`
	Value    string `json:"value"`
	ChainID  int64  `json:"chainId"`
}

// PreparedTx is an unsigned transaction plus the gas estimate behind it.
type PreparedTx struct {
	Transaction  UnsignedTx `json:"transaction"`
	EstimatedGas uint64     `json:"estimated_gas"`
	Message      string     `json:"message"`
}

// GroupParams are the group settings encoded into createGroup.
type GroupParams struct {
	Name               string
	ContributionAmount float64 // in ether
	MaxMembers         int
	StartDate          *time.Time
	EndDate            *time.Time
	Frequency          string
	ApprovalRequired   bool
}

// Verification describes a mined, successful transaction.
type Verification struct {
	TxHash            string `json:"tx_hash"`
	BlockNumber       uint64 `json:"block_number"`
	GasUsed           uint64 `json:"gas_used"`
	EffectiveGasPrice string `json:"effective_gas_price,omitempty"`
	From              string `json:"from"`
	To                string `json:"to,omitempty"`
	Value             string `json:"value"`
	GroupAddress      string `json:"group_address,omitempty"`
}

// TxStatus is a point-in-time view of a transaction.
type TxStatus struct {
	Hash        string `json:"hash"`
	Status      string `json:"status"` // pending, success, failed
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Value       string `json:"value,omitempty"`
}

// GroupState is read from a deployed group contract.
type GroupState struct {
	Address        string `json:"contract_address"`
	MemberCount    uint64 `json:"member_count"`
	MaxMembers     uint64 `json:"max_members"`
	IsActive       bool   `json:"is_active"`
	IsFull         bool   `json:"is_full"`
	AvailableSpots uint64 `json:"available_spots"`
}

// NetworkInfo summarizes the connected chain.
type NetworkInfo struct {
	ChainID        int64  `json:"chain_id"`
	LatestBlock    uint64 `json:"latest_block"`
	GasPrice       string `json:"gas_price"`
	GasPriceGwei   string `json:"gas_price_gwei"`
	FactoryAddress string `json:"factory_address"`
}
