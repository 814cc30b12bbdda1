// Package chain prepares unsigned smart-contract transactions for client-side
// signing and verifies them once mined.  The server never holds a key.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/metrics"
)

const (
	gracePeriod        = 86400  // seconds
	contributionWindow = 172800 // seconds
	signMessage        = "Transaction prepared. Please sign with your wallet."
)

var (
	gwei  = big.NewInt(1_000_000_000)
	ether = big.NewInt(1_000_000_000_000_000_000)
)

// Config carries the contract and gas settings.
type Config struct {
	FactoryAddress  string
	FactoryABIPath  string
	GroupABIPath    string
	DefaultGasLimit uint64
	DefaultGasGwei  int64
}

// Bridge wraps a node connection and the factory/group ABIs.
type Bridge struct {
	backend         Backend
	factory         common.Address
	factoryABI      abi.ABI
	groupABI        abi.ABI
	defaultGasLimit uint64
	defaultGasPrice *big.Int
	log             zerolog.Logger
	now             func() time.Time
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	return ethclient.DialContext(ctx, url)
}

func New(backend Backend, cfg Config, log zerolog.Logger) (*Bridge, error) {
	if !common.IsHexAddress(cfg.FactoryAddress) {
		return nil, fmt.Errorf("factory address %q: %w", cfg.FactoryAddress, ErrInvalidAddress)
	}
	factoryABI, err := loadABI(cfg.FactoryABIPath, "factory.json")
	if err != nil {
		return nil, err
	}
	groupABI, err := loadABI(cfg.GroupABIPath, "group.json")
	if err != nil {
		return nil, err
	}
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = 2_000_000
	}
	if cfg.DefaultGasGwei <= 0 {
		cfg.DefaultGasGwei = 20
	}
	return &Bridge{
		backend:         backend,
		factory:         common.HexToAddress(cfg.FactoryAddress),
		factoryABI:      factoryABI,
		groupABI:        groupABI,
		defaultGasLimit: cfg.DefaultGasLimit,
		defaultGasPrice: new(big.Int).Mul(big.NewInt(cfg.DefaultGasGwei), gwei),
		log:             log,
		now:             time.Now,
	}, nil
}

// FactoryAddress is the checksummed factory contract address.
func (b *Bridge) FactoryAddress() string { return b.factory.Hex() }

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func parseAddress(s string) (common.Address, error) {
	if !ValidAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// ParseTxHash accepts a hash with or without the 0x prefix.
func ParseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, ErrInvalidTxHash
	}
	return common.BytesToHash(raw), nil
}

// ToWei converts an ether amount to wei without going through binary
// floating point for the fractional digits.
func ToWei(amount float64) *big.Int {
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 18 {
		frac = frac[:18]
	}
	frac += strings.Repeat("0", 18-len(frac))
	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return new(big.Int)
	}
	return out
}

// FromWei formats wei as a decimal ether string.
func FromWei(wei *big.Int) string {
	f := new(big.Float).SetPrec(256).SetInt(wei)
	f.Quo(f, new(big.Float).SetInt(ether))
	return f.Text('f', 18)
}

func (b *Bridge) rpcErr(op string, err error) error {
	metrics.RecordUpstreamFailure("chain", op)
	b.log.Error().Err(err).Str("op", op).Msg("blockchain call failed")
	return &Error{Op: op, Err: err}
}

// gasPrice is the node's suggestion plus 10%, or the configured default.
func (b *Bridge) gasPrice(ctx context.Context) *big.Int {
	gp, err := b.backend.SuggestGasPrice(ctx)
	if err != nil || gp == nil || gp.Sign() == 0 {
		b.log.Warn().Err(err).Msg("gas price unavailable, using default")
		return new(big.Int).Set(b.defaultGasPrice)
	}
	gp = new(big.Int).Mul(gp, big.NewInt(11))
	return gp.Div(gp, big.NewInt(10))
}

// estimateGas is the node's estimate plus 20%, or the configured limit.
func (b *Bridge) estimateGas(ctx context.Context, msg ethereum.CallMsg) uint64 {
	est, err := b.backend.EstimateGas(ctx, msg)
	if err != nil || est == 0 {
		b.log.Warn().Err(err).Msg("gas estimation failed, using default limit")
		return b.defaultGasLimit
	}
	return est * 12 / 10
}

func (b *Bridge) prepare(ctx context.Context, op string, from, to common.Address, data []byte, value *big.Int) (PreparedTx, error) {
	if value == nil {
		value = new(big.Int)
	}
	chainID, err := b.backend.ChainID(ctx)
	if err != nil {
		return PreparedTx{}, b.rpcErr(op, err)
	}
	nonce, err := b.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return PreparedTx{}, b.rpcErr(op, err)
	}
	price := b.gasPrice(ctx)
	gas := b.estimateGas(ctx, ethereum.CallMsg{From: from, To: &to, GasPrice: price, Value: value, Data: data})

	return PreparedTx{
		Transaction: UnsignedTx{
			To:       to.Hex(),
			From:     strings.ToLower(from.Hex()),
			Data:     hexutil.Encode(data),
			Gas:      hexutil.EncodeUint64(gas),
			GasPrice: hexutil.EncodeBig(price),
			Nonce:    hexutil.EncodeUint64(nonce),
			Value:    hexutil.EncodeBig(value),
			ChainID:  chainID.Int64(),
		},
		EstimatedGas: gas,
		Message:      signMessage,
	}, nil
}

// groupConfig mirrors the factory's GroupConfig tuple.
type groupConfig struct {
	Name                     string
	ContributionAmount       *big.Int
	MaxMembers               *big.Int
	StartDate                *big.Int
	EndDate                  *big.Int
	ContributionFrequency    string
	PunishmentMode           uint8
	ApprovalRequired         bool
	EmergencyWithdrawAllowed bool
	Creator                  common.Address
	ContributionToken        common.Address
	GracePeriod              *big.Int
	ContributionWindow       *big.Int
}

// PrepareCreateGroup encodes a factory createGroup call.  Missing dates
// default to one hour and thirty days from now.
func (b *Bridge) PrepareCreateGroup(ctx context.Context, p GroupParams, creator string) (PreparedTx, error) {
	from, err := parseAddress(creator)
	if err != nil {
		return PreparedTx{}, err
	}
	now := b.now()
	start := now.Add(time.Hour).Unix()
	if p.StartDate != nil {
		start = p.StartDate.Unix()
	}
	end := now.Add(30 * 24 * time.Hour).Unix()
	if p.EndDate != nil {
		end = p.EndDate.Unix()
	}
	freq := p.Frequency
	if freq == "" {
		freq = "weekly"
	}
	data, err := b.factoryABI.Pack("createGroup", groupConfig{
		Name:                  p.Name,
		ContributionAmount:    ToWei(p.ContributionAmount),
		MaxMembers:            big.NewInt(int64(p.MaxMembers)),
		StartDate:             big.NewInt(start),
		EndDate:               big.NewInt(end),
		ContributionFrequency: freq,
		ApprovalRequired:      p.ApprovalRequired,
		Creator:               from,
		GracePeriod:           big.NewInt(gracePeriod),
		ContributionWindow:    big.NewInt(contributionWindow),
	})
	if err != nil {
		return PreparedTx{}, fmt.Errorf("encode createGroup: %w", err)
	}
	return b.prepare(ctx, "prepare_create_group", from, b.factory, data, nil)
}

// PrepareJoin encodes joinGroup on a group contract.
func (b *Bridge) PrepareJoin(ctx context.Context, group, user string) (PreparedTx, error) {
	to, err := parseAddress(group)
	if err != nil {
		return PreparedTx{}, err
	}
	from, err := parseAddress(user)
	if err != nil {
		return PreparedTx{}, err
	}
	data, err := b.groupABI.Pack("joinGroup")
	if err != nil {
		return PreparedTx{}, err
	}
	return b.prepare(ctx, "prepare_join", from, to, data, nil)
}

// PrepareContribute encodes a payable contribute call carrying amountWei.
func (b *Bridge) PrepareContribute(ctx context.Context, group, user string, amountWei *big.Int) (PreparedTx, error) {
	to, err := parseAddress(group)
	if err != nil {
		return PreparedTx{}, err
	}
	from, err := parseAddress(user)
	if err != nil {
		return PreparedTx{}, err
	}
	data, err := b.groupABI.Pack("contribute")
	if err != nil {
		return PreparedTx{}, err
	}
	return b.prepare(ctx, "prepare_contribute", from, to, data, amountWei)
}

func sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}

// lookup fetches a mined transaction and its receipt.
func (b *Bridge) lookup(ctx context.Context, op, txHash string) (*types.Transaction, *types.Receipt, error) {
	h, err := ParseTxHash(txHash)
	if err != nil {
		return nil, nil, err
	}
	receipt, err := b.backend.TransactionReceipt(ctx, h)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil, ErrTxPending
	}
	if err != nil {
		return nil, nil, b.rpcErr(op, err)
	}
	tx, _, err := b.backend.TransactionByHash(ctx, h)
	if err != nil {
		return nil, nil, b.rpcErr(op, err)
	}
	return tx, receipt, nil
}

// VerifyTransaction checks that txHash was mined successfully, was sent by
// expectedFrom and, when expectedTo is set, targeted that address.
func (b *Bridge) VerifyTransaction(ctx context.Context, txHash, expectedFrom, expectedTo string) (Verification, error) {
	tx, receipt, err := b.lookup(ctx, "verify_transaction", txHash)
	if err != nil {
		return Verification{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Verification{}, &Error{
			Op:     "verify_transaction",
			Reason: "Transaction failed on blockchain. " + b.revertReason(ctx, tx, receipt),
		}
	}
	from, err := sender(tx)
	if err != nil {
		return Verification{}, mismatch("cannot recover sender: %v", err)
	}
	if !strings.EqualFold(from.Hex(), expectedFrom) {
		return Verification{}, mismatch("Transaction was not sent from expected address. Expected: %s, Got: %s",
			expectedFrom, strings.ToLower(from.Hex()))
	}
	var to string
	if tx.To() != nil {
		to = strings.ToLower(tx.To().Hex())
	}
	if expectedTo != "" && !strings.EqualFold(to, expectedTo) {
		return Verification{}, mismatch("Transaction was not sent to expected contract. Expected: %s, Got: %s", expectedTo, to)
	}

	v := Verification{
		TxHash:  tx.Hash().Hex(),
		GasUsed: receipt.GasUsed,
		From:    strings.ToLower(from.Hex()),
		To:      to,
		Value:   tx.Value().String(),
	}
	if receipt.BlockNumber != nil {
		v.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice != nil {
		v.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}
	return v, nil
}

// VerifyGroupCreation verifies a createGroup transaction and extracts the
// new group's address from the factory's GroupCreated event.
func (b *Bridge) VerifyGroupCreation(ctx context.Context, txHash, creator string) (Verification, error) {
	v, err := b.VerifyTransaction(ctx, txHash, creator, b.factory.Hex())
	if err != nil {
		return v, err
	}
	_, receipt, err := b.lookup(ctx, "verify_group_creation", txHash)
	if err != nil {
		return v, err
	}
	ev, ok := b.factoryABI.Events["GroupCreated"]
	if !ok {
		return v, &Error{Op: "verify_group_creation", Reason: "factory ABI has no GroupCreated event"}
	}
	for _, lg := range receipt.Logs {
		if lg.Address != b.factory || len(lg.Topics) < 3 || lg.Topics[0] != ev.ID {
			continue
		}
		v.GroupAddress = strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex())
		return v, nil
	}
	return v, mismatch("Could not extract group address from transaction")
}

// VerifyJoin verifies a joinGroup transaction and that the contract now
// lists the user as a member.
func (b *Bridge) VerifyJoin(ctx context.Context, txHash, group, user string) (Verification, error) {
	v, err := b.VerifyTransaction(ctx, txHash, user, group)
	if err != nil {
		return v, err
	}
	member, err := b.IsMember(ctx, group, user)
	if err != nil {
		return v, err
	}
	if !member {
		return v, mismatch("User is not registered as a member after transaction")
	}
	return v, nil
}

// VerifyContribution verifies a contribute transaction and, when
// expectedWei is set, the value it carried.
func (b *Bridge) VerifyContribution(ctx context.Context, txHash, group, user string, expectedWei *big.Int) (Verification, error) {
	v, err := b.VerifyTransaction(ctx, txHash, user, group)
	if err != nil {
		return v, err
	}
	if expectedWei != nil && v.Value != expectedWei.String() {
		return v, mismatch("Contribution amount mismatch. Expected: %s, Got: %s", expectedWei, v.Value)
	}
	return v, nil
}

// revertReason replays a failed transaction one block before it was mined
// to recover the revert message.
func (b *Bridge) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	from, err := sender(tx)
	if err != nil || receipt.BlockNumber == nil || receipt.BlockNumber.Sign() == 0 {
		return "Reason: Could not determine (check smart contract logs)"
	}
	block := new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	_, err = b.backend.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, block)
	if err == nil {
		return "Reason: Unknown (call succeeded in replay)"
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if raw, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(raw); uerr == nil {
					return "Reason: " + reason
				}
			}
		}
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "execution reverted") {
		if _, after, ok := strings.Cut(msg, ":"); ok {
			return "Reason: " + strings.TrimSpace(after)
		}
	}
	return "Reason: " + msg
}

// TransactionStatus reports pending, success or failed.
func (b *Bridge) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	tx, receipt, err := b.lookup(ctx, "transaction_status", txHash)
	if errors.Is(err, ErrTxPending) {
		return TxStatus{Hash: txHash, Status: "pending"}, nil
	}
	if err != nil {
		return TxStatus{}, err
	}
	st := TxStatus{
		Hash:    tx.Hash().Hex(),
		Status:  "failed",
		GasUsed: receipt.GasUsed,
		Value:   tx.Value().String(),
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		st.Status = "success"
	}
	if receipt.BlockNumber != nil {
		st.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if from, err := sender(tx); err == nil {
		st.From = strings.ToLower(from.Hex())
	}
	if tx.To() != nil {
		st.To = strings.ToLower(tx.To().Hex())
	}
	return st, nil
}

func (b *Bridge) call(ctx context.Context, group common.Address, method string, args ...any) ([]any, error) {
	data, err := b.groupABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := b.backend.CallContract(ctx, ethereum.CallMsg{To: &group, Data: data}, nil)
	if err != nil {
		return nil, b.rpcErr(method, err)
	}
	return b.groupABI.Unpack(method, out)
}

// IsMember asks the group contract whether user has joined.
func (b *Bridge) IsMember(ctx context.Context, group, user string) (bool, error) {
	g, err := parseAddress(group)
	if err != nil {
		return false, err
	}
	u, err := parseAddress(user)
	if err != nil {
		return false, err
	}
	out, err := b.call(ctx, g, "isMember", u)
	if err != nil {
		return false, err
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// GroupState reads membership and activity from a group contract.
func (b *Bridge) GroupState(ctx context.Context, group string) (GroupState, error) {
	g, err := parseAddress(group)
	if err != nil {
		return GroupState{}, err
	}
	st := GroupState{Address: strings.ToLower(g.Hex())}

	out, err := b.call(ctx, g, "memberCount")
	if err != nil {
		return st, err
	}
	if n, ok := out[0].(*big.Int); ok {
		st.MemberCount = n.Uint64()
	}
	if out, err := b.call(ctx, g, "maxMembers"); err == nil {
		if n, ok := out[0].(*big.Int); ok {
			st.MaxMembers = n.Uint64()
		}
	}
	if out, err := b.call(ctx, g, "isActive"); err == nil {
		st.IsActive, _ = out[0].(bool)
	}
	if st.MaxMembers > 0 {
		st.IsFull = st.MemberCount >= st.MaxMembers
		if !st.IsFull {
			st.AvailableSpots = st.MaxMembers - st.MemberCount
		}
	}
	return st, nil
}

// Network reports chain id, head block and the current gas price.
func (b *Bridge) Network(ctx context.Context) (NetworkInfo, error) {
	chainID, err := b.backend.ChainID(ctx)
	if err != nil {
		return NetworkInfo{}, b.rpcErr("chain_id", err)
	}
	head, err := b.backend.BlockNumber(ctx)
	if err != nil {
		return NetworkInfo{}, b.rpcErr("block_number", err)
	}
	gp, err := b.backend.SuggestGasPrice(ctx)
	if err != nil {
		return NetworkInfo{}, b.rpcErr("gas_price", err)
	}
	gweiStr := new(big.Float).Quo(new(big.Float).SetInt(gp), new(big.Float).SetInt(gwei)).Text('f', 9)
	return NetworkInfo{
		ChainID:        chainID.Int64(),
		LatestBlock:    head,
		GasPrice:       gp.String(),
		GasPriceGwei:   gweiStr,
		FactoryAddress: b.factory.Hex(),
	}, nil
}

func (b *Bridge) callFactory(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := b.factoryABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := b.backend.CallContract(ctx, ethereum.CallMsg{To: &b.factory, Data: data}, nil)
	if err != nil {
		return nil, b.rpcErr(method, err)
	}
	return b.factoryABI.Unpack(method, out)
}

func lowerAddrs(v any) []string {
	addrs, _ := v.([]common.Address)
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, strings.ToLower(a.Hex()))
	}
	return out
}

// FactoryGroups lists group contracts deployed by the factory, optionally
// only those created by creator.
func (b *Bridge) FactoryGroups(ctx context.Context, creator string) ([]string, error) {
	if creator == "" {
		out, err := b.callFactory(ctx, "getAllGroups")
		if err != nil {
			return nil, err
		}
		return lowerAddrs(out[0]), nil
	}
	c, err := parseAddress(creator)
	if err != nil {
		return nil, err
	}
	out, err := b.callFactory(ctx, "getCreatorGroups", c)
	if err != nil {
		return nil, err
	}
	return lowerAddrs(out[0]), nil
}

// GroupCount is the factory's groupCounter.
func (b *Bridge) GroupCount(ctx context.Context) (uint64, error) {
	out, err := b.callFactory(ctx, "groupCounter")
	if err != nil {
		return 0, err
	}
	n, _ := out[0].(*big.Int)
	if n == nil {
		return 0, nil
	}
	return n.Uint64(), nil
}
