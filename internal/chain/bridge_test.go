package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFactory = "0xca0009AF8E28ccfeAA5bB314fD32856B3d278BF7"

type fakeBackend struct {
	chainID   *big.Int
	nonce     uint64
	gasPrice  *big.Int
	gasErr    error
	estimate  uint64
	estErr    error
	callOut   []byte
	callErr   error
	receipts  map[common.Hash]*types.Receipt
	txs       map[common.Hash]*types.Transaction
	head      uint64
	lastCall  ethereum.CallMsg
	lastBlock *big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(84532),
		nonce:    7,
		gasPrice: big.NewInt(1_000_000_000),
		estimate: 100_000,
		receipts: map[common.Hash]*types.Receipt{},
		txs:      map[common.Hash]*types.Transaction{},
		head:     1234,
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, f.gasErr }
func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estErr
}
func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.lastCall, f.lastBlock = msg, block
	return f.callOut, f.callErr
}
func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
func (f *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}
func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func newBridge(t *testing.T, be Backend) *Bridge {
	t.Helper()
	b, err := New(be, Config{FactoryAddress: testFactory, DefaultGasLimit: 3_000_000, DefaultGasGwei: 5}, zerolog.Nop())
	require.NoError(t, err)
	b.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return b
}

// mine signs a transaction from key to `to` and records a receipt for it.
func (f *fakeBackend) mine(t *testing.T, key *ecdsa.PrivateKey, to common.Address, value *big.Int, status uint64, logs ...*types.Log) common.Hash {
	t.Helper()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    value,
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(f.chainID), key)
	require.NoError(t, err)
	h := signed.Hash()
	f.txs[h] = signed
	f.receipts[h] = &types.Receipt{
		Status:            status,
		BlockNumber:       big.NewInt(100),
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1),
		Logs:              logs,
	}
	return h
}

func TestToWei(t *testing.T) {
	assert.Equal(t, "100000000000000000", ToWei(0.1).String())
	assert.Equal(t, "1500000000000000000", ToWei(1.5).String())
	assert.Equal(t, "1000000000000000", ToWei(0.001).String())
	assert.Equal(t, "0", ToWei(0).String())
	assert.Equal(t, "1.500000000000000000", FromWei(ToWei(1.5)))
}

func TestParseTxHash(t *testing.T) {
	raw := strings.Repeat("ab", 32)
	h1, err := ParseTxHash(raw)
	require.NoError(t, err)
	h2, err := ParseTxHash("0x" + raw)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, err = ParseTxHash("0x1234")
	assert.ErrorIs(t, err, ErrInvalidTxHash)
}

func TestValidAddress(t *testing.T) {
	assert.True(t, ValidAddress(testFactory))
	assert.False(t, ValidAddress(strings.TrimPrefix(testFactory, "0x")))
	assert.False(t, ValidAddress("0x123"))
}

func TestPrepareJoin(t *testing.T) {
	be := newFakeBackend()
	b := newBridge(t, be)
	user := "0x00000000000000000000000000000000000000AB"
	group := "0x00000000000000000000000000000000000000cd"

	p, err := b.PrepareJoin(context.Background(), group, user)
	require.NoError(t, err)

	assert.Equal(t, strings.ToLower(user), p.Transaction.From)
	assert.True(t, strings.EqualFold(group, p.Transaction.To))
	assert.Equal(t, "0x0", p.Transaction.Value)
	assert.Equal(t, hexutil.EncodeUint64(120_000), p.Transaction.Gas)
	assert.Equal(t, hexutil.EncodeBig(big.NewInt(1_100_000_000)), p.Transaction.GasPrice)
	assert.Equal(t, "0x7", p.Transaction.Nonce)
	assert.Equal(t, int64(84532), p.Transaction.ChainID)
	assert.Equal(t, uint64(120_000), p.EstimatedGas)
	assert.Equal(t, hexutil.Encode(b.groupABI.Methods["joinGroup"].ID), p.Transaction.Data)
	assert.Equal(t, "Transaction prepared. Please sign with your wallet.", p.Message)
}

func TestPrepareFallsBackToDefaults(t *testing.T) {
	be := newFakeBackend()
	be.estErr = errors.New("execution reverted")
	be.gasErr = errors.New("rpc down")
	b := newBridge(t, be)

	p, err := b.PrepareJoin(context.Background(), testFactory, "0x00000000000000000000000000000000000000ab")
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000), p.EstimatedGas)
	assert.Equal(t, hexutil.EncodeBig(big.NewInt(5_000_000_000)), p.Transaction.GasPrice)
}

func TestPrepareContributeCarriesValue(t *testing.T) {
	b := newBridge(t, newFakeBackend())
	p, err := b.PrepareContribute(context.Background(), testFactory, "0x00000000000000000000000000000000000000ab", ToWei(0.5))
	require.NoError(t, err)
	assert.Equal(t, hexutil.EncodeBig(ToWei(0.5)), p.Transaction.Value)
}

func TestPrepareCreateGroup(t *testing.T) {
	b := newBridge(t, newFakeBackend())
	creator := "0x00000000000000000000000000000000000000ab"

	p, err := b.PrepareCreateGroup(context.Background(), GroupParams{
		Name: "Savers", ContributionAmount: 0.1, MaxMembers: 10,
	}, creator)
	require.NoError(t, err)

	data, err := hexutil.Decode(p.Transaction.Data)
	require.NoError(t, err)
	method := b.factoryABI.Methods["createGroup"]
	assert.Equal(t, method.ID, data[:4])
	assert.Equal(t, testFactory, p.Transaction.To)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 1)
	packed, err := method.Inputs.Pack(groupConfig{
		Name:                  "Savers",
		ContributionAmount:    ToWei(0.1),
		MaxMembers:            big.NewInt(10),
		StartDate:             big.NewInt(1_700_000_000 + 3600),
		EndDate:               big.NewInt(1_700_000_000 + 30*86400),
		ContributionFrequency: "weekly",
		Creator:               common.HexToAddress(creator),
		GracePeriod:           big.NewInt(gracePeriod),
		ContributionWindow:    big.NewInt(contributionWindow),
	})
	require.NoError(t, err)
	assert.Equal(t, packed, data[4:])
}

func TestPrepareRejectsBadAddress(t *testing.T) {
	b := newBridge(t, newFakeBackend())
	_, err := b.PrepareJoin(context.Background(), testFactory, "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestVerifyTransaction(t *testing.T) {
	be := newFakeBackend()
	b := newBridge(t, be)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000000000cd")
	h := be.mine(t, key, to, big.NewInt(5), types.ReceiptStatusSuccessful)

	t.Run("ok", func(t *testing.T) {
		v, err := b.VerifyTransaction(context.Background(), h.Hex(), strings.ToLower(from.Hex()), to.Hex())
		require.NoError(t, err)
		assert.Equal(t, uint64(100), v.BlockNumber)
		assert.Equal(t, strings.ToLower(from.Hex()), v.From)
		assert.Equal(t, "5", v.Value)
	})

	t.Run("wrong sender", func(t *testing.T) {
		_, err := b.VerifyTransaction(context.Background(), h.Hex(), "0x00000000000000000000000000000000000000ef", "")
		assert.ErrorIs(t, err, ErrVerification)
		assert.Contains(t, err.Error(), "not sent from expected address")
	})

	t.Run("wrong target", func(t *testing.T) {
		_, err := b.VerifyTransaction(context.Background(), h.Hex(), from.Hex(), testFactory)
		assert.ErrorIs(t, err, ErrVerification)
	})

	t.Run("pending", func(t *testing.T) {
		_, err := b.VerifyTransaction(context.Background(), common.HexToHash("0x01").Hex(), from.Hex(), "")
		assert.ErrorIs(t, err, ErrTxPending)
	})
}

func TestVerifyTransactionRevertReason(t *testing.T) {
	be := newFakeBackend()
	be.callErr = errors.New("execution reverted: Group is full")
	b := newBridge(t, be)
	key, _ := crypto.GenerateKey()
	to := common.HexToAddress("0x00000000000000000000000000000000000000cd")
	h := be.mine(t, key, to, big.NewInt(0), types.ReceiptStatusFailed)

	_, err := b.VerifyTransaction(context.Background(), h.Hex(), crypto.PubkeyToAddress(key.PublicKey).Hex(), "")
	require.Error(t, err)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Transaction failed on blockchain. Reason: Group is full", ce.Error())
	assert.Equal(t, int64(99), be.lastBlock.Int64())
}

func TestVerifyGroupCreation(t *testing.T) {
	be := newFakeBackend()
	b := newBridge(t, be)
	key, _ := crypto.GenerateKey()
	creator := crypto.PubkeyToAddress(key.PublicKey)
	groupAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	factory := common.HexToAddress(testFactory)
	ev := b.factoryABI.Events["GroupCreated"]

	t.Run("event found", func(t *testing.T) {
		h := be.mine(t, key, factory, big.NewInt(0), types.ReceiptStatusSuccessful,
			&types.Log{Address: common.HexToAddress("0x2222222222222222222222222222222222222222"),
				Topics: []common.Hash{ev.ID, common.BytesToHash(creator.Bytes()), common.BytesToHash(factory.Bytes())}},
			&types.Log{Address: factory,
				Topics: []common.Hash{ev.ID, common.BytesToHash(creator.Bytes()), common.BytesToHash(groupAddr.Bytes())}},
		)
		v, err := b.VerifyGroupCreation(context.Background(), h.Hex(), creator.Hex())
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(groupAddr.Hex()), v.GroupAddress)
	})

	t.Run("no event", func(t *testing.T) {
		key2, _ := crypto.GenerateKey()
		h := be.mine(t, key2, factory, big.NewInt(0), types.ReceiptStatusSuccessful)
		_, err := b.VerifyGroupCreation(context.Background(), h.Hex(), crypto.PubkeyToAddress(key2.PublicKey).Hex())
		assert.ErrorIs(t, err, ErrVerification)
	})
}

func TestVerifyContributionAmount(t *testing.T) {
	be := newFakeBackend()
	b := newBridge(t, be)
	key, _ := crypto.GenerateKey()
	user := crypto.PubkeyToAddress(key.PublicKey)
	group := common.HexToAddress("0x00000000000000000000000000000000000000cd")
	h := be.mine(t, key, group, ToWei(0.1), types.ReceiptStatusSuccessful)

	_, err := b.VerifyContribution(context.Background(), h.Hex(), group.Hex(), user.Hex(), ToWei(0.1))
	require.NoError(t, err)

	_, err = b.VerifyContribution(context.Background(), h.Hex(), group.Hex(), user.Hex(), ToWei(0.2))
	assert.ErrorIs(t, err, ErrVerification)
	assert.Contains(t, err.Error(), "Contribution amount mismatch")
}

func TestIsMemberAndVerifyJoin(t *testing.T) {
	be := newFakeBackend()
	b := newBridge(t, be)
	key, _ := crypto.GenerateKey()
	user := crypto.PubkeyToAddress(key.PublicKey)
	group := common.HexToAddress("0x00000000000000000000000000000000000000cd")
	h := be.mine(t, key, group, big.NewInt(0), types.ReceiptStatusSuccessful)

	out, err := b.groupABI.Methods["isMember"].Outputs.Pack(false)
	require.NoError(t, err)
	be.callOut = out
	_, err = b.VerifyJoin(context.Background(), h.Hex(), group.Hex(), user.Hex())
	assert.ErrorIs(t, err, ErrVerification)

	out, _ = b.groupABI.Methods["isMember"].Outputs.Pack(true)
	be.callOut = out
	_, err = b.VerifyJoin(context.Background(), h.Hex(), group.Hex(), user.Hex())
	require.NoError(t, err)
	require.NotNil(t, be.lastCall.To)
	assert.Equal(t, group, *be.lastCall.To)
}

func TestTransactionStatus(t *testing.T) {
	be := newFakeBackend()
	b := newBridge(t, be)

	st, err := b.TransactionStatus(context.Background(), common.HexToHash("0x02").Hex())
	require.NoError(t, err)
	assert.Equal(t, "pending", st.Status)

	key, _ := crypto.GenerateKey()
	h := be.mine(t, key, common.HexToAddress(testFactory), big.NewInt(0), types.ReceiptStatusFailed)
	st, err = b.TransactionStatus(context.Background(), h.Hex())
	require.NoError(t, err)
	assert.Equal(t, "failed", st.Status)
	assert.Equal(t, uint64(100), st.BlockNumber)
}

func TestNetwork(t *testing.T) {
	b := newBridge(t, newFakeBackend())
	n, err := b.Network(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(84532), n.ChainID)
	assert.Equal(t, uint64(1234), n.LatestBlock)
	assert.Equal(t, "1000000000", n.GasPrice)
	assert.Equal(t, "1.000000000", n.GasPriceGwei)
	assert.Equal(t, testFactory, n.FactoryAddress)
}

func TestLoadABIFromArtifact(t *testing.T) {
	raw := []byte(`{"contractName":"X","abi":[{"type":"function","name":"ping","inputs":[],"outputs":[]}]}`)
	assert.Equal(t, `[{"type":"function","name":"ping","inputs":[],"outputs":[]}]`, string(artifactABI(raw)))
	assert.Equal(t, "[]", string(artifactABI([]byte("[]"))))
}

func TestFactoryGroups(t *testing.T) {
	be := newFakeBackend()
	b := newBridge(t, be)
	addrs := []common.Address{
		common.HexToAddress("0x00000000000000000000000000000000000000AA"),
		common.HexToAddress("0x00000000000000000000000000000000000000bb"),
	}
	out, err := b.factoryABI.Methods["getAllGroups"].Outputs.Pack(addrs)
	require.NoError(t, err)
	be.callOut = out

	got, err := b.FactoryGroups(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0x00000000000000000000000000000000000000aa",
		"0x00000000000000000000000000000000000000bb",
	}, got)

	got, err = b.FactoryGroups(context.Background(), "0x00000000000000000000000000000000000000cc")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, hexutil.Encode(b.factoryABI.Methods["getCreatorGroups"].ID), hexutil.Encode(be.lastCall.Data[:4]))

	out, err = b.factoryABI.Methods["groupCounter"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	be.callOut = out
	n, err := b.GroupCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}
