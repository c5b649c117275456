package blockchain

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

// simulatedChainID is the chain ID of the simulated backend
const simulatedChainID = 1337

var (
	proxyAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	implAddr   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	proxyAdmin = common.HexToAddress("0x00000000000000000000000000000000000000ad")

	// stopCode accepts any call
	stopCode = []byte{0x00}

	// revertCode reverts every call with empty data
	revertCode = common.FromHex("0x60006000fd")

	// deployCode is init code returning stopCode as runtime code
	deployCode = common.FromHex("0x6001600c60003960016000f300")
)

// ownerCode returns owner as a 32-byte word for every call
func ownerCode(owner common.Address) []byte {
	code := append([]byte{0x73}, owner.Bytes()...)
	return append(code, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3)
}

// committingClient mines a block right after every sent transaction
type committingClient struct {
	simulated.Client
	backend *simulated.Backend
}

func (c *committingClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	c.backend.Commit()
	return nil
}

type staticLayouts map[common.Address]*models.ImplementationLayout

func (s staticLayouts) GetLayout(_ context.Context, _ uint64, implementation common.Address) (*models.ImplementationLayout, error) {
	if entry, ok := s[implementation]; ok {
		return entry, nil
	}
	return nil, domain.ErrNotFound
}

type testChain struct {
	gateway *Gateway
	client  *committingClient
	signer  common.Address
	other   common.Address
}

func newTestChain(t *testing.T, admin common.Address, extra types.GenesisAlloc, layouts staticLayouts) *testChain {
	t.Helper()
	return newTestChainWithProxyCode(t, admin, extra, layouts, stopCode)
}

// newTestChainWithProxyCode is newTestChain with custom proxy runtime code.
// A zero admin makes the signer the admin.
func newTestChainWithProxyCode(t *testing.T, admin common.Address, extra types.GenesisAlloc, layouts staticLayouts, proxyCode []byte) *testChain {
	t.Helper()

	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(signerKey.PublicKey)
	other := crypto.PubkeyToAddress(otherKey.PublicKey)

	if admin == (common.Address{}) {
		admin = signer
	}

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))
	alloc := types.GenesisAlloc{
		signer: {Balance: funds},
		other:  {Balance: funds},
		proxyAddr: {
			Balance: big.NewInt(0),
			Code:    proxyCode,
			Storage: map[common.Hash]common.Hash{
				ImplementationSlot: common.BytesToHash(implAddr.Bytes()),
				AdminSlot:          common.BytesToHash(admin.Bytes()),
			},
		},
		implAddr: {Balance: big.NewInt(0), Code: stopCode},
	}
	for addr, account := range extra {
		alloc[addr] = account
	}

	backend := simulated.NewBackend(alloc)
	t.Cleanup(func() { backend.Close() })

	keys, err := NewKeyring([]string{
		hex.EncodeToString(crypto.FromECDSA(signerKey)),
		"0x" + hex.EncodeToString(crypto.FromECDSA(otherKey)),
	})
	require.NoError(t, err)

	client := &committingClient{Client: backend.Client(), backend: backend}
	gateway := NewGatewayWithClient(client, simulatedChainID, keys, layouts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	gateway.pollInterval = 10 * time.Millisecond

	return &testChain{gateway: gateway, client: client, signer: signer, other: other}
}

func TestGateway_ReadSlots(t *testing.T) {
	chain := newTestChain(t, proxyAdmin, nil, nil)
	ctx := context.Background()

	impl, err := chain.gateway.ReadImplementationSlot(ctx, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implAddr, impl)

	admin, err := chain.gateway.ReadAdminSlot(ctx, proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, proxyAdmin, admin)

	// Plain accounts read as the zero address
	impl, err = chain.gateway.ReadImplementationSlot(ctx, chain.other)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, impl)
}

func TestGateway_ResolveLayout(t *testing.T) {
	layout := &models.StorageLayout{
		Storage: []models.StorageField{{Label: "x", Slot: "0", Type: "t_uint256"}},
		Types:   map[string]models.StorageType{"t_uint256": {Label: "uint256", NumberOfBytes: "32"}},
	}
	unregistered := common.HexToAddress("0x0000000000000000000000000000000000000022")
	mismatched := common.HexToAddress("0x0000000000000000000000000000000000000033")

	layouts := staticLayouts{
		implAddr:   {Address: implAddr, Layout: layout, RuntimeCodeHash: crypto.Keccak256Hash(stopCode)},
		mismatched: {Address: mismatched, Layout: layout, RuntimeCodeHash: crypto.Keccak256Hash([]byte{0x01})},
	}
	extra := types.GenesisAlloc{
		unregistered: {Balance: big.NewInt(0), Code: stopCode},
		mismatched:   {Balance: big.NewInt(0), Code: stopCode},
	}
	chain := newTestChain(t, proxyAdmin, extra, layouts)
	ctx := context.Background()

	got, err := chain.gateway.ResolveLayout(ctx, implAddr)
	require.NoError(t, err)
	assert.Equal(t, layout, got)

	tests := []struct {
		name    string
		address common.Address
	}{
		{name: "no code", address: proxyAdmin},
		{name: "no registered layout", address: unregistered},
		{name: "code hash mismatch", address: mismatched},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chain.gateway.ResolveLayout(ctx, tt.address)
			assert.ErrorIs(t, err, domain.ErrUnresolvable)
		})
	}
}

func TestGateway_DeployImplementation(t *testing.T) {
	chain := newTestChain(t, proxyAdmin, nil, nil)
	ctx := context.Background()

	addr, err := chain.gateway.DeployImplementation(ctx, deployCode, nil)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, addr)
	assert.Equal(t, crypto.CreateAddress(chain.signer, 0), addr)
}

func TestGateway_SendUpgradeTransaction(t *testing.T) {
	newImpl := common.HexToAddress("0x0000000000000000000000000000000000000022")
	ctx := context.Background()

	t.Run("signer is the admin", func(t *testing.T) {
		chain := newTestChain(t, common.Address{}, nil, nil)
		ref, err := chain.gateway.SendUpgradeTransaction(ctx, proxyAddr, newImpl, chain.signer)
		require.NoError(t, err)
		assert.Len(t, ref, 66)
	})

	t.Run("signer owns the proxy admin", func(t *testing.T) {
		owned := newTestChainWithOwner(t)
		ref, err := owned.gateway.SendUpgradeTransaction(ctx, proxyAddr, newImpl, owned.signer)
		require.NoError(t, err)
		assert.Len(t, ref, 66)
	})

	t.Run("signer without key", func(t *testing.T) {
		chain := newTestChain(t, common.Address{}, nil, nil)
		_, err := chain.gateway.SendUpgradeTransaction(ctx, proxyAddr, newImpl, common.HexToAddress("0xdead"))
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("signer is not the admin account", func(t *testing.T) {
		chain := newTestChain(t, common.Address{}, nil, nil)
		_, err := chain.gateway.SendUpgradeTransaction(ctx, proxyAddr, newImpl, chain.other)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("signer does not own the proxy admin", func(t *testing.T) {
		extra := types.GenesisAlloc{
			proxyAdmin: {Balance: big.NewInt(0), Code: ownerCode(common.HexToAddress("0xbeef"))},
		}
		chain := newTestChain(t, proxyAdmin, extra, nil)
		_, err := chain.gateway.SendUpgradeTransaction(ctx, proxyAddr, newImpl, chain.signer)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

// fixedGasClient skips gas estimation so reverting calls are mined
type fixedGasClient struct {
	*committingClient
}

func (c *fixedGasClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func TestGateway_SendUpgradeTransactionReverts(t *testing.T) {
	newImpl := common.HexToAddress("0x0000000000000000000000000000000000000022")
	ctx := context.Background()

	t.Run("rejected during gas estimation", func(t *testing.T) {
		chain := newTestChainWithProxyCode(t, common.Address{}, nil, nil, revertCode)
		_, err := chain.gateway.SendUpgradeTransaction(ctx, proxyAddr, newImpl, chain.signer)
		assert.ErrorIs(t, err, domain.ErrReverted)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("mined with failed status", func(t *testing.T) {
		chain := newTestChainWithProxyCode(t, common.Address{}, nil, nil, revertCode)
		chain.gateway.client = &fixedGasClient{committingClient: chain.client}
		ref, err := chain.gateway.SendUpgradeTransaction(ctx, proxyAddr, newImpl, chain.signer)
		assert.ErrorIs(t, err, domain.ErrReverted)
		assert.Empty(t, ref)
	})
}

// newTestChainWithOwner builds a chain whose ProxyAdmin is owned by a key
// loaded into the gateway
func newTestChainWithOwner(t *testing.T) *testChain {
	t.Helper()

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))
	backend := simulated.NewBackend(types.GenesisAlloc{
		owner:      {Balance: funds},
		proxyAdmin: {Balance: big.NewInt(0), Code: ownerCode(owner)},
		proxyAddr: {
			Balance: big.NewInt(0),
			Code:    stopCode,
			Storage: map[common.Hash]common.Hash{
				ImplementationSlot: common.BytesToHash(implAddr.Bytes()),
				AdminSlot:          common.BytesToHash(proxyAdmin.Bytes()),
			},
		},
	})
	t.Cleanup(func() { backend.Close() })

	keys, err := NewKeyring([]string{hex.EncodeToString(crypto.FromECDSA(ownerKey))})
	require.NoError(t, err)

	client := &committingClient{Client: backend.Client(), backend: backend}
	gateway := NewGatewayWithClient(client, simulatedChainID, keys, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	gateway.pollInterval = 10 * time.Millisecond
	return &testChain{gateway: gateway, signer: owner}
}

func TestKeyring(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))

	keys, err := NewKeyring([]string{hexKey, "0x" + hexKey, ""})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{crypto.PubkeyToAddress(key.PublicKey)}, keys.Accounts())

	_, err = NewKeyring([]string{"not-a-key"})
	assert.Error(t, err)
}
