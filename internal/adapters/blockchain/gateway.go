package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

const defaultReceiptPollInterval = time.Second

// ChainClient is the subset of the JSON-RPC client used by the gateway.
// Both *ethclient.Client and the simulated backend client satisfy it.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// LayoutSource provides registered implementation layouts
type LayoutSource interface {
	GetLayout(ctx context.Context, chainID uint64, implementation common.Address) (*models.ImplementationLayout, error)
}

// Gateway implements ChainGateway over JSON-RPC. The connection is dialed
// on first use so commands that never touch the chain work offline.
type Gateway struct {
	rpcURL  string
	chainID uint64
	keys    *Keyring
	signer  common.Address // default signer for deployments
	layouts LayoutSource
	log     *slog.Logger

	pollInterval time.Duration

	mu     sync.Mutex
	client ChainClient
}

// NewGateway creates a gateway for the configured network
func NewGateway(cfg *config.RuntimeConfig, keys *Keyring, layouts LayoutSource, log *slog.Logger) (*Gateway, error) {
	g := &Gateway{
		chainID:      cfg.ChainID(),
		keys:         keys,
		layouts:      layouts,
		log:          log,
		pollInterval: defaultReceiptPollInterval,
	}
	if cfg.Network != nil {
		g.rpcURL = cfg.Network.RPCURL
	}
	if err := g.selectDefaultSigner(cfg.Signer); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGatewayWithClient creates a gateway over an existing client
func NewGatewayWithClient(client ChainClient, chainID uint64, keys *Keyring, layouts LayoutSource, log *slog.Logger) *Gateway {
	g := &Gateway{
		client:       client,
		chainID:      chainID,
		keys:         keys,
		layouts:      layouts,
		log:          log,
		pollInterval: defaultReceiptPollInterval,
	}
	_ = g.selectDefaultSigner("")
	return g
}

func (g *Gateway) selectDefaultSigner(configured string) error {
	if configured != "" {
		if !common.IsHexAddress(configured) {
			return fmt.Errorf("%w: signer %q", domain.ErrInvalidAddress, configured)
		}
		g.signer = common.HexToAddress(configured)
		return nil
	}
	if account, ok := g.keys.Default(); ok {
		g.signer = account
	}
	return nil
}

// Accounts returns the accounts with a loaded key
func (g *Gateway) Accounts() []common.Address {
	return g.keys.Accounts()
}

// DefaultSigner returns the signer used when none is given explicitly
func (g *Gateway) DefaultSigner() common.Address {
	return g.signer
}

func (g *Gateway) connect(ctx context.Context) (ChainClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	if g.rpcURL == "" {
		return nil, fmt.Errorf("no RPC URL configured (set --network or --rpc-url)")
	}

	client, err := ethclient.DialContext(ctx, g.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", domain.WrapChainError(err))
	}

	// Verify chain ID matches
	networkChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", domain.WrapChainError(err))
	}
	if g.chainID == 0 {
		g.chainID = networkChainID.Uint64()
	} else if networkChainID.Uint64() != g.chainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", g.chainID, networkChainID.Uint64())
	}

	g.client = client
	return client, nil
}

func (g *Gateway) readAddressSlot(ctx context.Context, account common.Address, slot common.Hash) (common.Address, error) {
	client, err := g.connect(ctx)
	if err != nil {
		return common.Address{}, err
	}
	value, err := client.StorageAt(ctx, account, slot, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read storage of %s: %w", account.Hex(), domain.WrapChainError(err))
	}
	return common.BytesToAddress(value), nil
}

// ReadImplementationSlot reads the EIP-1967 implementation slot
func (g *Gateway) ReadImplementationSlot(ctx context.Context, proxy common.Address) (common.Address, error) {
	return g.readAddressSlot(ctx, proxy, ImplementationSlot)
}

// ReadAdminSlot reads the EIP-1967 admin slot
func (g *Gateway) ReadAdminSlot(ctx context.Context, proxy common.Address) (common.Address, error) {
	return g.readAddressSlot(ctx, proxy, AdminSlot)
}

// ResolveLayout returns the registered layout of a deployed implementation
// after checking the code at the address still matches it
func (g *Gateway) ResolveLayout(ctx context.Context, implementation common.Address) (*models.StorageLayout, error) {
	client, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}
	code, err := client.CodeAt(ctx, implementation, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read code of %s: %w", implementation.Hex(), domain.WrapChainError(err))
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: no code at %s", domain.ErrUnresolvable, implementation.Hex())
	}

	entry, err := g.layouts.GetLayout(ctx, g.chainID, implementation)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no layout registered for %s (import with --artifact)", domain.ErrUnresolvable, implementation.Hex())
		}
		return nil, err
	}
	if entry.Layout == nil {
		return nil, fmt.Errorf("%w: empty layout registered for %s", domain.ErrUnresolvable, implementation.Hex())
	}
	if entry.RuntimeCodeHash != (common.Hash{}) {
		if actual := crypto.Keccak256Hash(code); actual != entry.RuntimeCodeHash {
			return nil, fmt.Errorf("%w: code at %s does not match registered artifact %s",
				domain.ErrUnresolvable, implementation.Hex(), entry.ArtifactPath)
		}
	}
	return entry.Layout, nil
}

// DeployImplementation deploys creation bytecode from the default signer
func (g *Gateway) DeployImplementation(ctx context.Context, bytecode []byte, constructorArgs []byte) (common.Address, error) {
	if len(bytecode) == 0 {
		return common.Address{}, fmt.Errorf("empty creation bytecode")
	}
	if _, ok := g.keys.Key(g.signer); !ok {
		return common.Address{}, fmt.Errorf("%w: no private key loaded for deployer %s", domain.ErrUnauthorized, g.signer.Hex())
	}

	data := append(append([]byte{}, bytecode...), constructorArgs...)
	receipt, err := g.transact(ctx, g.signer, nil, data)
	if err != nil {
		return common.Address{}, err
	}
	g.log.Debug("implementation deployed", "address", receipt.ContractAddress.Hex(), "tx", receipt.TxHash.Hex())
	return receipt.ContractAddress, nil
}

// SendUpgradeTransaction switches the proxy to newImplementation. The
// signer must either be the proxy admin or own the ProxyAdmin contract.
func (g *Gateway) SendUpgradeTransaction(ctx context.Context, proxy, newImplementation, signer common.Address) (string, error) {
	if _, ok := g.keys.Key(signer); !ok {
		return "", fmt.Errorf("%w: no private key loaded for %s", domain.ErrUnauthorized, signer.Hex())
	}

	client, err := g.connect(ctx)
	if err != nil {
		return "", err
	}
	admin, err := g.ReadAdminSlot(ctx, proxy)
	if err != nil {
		return "", err
	}

	target := proxy
	viaProxyAdmin := false
	if admin != signer {
		owner, err := g.proxyAdminOwner(ctx, client, admin)
		if err != nil {
			return "", err
		}
		if owner != signer {
			return "", fmt.Errorf("%w: %s is neither the admin (%s) nor its owner", domain.ErrUnauthorized, signer.Hex(), admin.Hex())
		}
		target = admin
		viaProxyAdmin = true
	}

	calls, err := upgradeCalls(viaProxyAdmin, proxy, newImplementation)
	if err != nil {
		return "", err
	}

	// Pick the first call the contract accepts, falling back to the
	// pre-v5 function names
	var callData []byte
	var lastErr error
	for _, data := range calls {
		if _, err := client.EstimateGas(ctx, ethereum.CallMsg{From: signer, To: &target, Data: data}); err != nil {
			lastErr = err
			continue
		}
		callData = data
		break
	}
	if callData == nil {
		if errors.Is(lastErr, context.DeadlineExceeded) {
			return "", domain.WrapChainError(lastErr)
		}
		return "", fmt.Errorf("%w: upgrade call rejected: %v", domain.ErrReverted, lastErr)
	}

	receipt, err := g.transact(ctx, signer, &target, callData)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// proxyAdminOwner returns owner() of a ProxyAdmin contract. An EOA admin
// or a contract without owner() means the signer is not authorized.
func (g *Gateway) proxyAdminOwner(ctx context.Context, client ChainClient, admin common.Address) (common.Address, error) {
	code, err := client.CodeAt(ctx, admin, nil)
	if err != nil {
		return common.Address{}, domain.WrapChainError(err)
	}
	if len(code) == 0 {
		return common.Address{}, fmt.Errorf("%w: admin %s is an account without a loaded key", domain.ErrUnauthorized, admin.Hex())
	}

	data, _ := upgradeContract.Pack("owner")
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &admin, Data: data}, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return common.Address{}, domain.WrapChainError(err)
		}
		return common.Address{}, fmt.Errorf("%w: admin %s has no owner(): %v", domain.ErrUnauthorized, admin.Hex(), err)
	}
	values, err := upgradeContract.Unpack("owner", out)
	if err != nil || len(values) != 1 {
		return common.Address{}, fmt.Errorf("%w: admin %s returned an invalid owner()", domain.ErrUnauthorized, admin.Hex())
	}
	owner, _ := values[0].(common.Address)
	return owner, nil
}

// transact signs, sends and waits for a legacy transaction. to == nil
// creates a contract.
func (g *Gateway) transact(ctx context.Context, from common.Address, to *common.Address, data []byte) (*types.Receipt, error) {
	client, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := g.keys.Key(from)
	if !ok {
		return nil, fmt.Errorf("%w: no private key loaded for %s", domain.ErrUnauthorized, from.Hex())
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", domain.WrapChainError(err))
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", domain.WrapChainError(err))
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: to, Data: data})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.WrapChainError(err)
		}
		return nil, fmt.Errorf("%w: gas estimation failed: %v", domain.ErrReverted, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(g.chainID)), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", domain.WrapChainError(err))
	}
	g.log.Debug("transaction sent", "hash", signed.Hash().Hex(), "from", from.Hex())

	receipt, err := g.waitMined(ctx, client, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", domain.ErrReverted, signed.Hash().Hex())
	}
	return receipt, nil
}

func (g *Gateway) waitMined(ctx context.Context, client ChainClient, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt of %s: %w", hash.Hex(), domain.WrapChainError(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), domain.WrapChainError(ctx.Err()))
		case <-ticker.C:
		}
	}
}

// Ensure Gateway implements the usecase ports
var (
	_ usecase.ChainGateway = (*Gateway)(nil)
	_ usecase.SignerSource = (*Gateway)(nil)
)
