package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/clearmesh/clearmesh/internal/logging"
	"github.com/clearmesh/clearmesh/internal/util"
)

// erc20ABI is the minimal ERC-20 surface the ledger needs.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// TokenLedgerConfig holds connection settings for the on-chain ledger.
type TokenLedgerConfig struct {
	RPCURL             string
	ChainID            int64
	BlockConfirmations int

	// PrivateKey signs escrow-outbound transfers. The corresponding address
	// is the escrow account.
	PrivateKey *ecdsa.PrivateKey
}

// TokenLedger implements Ledger against ERC-20 contracts, one bound
// contract per whitelisted asset. Escrow is the signer's own account.
type TokenLedger struct {
	config *TokenLedgerConfig
	client *ethclient.Client
	escrow common.Address

	parsedABI abi.ABI

	contracts   map[common.Address]*bind.BoundContract
	contractsMu sync.Mutex

	nonce   uint64
	nonceMu sync.Mutex
}

// NewTokenLedger connects to the chain and prepares the ERC-20 ABI.
func NewTokenLedger(ctx context.Context, config *TokenLedgerConfig) (*TokenLedger, error) {
	if config.PrivateKey == nil {
		return nil, fmt.Errorf("token ledger requires a signing key (use MemoryLedger for mock mode)")
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}

	client, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	tl := &TokenLedger{
		config:    config,
		client:    client,
		escrow:    crypto.PubkeyToAddress(config.PrivateKey.PublicKey),
		parsedABI: parsed,
		contracts: make(map[common.Address]*bind.BoundContract),
	}

	if err := tl.syncNonce(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return tl, nil
}

// Close releases the RPC connection.
func (tl *TokenLedger) Close() {
	tl.client.Close()
}

// Escrow returns the escrow account address.
func (tl *TokenLedger) Escrow() common.Address {
	return tl.escrow
}

// contractFor returns (binding lazily) the bound contract for an asset.
func (tl *TokenLedger) contractFor(asset common.Address) *bind.BoundContract {
	tl.contractsMu.Lock()
	defer tl.contractsMu.Unlock()
	contract, ok := tl.contracts[asset]
	if !ok {
		contract = bind.NewBoundContract(asset, tl.parsedABI, tl.client, tl.client, tl.client)
		tl.contracts[asset] = contract
	}
	return contract
}

// BalanceOf returns the asset balance held by an account.
func (tl *TokenLedger) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	var result []interface{}
	err := tl.contractFor(asset).Call(&bind.CallOpts{Context: ctx}, &result, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if len(result) > 0 {
		if balance, ok := result[0].(*big.Int); ok {
			return balance, nil
		}
	}
	return big.NewInt(0), nil
}

// TransferFrom moves amount of asset from owner into the escrow account.
// The owner must have approved the escrow account beforehand.
func (tl *TokenLedger) TransferFrom(ctx context.Context, asset, owner common.Address, amount *big.Int) error {
	return tl.transact(ctx, asset, "transferFrom", owner, tl.escrow, amount)
}

// Transfer moves amount of asset from the escrow account to recipient.
func (tl *TokenLedger) Transfer(ctx context.Context, asset, recipient common.Address, amount *big.Int) error {
	return tl.transact(ctx, asset, "transfer", recipient, amount)
}

// transact submits a state-changing call and waits for it to be mined with
// the configured number of confirmations. A reverted transaction is an error,
// so the atomic-or-fail contract of the Ledger interface holds.
func (tl *TokenLedger) transact(ctx context.Context, asset common.Address, method string, args ...interface{}) error {
	auth, err := tl.transactOpts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get transaction options: %w", err)
	}

	tx, err := tl.contractFor(asset).Transact(auth, method, args...)
	if err != nil {
		return fmt.Errorf("failed to submit %s: %w", method, err)
	}

	receipt, err := tl.waitMined(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed waiting for %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s reverted in tx %s", method, tx.Hash().Hex())
	}

	logging.Debug("ledger transfer mined",
		"method", method, "tx", tx.Hash().Hex(), "asset", asset.Hex(),
		logging.Component("ledger"))
	return nil
}

// transactOpts builds signed transact options with a locally tracked nonce.
func (tl *TokenLedger) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(tl.config.PrivateKey, big.NewInt(tl.config.ChainID))
	if err != nil {
		return nil, err
	}
	auth.Context = ctx

	tl.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(tl.nonce)
	tl.nonce++
	tl.nonceMu.Unlock()

	return auth, nil
}

// syncNonce refreshes the local nonce from the chain, retrying transient
// RPC failures with backoff.
func (tl *TokenLedger) syncNonce(ctx context.Context) error {
	nonce, result := util.RetryWithValue(ctx, nil, func() (uint64, error) {
		return tl.client.PendingNonceAt(ctx, tl.escrow)
	})
	if result.LastError != nil {
		return fmt.Errorf("failed to sync nonce: %w", result.LastError)
	}

	tl.nonceMu.Lock()
	tl.nonce = nonce
	tl.nonceMu.Unlock()
	return nil
}

// waitMined polls for the transaction receipt and then for the configured
// confirmation depth.
func (tl *TokenLedger) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, tl.client, tx)
	if err != nil {
		return nil, err
	}

	confirmations := tl.config.BlockConfirmations
	if confirmations <= 0 {
		return receipt, nil
	}

	for {
		head, err := tl.client.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		if head >= receipt.BlockNumber.Uint64()+uint64(confirmations) {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
