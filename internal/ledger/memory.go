package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLedger is an in-memory Ledger used in mock mode and in tests.
// Balances are tracked per asset per account; the escrow account is an
// ordinary account the constructor pins.
type MemoryLedger struct {
	escrow   common.Address
	balances map[common.Address]map[common.Address]*big.Int // asset -> account -> balance
	mu       sync.RWMutex
}

// NewMemoryLedger creates an empty in-memory ledger with the given escrow account.
func NewMemoryLedger(escrow common.Address) *MemoryLedger {
	return &MemoryLedger{
		escrow:   escrow,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Escrow returns the escrow account address.
func (l *MemoryLedger) Escrow() common.Address {
	return l.escrow
}

// Mint credits an account out of thin air. Test and mock setup only.
func (l *MemoryLedger) Mint(asset, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, account, amount)
}

// TransferFrom moves amount of asset from owner into the escrow account.
func (l *MemoryLedger) TransferFrom(_ context.Context, asset, owner common.Address, amount *big.Int) error {
	return l.move(asset, owner, l.escrow, amount)
}

// Transfer moves amount of asset from the escrow account to recipient.
func (l *MemoryLedger) Transfer(_ context.Context, asset, recipient common.Address, amount *big.Int) error {
	return l.move(asset, l.escrow, recipient, amount)
}

// BalanceOf returns the asset balance held by an account.
func (l *MemoryLedger) BalanceOf(_ context.Context, asset, account common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if accounts, ok := l.balances[asset]; ok {
		if balance, ok := accounts[account]; ok {
			return new(big.Int).Set(balance), nil
		}
	}
	return big.NewInt(0), nil
}

// move debits from and credits to under one lock, so the transfer is
// all-or-nothing even against concurrent readers.
func (l *MemoryLedger) move(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balanceLocked(asset, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), balance, amount)
	}

	balance.Sub(balance, amount)
	l.credit(asset, to, amount)
	return nil
}

func (l *MemoryLedger) balanceLocked(asset, account common.Address) *big.Int {
	accounts, ok := l.balances[asset]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		l.balances[asset] = accounts
	}
	balance, ok := accounts[account]
	if !ok {
		balance = big.NewInt(0)
		accounts[account] = balance
	}
	return balance
}

func (l *MemoryLedger) credit(asset, account common.Address, amount *big.Int) {
	balance := l.balanceLocked(asset, account)
	balance.Add(balance, amount)
}
