// Package ledger abstracts the underlying value-transfer ledger: a
// fungible-asset store exposing atomic debit/credit operations. A failed
// transfer leaves no partial effect. The settlement engine escrows order
// funds into its own account at order creation and disburses from it at
// settlement or refund, always through this interface.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientBalance is returned when a transfer exceeds the source balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger is the value-transfer interface consumed by the settlement engine.
// Both operations are atomic-or-fail: on error, no balance has moved.
type Ledger interface {
	// TransferFrom moves amount of asset from owner into the escrow account.
	TransferFrom(ctx context.Context, asset, owner common.Address, amount *big.Int) error

	// Transfer moves amount of asset from the escrow account to recipient.
	Transfer(ctx context.Context, asset, recipient common.Address, amount *big.Int) error

	// BalanceOf returns the asset balance held by an account.
	BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error)
}
