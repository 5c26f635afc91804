package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	escrowAddr = common.HexToAddress("0xe5c0000000000000000000000000000000000001")
	asset      = common.HexToAddress("0xa55e000000000000000000000000000000000001")
	user       = common.HexToAddress("0x0000000000000000000000000000000000000abc")
	recipient  = common.HexToAddress("0x0000000000000000000000000000000000000def")
)

func TestMemoryLedger_TransferFrom(t *testing.T) {
	l := NewMemoryLedger(escrowAddr)
	ctx := context.Background()

	l.Mint(asset, user, big.NewInt(1000))

	if err := l.TransferFrom(ctx, asset, user, big.NewInt(400)); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}

	userBal, _ := l.BalanceOf(ctx, asset, user)
	escrowBal, _ := l.BalanceOf(ctx, asset, escrowAddr)
	if userBal.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("user balance = %s, want 600", userBal)
	}
	if escrowBal.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("escrow balance = %s, want 400", escrowBal)
	}
}

func TestMemoryLedger_TransferFrom_Insufficient(t *testing.T) {
	l := NewMemoryLedger(escrowAddr)
	ctx := context.Background()

	l.Mint(asset, user, big.NewInt(100))

	err := l.TransferFrom(ctx, asset, user, big.NewInt(101))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// No partial effect
	userBal, _ := l.BalanceOf(ctx, asset, user)
	escrowBal, _ := l.BalanceOf(ctx, asset, escrowAddr)
	if userBal.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("user balance = %s, want 100", userBal)
	}
	if escrowBal.Sign() != 0 {
		t.Errorf("escrow balance = %s, want 0", escrowBal)
	}
}

func TestMemoryLedger_Transfer(t *testing.T) {
	l := NewMemoryLedger(escrowAddr)
	ctx := context.Background()

	l.Mint(asset, escrowAddr, big.NewInt(500))

	if err := l.Transfer(ctx, asset, recipient, big.NewInt(500)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	recBal, _ := l.BalanceOf(ctx, asset, recipient)
	escrowBal, _ := l.BalanceOf(ctx, asset, escrowAddr)
	if recBal.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("recipient balance = %s, want 500", recBal)
	}
	if escrowBal.Sign() != 0 {
		t.Errorf("escrow balance = %s, want 0", escrowBal)
	}
}

func TestMemoryLedger_AssetsIsolated(t *testing.T) {
	l := NewMemoryLedger(escrowAddr)
	ctx := context.Background()
	otherAsset := common.HexToAddress("0xa55e000000000000000000000000000000000002")

	l.Mint(asset, user, big.NewInt(100))

	if err := l.TransferFrom(ctx, otherAsset, user, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected insufficient balance on other asset, got %v", err)
	}
}

func TestMemoryLedger_NegativeAmount(t *testing.T) {
	l := NewMemoryLedger(escrowAddr)
	ctx := context.Background()

	l.Mint(asset, user, big.NewInt(100))
	if err := l.TransferFrom(ctx, asset, user, big.NewInt(-5)); err == nil {
		t.Error("expected error for negative amount")
	}
}
