package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/logging"
)

// OrderParams carries the caller-supplied fields of an order request.
type OrderParams struct {
	Asset            common.Address
	Amount           *big.Int
	RefundAddress    common.Address
	Integrator       common.Address
	IntegratorFeeBps uint64

	// MessageHash binds the order to an external message; each hash is
	// accepted exactly once, ever.
	MessageHash common.Hash
}

// CreateOrder escrows the caller's funds and opens a PENDING order. The tier
// is derived from the amount; the identifier is derived from the caller and
// their monotonic nonce.
func (e *Engine) CreateOrder(ctx context.Context, caller common.Address, params OrderParams) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return nil, err
	}
	p := e.Params()

	if !p.Assets[params.Asset] {
		return nil, validationf("asset %s is not whitelisted", params.Asset.Hex())
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, validationf("amount must be positive")
	}
	if params.RefundAddress == (common.Address{}) {
		return nil, validationf("refund address must not be zero")
	}
	if params.Integrator == (common.Address{}) {
		return nil, validationf("integrator must not be zero")
	}
	if params.IntegratorFeeBps < p.Fees.IntegratorMinBps || params.IntegratorFeeBps > p.Fees.IntegratorMaxBps {
		return nil, validationf("integrator fee %d bps outside allowed range [%d, %d]",
			params.IntegratorFeeBps, p.Fees.IntegratorMinBps, p.Fees.IntegratorMaxBps)
	}
	if params.MessageHash == (common.Hash{}) {
		return nil, validationf("message hash must not be zero")
	}
	if e.store.HasMessageHash(params.MessageHash) {
		return nil, fmt.Errorf("%w: %s", ErrReplay, params.MessageHash.Hex())
	}

	// Escrow before any state write. transferFrom is atomic-or-fail, so a
	// rejection here leaves everything untouched.
	if err := e.ledger.TransferFrom(ctx, params.Asset, caller, params.Amount); err != nil {
		return nil, fmt.Errorf("failed to escrow funds: %w", err)
	}

	nonce := e.store.NextNonce(caller)
	now := e.clock.Now()
	order := &Order{
		ID:               e.ids.OrderID(caller, nonce),
		User:             caller,
		Asset:            params.Asset,
		Amount:           new(big.Int).Set(params.Amount),
		Tier:             p.Tiers.TierFor(params.Amount),
		Status:           OrderPending,
		RefundAddress:    params.RefundAddress,
		CreatedAt:        now,
		ExpiresAt:        now.Add(p.OrderExpiry),
		Integrator:       params.Integrator,
		IntegratorFeeBps: params.IntegratorFeeBps,
		MessageHash:      params.MessageHash,
	}
	e.store.MarkMessageHash(params.MessageHash)
	e.store.PutOrder(order)
	e.bumpIntegratorVolume(params.Integrator, params.Amount)
	e.metrics.OrderCreated(order.Tier)

	e.events.Publish(OrderCreatedEvent{
		OrderID:          order.ID,
		User:             caller,
		Asset:            order.Asset,
		Amount:           new(big.Int).Set(order.Amount),
		Tier:             uint8(order.Tier),
		RefundAddress:    order.RefundAddress,
		Integrator:       order.Integrator,
		IntegratorFeeBps: order.IntegratorFeeBps,
		MessageHash:      order.MessageHash,
		ExpiresAt:        order.ExpiresAt,
	})
	logging.Info("order created",
		logging.OrderID(ShortID(order.ID)),
		logging.Caller(caller.Hex()),
		"amount", order.Amount.String(),
		"tier", order.Tier.String())
	return order.Clone(), nil
}

// RefundOrder returns the full escrowed amount to the order's refund address
// once the order has expired unfulfilled. Aggregator-only; the owner path is
// RequestRefund.
func (e *Engine) RefundOrder(ctx context.Context, caller common.Address, orderID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAggregator, caller); err != nil {
		return err
	}
	order, ok := e.store.GetOrder(orderID)
	if !ok {
		return notFoundf("order %s", ShortID(orderID))
	}
	if order.Status.IsTerminal() {
		return conflictf("order %s already %s", ShortID(orderID), order.Status)
	}
	if !e.clock.Now().After(order.ExpiresAt) {
		return tooEarlyf("order %s expires at %s", ShortID(orderID), order.ExpiresAt.Format(time.RFC3339))
	}

	return e.disburseRefund(ctx, order, OrderRefunded)
}

// RequestRefund is the order owner's escape hatch: a PENDING or PROPOSED
// order that has expired can be cancelled by its creator, returning the
// escrow. The terminal status is CANCELLED so analytics can tell the two
// refund paths apart.
func (e *Engine) RequestRefund(ctx context.Context, caller common.Address, orderID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return err
	}
	order, ok := e.store.GetOrder(orderID)
	if !ok {
		return notFoundf("order %s", ShortID(orderID))
	}
	if order.User != caller {
		return unauthorizedf("caller %s is not the owner of order %s", caller.Hex(), ShortID(orderID))
	}
	if order.Status != OrderPending && order.Status != OrderProposed {
		return conflictf("order %s is %s, not refundable by owner", ShortID(orderID), order.Status)
	}
	if !e.clock.Now().After(order.ExpiresAt) {
		return tooEarlyf("order %s expires at %s", ShortID(orderID), order.ExpiresAt.Format(time.RFC3339))
	}

	return e.disburseRefund(ctx, order, OrderCancelled)
}

// disburseRefund moves the escrow back and closes the order. Caller holds the
// engine mutex and has validated every precondition; the transfer is the only
// remaining failure point, and it fails atomically.
func (e *Engine) disburseRefund(ctx context.Context, order *Order, terminal OrderStatus) error {
	if err := e.ledger.Transfer(ctx, order.Asset, order.RefundAddress, order.Amount); err != nil {
		return fmt.Errorf("failed to refund order %s: %w", ShortID(order.ID), err)
	}

	order.Status = terminal
	e.store.PutOrder(order)
	e.metrics.OrderRefunded(terminal == OrderCancelled)

	e.events.Publish(OrderRefundedEvent{
		OrderID:       order.ID,
		RefundAddress: order.RefundAddress,
		Amount:        new(big.Int).Set(order.Amount),
		Status:        terminal,
	})
	logging.Info("order refunded",
		logging.OrderID(ShortID(order.ID)),
		"status", string(terminal),
		"amount", order.Amount.String())
	return nil
}

// bumpIntegratorVolume accretes order count and volume onto a registered
// integrator record. Unregistered integrators are simply not tracked.
func (e *Engine) bumpIntegratorVolume(integrator common.Address, amount *big.Int) {
	info, ok := e.store.GetIntegrator(integrator)
	if !ok || !info.Registered {
		return
	}
	info.TotalOrders++
	if info.TotalVolume == nil {
		info.TotalVolume = new(big.Int)
	}
	info.TotalVolume = new(big.Int).Add(info.TotalVolume, amount)
	e.store.PutIntegrator(info)
}
