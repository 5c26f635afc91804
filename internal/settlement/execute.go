package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/logging"
	"github.com/clearmesh/clearmesh/pkg/types"
)

// SettlementSplit is the three-way division of an order's escrowed amount.
type SettlementSplit struct {
	ProtocolFee    *big.Int
	IntegratorFee  *big.Int
	ProviderAmount *big.Int
}

// ComputeSplit divides amount by integer basis-point arithmetic against
// types.MaxBPS. The provider receives the remainder after both fees, so the
// three parts always sum exactly to amount. The provider's own proposed fee
// is recorded on the proposal for audit but never deducted here.
func ComputeSplit(amount *big.Int, protocolFeeBps, integratorFeeBps uint64) SettlementSplit {
	maxBps := big.NewInt(types.MaxBPS)

	protocolFee := new(big.Int).Mul(amount, new(big.Int).SetUint64(protocolFeeBps))
	protocolFee.Div(protocolFee, maxBps)

	integratorFee := new(big.Int).Mul(amount, new(big.Int).SetUint64(integratorFeeBps))
	integratorFee.Div(integratorFee, maxBps)

	providerAmount := new(big.Int).Sub(amount, protocolFee)
	providerAmount.Sub(providerAmount, integratorFee)

	return SettlementSplit{
		ProtocolFee:    protocolFee,
		IntegratorFee:  integratorFee,
		ProviderAmount: providerAmount,
	}
}

// ExecuteSettlement disburses an accepted order: protocol fee to the
// treasury, integrator fee to the order's integrator, and the remainder to
// the provider. Aggregator-only, idempotency-guarded. The three transfers
// and the three state writes commit as a unit: any transfer failure unwinds
// the transfers already made and leaves all entity state untouched.
func (e *Engine) ExecuteSettlement(ctx context.Context, caller common.Address, proposalID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAggregator, caller); err != nil {
		return err
	}
	proposal, ok := e.store.GetProposal(proposalID)
	if !ok {
		return notFoundf("proposal %s", ShortID(proposalID))
	}
	if proposal.Executed {
		return conflictf("proposal %s already executed", ShortID(proposalID))
	}
	if proposal.Status != ProposalAccepted {
		return conflictf("proposal %s is %s, not ACCEPTED", ShortID(proposalID), proposal.Status)
	}
	order, ok := e.store.GetOrder(proposal.OrderID)
	if !ok {
		return notFoundf("order %s", ShortID(proposal.OrderID))
	}
	if order.Status != OrderAccepted {
		return conflictf("order %s is %s, not ACCEPTED", ShortID(order.ID), order.Status)
	}
	if order.AcceptedProposalID == nil || *order.AcceptedProposalID != proposal.ID {
		return conflictf("proposal %s is not the accepted proposal for order %s",
			ShortID(proposalID), ShortID(order.ID))
	}

	p := e.Params()
	split := ComputeSplit(proposal.Amount, p.Fees.ProtocolFeeBps, order.IntegratorFeeBps)

	if err := e.disburseSplit(ctx, order, split); err != nil {
		return err
	}

	// Transfers are done; the remaining writes cannot fail.
	now := e.clock.Now()
	proposal.Executed = true
	e.store.PutProposal(proposal)

	order.Status = OrderFulfilled
	e.store.PutOrder(order)

	elapsed := now.Sub(proposal.ProposedAt)
	rep := e.reputationFor(proposal.Provider)
	rep.TotalOrders++
	rep.SuccessfulOrders++
	rep.TotalSettlementTime += elapsed
	e.publishReputation(rep)
	e.metrics.OrderFulfilled(elapsed)

	e.events.Publish(SettlementExecutedEvent{
		ProposalID:     proposal.ID,
		OrderID:        order.ID,
		Provider:       proposal.Provider,
		Amount:         new(big.Int).Set(proposal.Amount),
		ProtocolFee:    split.ProtocolFee,
		IntegratorFee:  split.IntegratorFee,
		ProviderAmount: split.ProviderAmount,
		SettledAt:      now,
	})
	logging.Info("settlement executed",
		logging.ProposalID(ShortID(proposal.ID)),
		logging.OrderID(ShortID(order.ID)),
		logging.Provider(proposal.Provider.Hex()),
		"provider_amount", split.ProviderAmount.String(),
		"protocol_fee", split.ProtocolFee.String(),
		"integrator_fee", split.IntegratorFee.String())
	return nil
}

// disburseSplit performs the three outbound transfers, compensating any
// already-completed transfer if a later one fails so the escrow is restored
// in full. Zero-valued legs are skipped.
func (e *Engine) disburseSplit(ctx context.Context, order *Order, split SettlementSplit) error {
	type leg struct {
		recipient common.Address
		amount    *big.Int
		label     string
	}
	legs := []leg{
		{e.Params().Treasury, split.ProtocolFee, "treasury"},
		{order.Integrator, split.IntegratorFee, "integrator"},
		{*order.FulfilledBy, split.ProviderAmount, "provider"},
	}

	var done []leg
	for _, l := range legs {
		if l.amount.Sign() == 0 {
			continue
		}
		if err := e.ledger.Transfer(ctx, order.Asset, l.recipient, l.amount); err != nil {
			for _, d := range done {
				if rbErr := e.ledger.TransferFrom(ctx, order.Asset, d.recipient, d.amount); rbErr != nil {
					logging.Error("settlement rollback failed, escrow short",
						logging.OrderID(ShortID(order.ID)),
						"leg", d.label,
						logging.Err(rbErr))
				}
			}
			return fmt.Errorf("failed to disburse %s leg for order %s: %w", l.label, ShortID(order.ID), err)
		}
		done = append(done, l)
	}
	return nil
}
