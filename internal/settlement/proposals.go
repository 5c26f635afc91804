package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/logging"
)

// CreateProposal dispatches an order to a provider. Aggregator-only. The
// provider's capacity is reserved up front so sibling proposals can never
// oversubscribe the provider's declared liquidity. Orders accept proposals
// while PENDING or already PROPOSED; parallel dispatch to several providers
// is the intended routing strategy.
func (e *Engine) CreateProposal(caller common.Address, orderID common.Hash, provider common.Address, feeBps uint64) (*SettlementProposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAggregator, caller); err != nil {
		return nil, err
	}
	if e.authz.IsBlacklisted(provider) {
		return nil, unauthorizedf("provider %s is blacklisted", provider.Hex())
	}

	order, ok := e.store.GetOrder(orderID)
	if !ok {
		return nil, notFoundf("order %s", ShortID(orderID))
	}
	if order.Status != OrderPending && order.Status != OrderProposed {
		return nil, conflictf("order %s is %s, cannot dispatch", ShortID(orderID), order.Status)
	}
	now := e.clock.Now()
	if now.After(order.ExpiresAt) {
		return nil, tooLatef("order %s expired at %s", ShortID(orderID), order.ExpiresAt.Format(time.RFC3339))
	}

	intent, ok := e.store.GetIntent(provider)
	if !ok {
		return nil, notFoundf("intent for provider %s", provider.Hex())
	}
	if feeBps < intent.MinFeeBps || feeBps > intent.MaxFeeBps {
		return nil, validationf("fee %d bps outside provider range [%d, %d]",
			feeBps, intent.MinFeeBps, intent.MaxFeeBps)
	}

	// Reserve first: it re-validates activity, expiry, and sufficiency
	// against current state, and is the write that prevents double-booking.
	if err := e.reserveCapacity(provider, order.Amount); err != nil {
		return nil, err
	}

	proposal := &SettlementProposal{
		ID:         e.ids.ProposalID(orderID, provider, now),
		OrderID:    orderID,
		Provider:   provider,
		Amount:     new(big.Int).Set(order.Amount),
		FeeBps:     feeBps,
		ProposedAt: now,
		Deadline:   now.Add(e.Params().ProposalTimeout),
		Status:     ProposalPending,
	}
	e.store.PutProposal(proposal)

	if order.Status == OrderPending {
		order.Status = OrderProposed
		e.store.PutOrder(order)
	}
	e.metrics.ProposalCreated()

	e.events.Publish(ProposalCreatedEvent{
		ProposalID: proposal.ID,
		OrderID:    orderID,
		Provider:   provider,
		Amount:     new(big.Int).Set(proposal.Amount),
		FeeBps:     feeBps,
		Deadline:   proposal.Deadline,
	})
	logging.Info("proposal created",
		logging.ProposalID(ShortID(proposal.ID)),
		logging.OrderID(ShortID(orderID)),
		logging.Provider(provider.Hex()))
	return proposal.Clone(), nil
}

// AcceptProposal is the named provider claiming an order. The first
// acceptance to commit wins: it moves the order to ACCEPTED, and every later
// acceptance against a sibling proposal fails because the order is no longer
// PROPOSED. The engine mutex is what makes "first to commit" well-defined.
func (e *Engine) AcceptProposal(caller common.Address, proposalID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleProvider, caller); err != nil {
		return err
	}
	proposal, ok := e.store.GetProposal(proposalID)
	if !ok {
		return notFoundf("proposal %s", ShortID(proposalID))
	}
	if proposal.Provider != caller {
		return unauthorizedf("caller %s is not the provider of proposal %s", caller.Hex(), ShortID(proposalID))
	}
	if proposal.Status != ProposalPending {
		return conflictf("proposal %s is %s", ShortID(proposalID), proposal.Status)
	}
	now := e.clock.Now()
	if now.After(proposal.Deadline) {
		return tooLatef("proposal %s deadline passed at %s", ShortID(proposalID), proposal.Deadline.Format(time.RFC3339))
	}

	order, ok := e.store.GetOrder(proposal.OrderID)
	if !ok {
		return notFoundf("order %s", ShortID(proposal.OrderID))
	}
	if order.Status != OrderProposed {
		return conflictf("order %s is %s, acceptance race already resolved", ShortID(order.ID), order.Status)
	}

	proposal.Status = ProposalAccepted
	e.store.PutProposal(proposal)

	id := proposal.ID
	prov := proposal.Provider
	order.Status = OrderAccepted
	order.AcceptedProposalID = &id
	order.FulfilledBy = &prov
	e.store.PutOrder(order)
	e.metrics.ProposalAccepted()

	e.events.Publish(ProposalAcceptedEvent{
		ProposalID: proposal.ID,
		OrderID:    order.ID,
		Provider:   caller,
		AcceptedAt: now,
	})
	logging.Info("proposal accepted",
		logging.ProposalID(ShortID(proposal.ID)),
		logging.OrderID(ShortID(order.ID)),
		logging.Provider(caller.Hex()))
	return nil
}

// RejectProposal is the named provider declining an order. The reserved
// capacity is released and the provider's no-show counter is incremented.
// The order keeps its current status; re-routing is the aggregator's job.
func (e *Engine) RejectProposal(caller common.Address, proposalID common.Hash, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleProvider, caller); err != nil {
		return err
	}
	proposal, ok := e.store.GetProposal(proposalID)
	if !ok {
		return notFoundf("proposal %s", ShortID(proposalID))
	}
	if proposal.Provider != caller {
		return unauthorizedf("caller %s is not the provider of proposal %s", caller.Hex(), ShortID(proposalID))
	}
	if proposal.Status != ProposalPending {
		return conflictf("proposal %s is %s", ShortID(proposalID), proposal.Status)
	}

	proposal.Status = ProposalRejected
	e.store.PutProposal(proposal)
	e.metrics.ProposalRejected()

	if err := e.releaseCapacity(proposal.Provider, proposal.Amount, "proposal rejected"); err != nil {
		logging.Warn("capacity release after rejection failed",
			logging.ProposalID(ShortID(proposalID)),
			logging.Err(err))
	}

	rep := e.reputationFor(caller)
	rep.NoShowCount++
	e.publishReputation(rep)

	e.events.Publish(ProposalRejectedEvent{
		ProposalID: proposal.ID,
		OrderID:    proposal.OrderID,
		Provider:   caller,
		Reason:     reason,
	})
	logging.Info("proposal rejected",
		logging.ProposalID(ShortID(proposal.ID)),
		logging.Provider(caller.Hex()),
		"reason", reason)
	return nil
}

// TimeoutProposal closes out a proposal whose deadline lapsed without an
// acceptance. Aggregator-only. Releases the reserved capacity and counts the
// lapse as a no-show.
func (e *Engine) TimeoutProposal(caller common.Address, proposalID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAggregator, caller); err != nil {
		return err
	}
	proposal, ok := e.store.GetProposal(proposalID)
	if !ok {
		return notFoundf("proposal %s", ShortID(proposalID))
	}
	if proposal.Status != ProposalPending {
		return conflictf("proposal %s is %s", ShortID(proposalID), proposal.Status)
	}
	if !e.clock.Now().After(proposal.Deadline) {
		return tooEarlyf("proposal %s deadline is %s", ShortID(proposalID), proposal.Deadline.Format(time.RFC3339))
	}

	proposal.Status = ProposalTimeout
	e.store.PutProposal(proposal)
	e.metrics.ProposalTimedOut()

	if err := e.releaseCapacity(proposal.Provider, proposal.Amount, "proposal timeout"); err != nil {
		logging.Warn("capacity release after timeout failed",
			logging.ProposalID(ShortID(proposalID)),
			logging.Err(err))
	}

	rep := e.reputationFor(proposal.Provider)
	rep.NoShowCount++
	e.publishReputation(rep)

	e.events.Publish(ProposalTimedOutEvent{
		ProposalID: proposal.ID,
		OrderID:    proposal.OrderID,
		Provider:   proposal.Provider,
		Deadline:   proposal.Deadline,
	})
	logging.Info("proposal timed out",
		logging.ProposalID(ShortID(proposal.ID)),
		logging.Provider(proposal.Provider.Hex()))
	return nil
}
