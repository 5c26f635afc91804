package settlement

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/logging"
)

// FlagFraudulent sets a provider's one-way fraud flag and deactivates their
// intent so no further proposals can be routed to them. Aggregator-only.
func (e *Engine) FlagFraudulent(caller, provider common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAggregator, caller); err != nil {
		return err
	}

	rep := e.reputationFor(provider)
	if rep.Fraudulent {
		return conflictf("provider %s already flagged", provider.Hex())
	}
	rep.Fraudulent = true
	rep.FailedOrders++
	e.publishReputation(rep)
	e.deactivateIntent(provider)

	e.events.Publish(ProviderFlaggedEvent{Provider: provider})
	logging.Warn("provider flagged fraudulent",
		logging.Provider(provider.Hex()),
		logging.Caller(caller.Hex()))
	return nil
}

// BlacklistProvider sets a provider's one-way blacklist flag, deactivates
// their intent, and propagates the blacklist into the authorization oracle so
// every subsequent entry point rejects them. Admin-only.
func (e *Engine) BlacklistProvider(caller, provider common.Address, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAdmin, caller); err != nil {
		return err
	}

	rep := e.reputationFor(provider)
	if rep.Blacklisted {
		return conflictf("provider %s already blacklisted", provider.Hex())
	}
	rep.Blacklisted = true
	e.publishReputation(rep)
	e.deactivateIntent(provider)

	if e.blsink != nil {
		e.blsink.Blacklist(provider, reason)
	}

	e.events.Publish(ProviderBlacklistedEvent{Provider: provider, Reason: reason})
	logging.Warn("provider blacklisted",
		logging.Provider(provider.Hex()),
		logging.Caller(caller.Hex()),
		"reason", reason)
	return nil
}

// deactivateIntent turns off a provider's intent if they have one. Caller
// holds the engine mutex.
func (e *Engine) deactivateIntent(provider common.Address) {
	intent, ok := e.store.GetIntent(provider)
	if !ok || !intent.Active {
		return
	}
	intent.Active = false
	e.store.PutIntent(intent)
	e.metrics.SetActiveIntents(e.store.ActiveIntentCount())
}
