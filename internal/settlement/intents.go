package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/logging"
)

// IntentParams carries the provider-supplied terms of a capacity declaration.
type IntentParams struct {
	Currency         string
	Amount           *big.Int
	MinFeeBps        uint64
	MaxFeeBps        uint64
	CommitmentWindow time.Duration
}

// RegisterIntent declares or replaces the caller's settlement capacity.
// Re-registering overwrites the previous intent wholesale, including any
// capacity still reserved against it.
func (e *Engine) RegisterIntent(caller common.Address, params IntentParams) (*ProviderIntent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleProvider, caller); err != nil {
		return nil, err
	}
	p := e.Params()

	if params.Currency == "" {
		return nil, validationf("currency must not be empty")
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, validationf("available amount must be positive")
	}
	if params.MinFeeBps > params.MaxFeeBps {
		return nil, validationf("min fee %d bps exceeds max fee %d bps", params.MinFeeBps, params.MaxFeeBps)
	}
	if params.MaxFeeBps > p.Fees.MaxProviderFeeBps {
		return nil, validationf("max fee %d bps exceeds protocol cap %d bps", params.MaxFeeBps, p.Fees.MaxProviderFeeBps)
	}
	if params.CommitmentWindow <= 0 {
		return nil, validationf("commitment window must be positive")
	}

	_, replaced := e.store.GetIntent(caller)
	now := e.clock.Now()
	intent := &ProviderIntent{
		Provider:         caller,
		Currency:         params.Currency,
		AvailableAmount:  new(big.Int).Set(params.Amount),
		MinFeeBps:        params.MinFeeBps,
		MaxFeeBps:        params.MaxFeeBps,
		RegisteredAt:     now,
		ExpiresAt:        now.Add(p.IntentExpiry),
		CommitmentWindow: params.CommitmentWindow,
		Active:           true,
	}
	e.store.PutIntent(intent)
	e.metrics.SetActiveIntents(e.store.ActiveIntentCount())

	e.events.Publish(IntentRegisteredEvent{
		Provider:         caller,
		Currency:         intent.Currency,
		Amount:           new(big.Int).Set(intent.AvailableAmount),
		MinFeeBps:        intent.MinFeeBps,
		MaxFeeBps:        intent.MaxFeeBps,
		CommitmentWindow: intent.CommitmentWindow,
		ExpiresAt:        intent.ExpiresAt,
		Replaced:         replaced,
	})
	logging.Info("provider intent registered",
		logging.Provider(caller.Hex()),
		"currency", intent.Currency,
		"amount", intent.AvailableAmount.String(),
		"replaced", replaced)
	return intent.Clone(), nil
}

// UpdateIntent replaces the caller's available capacity and refreshes the
// intent's expiry. The fee range and currency are immutable; re-register to
// change them.
func (e *Engine) UpdateIntent(caller common.Address, amount *big.Int) (*ProviderIntent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleProvider, caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, validationf("available amount must be positive")
	}

	intent, ok := e.store.GetIntent(caller)
	if !ok {
		return nil, notFoundf("intent for provider %s", caller.Hex())
	}
	if !intent.Active {
		return nil, conflictf("intent for provider %s is inactive", caller.Hex())
	}

	intent.AvailableAmount = new(big.Int).Set(amount)
	intent.ExpiresAt = e.clock.Now().Add(e.Params().IntentExpiry)
	e.store.PutIntent(intent)

	e.events.Publish(IntentUpdatedEvent{
		Provider:  caller,
		Amount:    new(big.Int).Set(intent.AvailableAmount),
		ExpiresAt: intent.ExpiresAt,
	})
	logging.Info("provider intent updated",
		logging.Provider(caller.Hex()),
		"amount", intent.AvailableAmount.String())
	return intent.Clone(), nil
}

// ExpireIntent deactivates a lapsed intent. Anyone may call it: expiry is a
// fact about the clock, not a privilege. Fails with ErrTooEarly while the
// intent is still live.
func (e *Engine) ExpireIntent(caller, provider common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return err
	}
	intent, ok := e.store.GetIntent(provider)
	if !ok {
		return notFoundf("intent for provider %s", provider.Hex())
	}
	if !intent.Active {
		return conflictf("intent for provider %s already inactive", provider.Hex())
	}
	now := e.clock.Now()
	if now.Before(intent.ExpiresAt) {
		return tooEarlyf("intent for provider %s expires at %s", provider.Hex(), intent.ExpiresAt.Format(time.RFC3339))
	}

	intent.Active = false
	e.store.PutIntent(intent)
	e.metrics.SetActiveIntents(e.store.ActiveIntentCount())

	e.events.Publish(IntentExpiredEvent{Provider: provider, ExpiredAt: now})
	logging.Info("provider intent expired",
		logging.Provider(provider.Hex()),
		logging.Caller(caller.Hex()))
	return nil
}

// ReserveIntent holds capacity against a provider's intent on behalf of the
// platform. Restricted to the aggregator role; the engine reserves internally
// when it admits a proposal.
func (e *Engine) ReserveIntent(caller, provider common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAggregator, caller); err != nil {
		return err
	}
	return e.reserveCapacity(provider, amount)
}

// ReleaseIntent returns previously reserved capacity to a provider's intent.
// Restricted to the aggregator role.
func (e *Engine) ReleaseIntent(caller, provider common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRole(auth.RoleAggregator, caller); err != nil {
		return err
	}
	return e.releaseCapacity(provider, amount, "manual release")
}

// reserveCapacity deducts amount from a provider's available capacity.
// Caller holds the engine mutex.
func (e *Engine) reserveCapacity(provider common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return validationf("reserve amount must be positive")
	}
	intent, ok := e.store.GetIntent(provider)
	if !ok {
		return notFoundf("intent for provider %s", provider.Hex())
	}
	if !intent.Active {
		return conflictf("intent for provider %s is inactive", provider.Hex())
	}
	if e.clock.Now().After(intent.ExpiresAt) {
		return tooLatef("intent for provider %s expired at %s", provider.Hex(), intent.ExpiresAt.Format(time.RFC3339))
	}
	if intent.AvailableAmount.Cmp(amount) < 0 {
		return conflictf("provider %s has %s available, need %s",
			provider.Hex(), intent.AvailableAmount.String(), amount.String())
	}

	intent.AvailableAmount = new(big.Int).Sub(intent.AvailableAmount, amount)
	e.store.PutIntent(intent)
	e.metrics.CapacityReserved(amount)

	e.events.Publish(CapacityReservedEvent{
		Provider:  provider,
		Amount:    new(big.Int).Set(amount),
		Remaining: new(big.Int).Set(intent.AvailableAmount),
	})
	return nil
}

// releaseCapacity adds amount back to a provider's available capacity. It is
// deliberately permissive: the intent may be inactive or expired by the time
// a reservation unwinds, and the capacity still belongs to the provider.
// Caller holds the engine mutex.
func (e *Engine) releaseCapacity(provider common.Address, amount *big.Int, reason string) error {
	if amount == nil || amount.Sign() <= 0 {
		return validationf("release amount must be positive")
	}
	intent, ok := e.store.GetIntent(provider)
	if !ok {
		return notFoundf("intent for provider %s", provider.Hex())
	}

	intent.AvailableAmount = new(big.Int).Add(intent.AvailableAmount, amount)
	e.store.PutIntent(intent)
	e.metrics.CapacityReleased(amount)

	e.events.Publish(CapacityReleasedEvent{
		Provider:  provider,
		Amount:    new(big.Int).Set(amount),
		Remaining: new(big.Int).Set(intent.AvailableAmount),
		Reason:    reason,
	})
	return nil
}
