package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/logging"
)

// RegisterIntegrator is the self-service registration for third-party callers
// that originate orders on behalf of end users. Registration is once per
// address; use the update operations to change terms afterwards.
func (e *Engine) RegisterIntegrator(caller common.Address, feeBps uint64, name string) (*IntegratorInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return nil, err
	}
	p := e.Params()
	if err := validateIntegratorFee(feeBps, p); err != nil {
		return nil, err
	}
	if err := validateIntegratorName(name, p); err != nil {
		return nil, err
	}
	if info, ok := e.store.GetIntegrator(caller); ok && info.Registered {
		return nil, conflictf("integrator %s already registered", caller.Hex())
	}

	info := &IntegratorInfo{
		Integrator:   caller,
		Registered:   true,
		FeeBps:       feeBps,
		Name:         name,
		RegisteredAt: e.clock.Now(),
		TotalVolume:  new(big.Int),
	}
	e.store.PutIntegrator(info)

	e.events.Publish(IntegratorRegisteredEvent{Integrator: caller, FeeBps: feeBps, Name: name})
	logging.Info("integrator registered",
		logging.Caller(caller.Hex()),
		"name", name,
		"fee_bps", feeBps)
	return info.Clone(), nil
}

// UpdateIntegratorFee changes the caller's registered fee within the
// configured bounds.
func (e *Engine) UpdateIntegratorFee(caller common.Address, feeBps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return err
	}
	if err := validateIntegratorFee(feeBps, e.Params()); err != nil {
		return err
	}
	info, ok := e.store.GetIntegrator(caller)
	if !ok || !info.Registered {
		return notFoundf("integrator %s", caller.Hex())
	}

	info.FeeBps = feeBps
	e.store.PutIntegrator(info)

	e.events.Publish(IntegratorFeeUpdatedEvent{Integrator: caller, FeeBps: feeBps})
	return nil
}

// UpdateIntegratorName changes the caller's registered display name.
func (e *Engine) UpdateIntegratorName(caller common.Address, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return err
	}
	if err := validateIntegratorName(name, e.Params()); err != nil {
		return err
	}
	info, ok := e.store.GetIntegrator(caller)
	if !ok || !info.Registered {
		return notFoundf("integrator %s", caller.Hex())
	}

	info.Name = name
	e.store.PutIntegrator(info)

	e.events.Publish(IntegratorNameUpdatedEvent{Integrator: caller, Name: name})
	return nil
}

func validateIntegratorFee(feeBps uint64, p Params) error {
	if feeBps < p.Fees.IntegratorMinBps || feeBps > p.Fees.IntegratorMaxBps {
		return validationf("integrator fee %d bps outside allowed range [%d, %d]",
			feeBps, p.Fees.IntegratorMinBps, p.Fees.IntegratorMaxBps)
	}
	return nil
}

func validateIntegratorName(name string, p Params) error {
	if name == "" {
		return validationf("integrator name must not be empty")
	}
	if len(name) > p.Fees.MaxNameLength {
		return validationf("integrator name exceeds %d bytes", p.Fees.MaxNameLength)
	}
	return nil
}
