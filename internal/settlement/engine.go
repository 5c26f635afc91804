package settlement

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/config"
	"github.com/clearmesh/clearmesh/internal/ledger"
	"github.com/clearmesh/clearmesh/pkg/types"
)

// Metrics receives engine-side measurements. The concrete collector lives in
// internal/metrics; the engine only needs this surface.
type Metrics interface {
	OrderCreated(tier types.OrderTier)
	OrderFulfilled(latency time.Duration)
	OrderRefunded(cancelled bool)
	ProposalCreated()
	ProposalAccepted()
	ProposalRejected()
	ProposalTimedOut()
	CapacityReserved(amount *big.Int)
	CapacityReleased(amount *big.Int)
	SetActiveIntents(n int)
}

type noopMetrics struct{}

func (noopMetrics) OrderCreated(types.OrderTier)      {}
func (noopMetrics) OrderFulfilled(time.Duration)      {}
func (noopMetrics) OrderRefunded(bool)                {}
func (noopMetrics) ProposalCreated()                  {}
func (noopMetrics) ProposalAccepted()                 {}
func (noopMetrics) ProposalRejected()                 {}
func (noopMetrics) ProposalTimedOut()                 {}
func (noopMetrics) CapacityReserved(*big.Int)         {}
func (noopMetrics) CapacityReleased(*big.Int)         {}
func (noopMetrics) SetActiveIntents(int)              {}

// Params are the protocol parameters the engine reads on every operation.
// Derived from config; swapped atomically on hot reload.
type Params struct {
	Fees  types.FeeConfig
	Tiers types.TierSchedule

	OrderExpiry     time.Duration
	ProposalTimeout time.Duration
	IntentExpiry    time.Duration

	Treasury   common.Address
	Aggregator common.Address

	Assets map[common.Address]bool
}

// ParamsFromConfig converts validated protocol configuration into engine
// parameters.
func ParamsFromConfig(p config.ProtocolConfig) (Params, error) {
	if err := p.Validate(); err != nil {
		return Params{}, fmt.Errorf("invalid protocol config: %w", err)
	}

	assets := make(map[common.Address]bool, len(p.SupportedAssets))
	for _, raw := range p.SupportedAssets {
		assets[common.HexToAddress(raw)] = true
	}

	return Params{
		Fees:            p.Fees,
		Tiers:           p.Tiers,
		OrderExpiry:     time.Duration(p.OrderExpirySecs) * time.Second,
		ProposalTimeout: time.Duration(p.ProposalTimeout) * time.Second,
		IntentExpiry:    time.Duration(p.IntentExpirySecs) * time.Second,
		Treasury:        common.HexToAddress(p.TreasuryAddress),
		Aggregator:      common.HexToAddress(p.AggregatorAddress),
		Assets:          assets,
	}, nil
}

// Deps wires the engine's collaborators. Store, Ledger, and Authz are
// required; the rest default to production implementations or no-ops.
type Deps struct {
	Store  Store
	Ledger ledger.Ledger
	Authz  auth.Authorizer

	// Blacklist propagates admin blacklisting into the authorization
	// oracle so every subsequent entry-point check sees it. Optional.
	Blacklist interface {
		Blacklist(caller common.Address, reason string)
	}

	Params  Params
	Clock   Clock
	IDs     IDGenerator
	Events  Sink
	Metrics Metrics
}

// Engine orchestrates order creation, proposal racing, settlement execution,
// refunds, and the capacity and reputation ledgers. One mutex serializes all
// mutating operations; read accessors go straight to the store.
type Engine struct {
	mu sync.Mutex

	store   Store
	ledger  ledger.Ledger
	authz   auth.Authorizer
	blsink  interface{ Blacklist(common.Address, string) }
	clock   Clock
	ids     IDGenerator
	events  Sink
	metrics Metrics

	paramsMu sync.RWMutex
	params   Params
}

// NewEngine creates an engine from its dependencies.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("settlement engine requires a store")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("settlement engine requires a ledger")
	}
	if deps.Authz == nil {
		return nil, fmt.Errorf("settlement engine requires an authorizer")
	}

	e := &Engine{
		store:   deps.Store,
		ledger:  deps.Ledger,
		authz:   deps.Authz,
		blsink:  deps.Blacklist,
		clock:   deps.Clock,
		ids:     deps.IDs,
		events:  deps.Events,
		metrics: deps.Metrics,
		params:  deps.Params,
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.ids == nil {
		e.ids = NewKeccakIDGenerator(0)
	}
	if e.events == nil {
		e.events = noopSink{}
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	return e, nil
}

// Params returns the current protocol parameters.
func (e *Engine) Params() Params {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// SetParams swaps the protocol parameters, e.g. after a config hot reload.
// In-flight entities keep the deadlines they were created with.
func (e *Engine) SetParams(p Params) {
	e.paramsMu.Lock()
	defer e.paramsMu.Unlock()
	e.params = p
}

// guard enforces the preconditions shared by every mutating entry point:
// the system is not locked and the caller is not blacklisted.
func (e *Engine) guard(caller common.Address) error {
	if e.authz.IsLocked() {
		return unauthorizedf("system is locked")
	}
	if e.authz.IsBlacklisted(caller) {
		return unauthorizedf("caller %s is blacklisted", caller.Hex())
	}
	return nil
}

// requireRole enforces a role on top of the shared guard.
func (e *Engine) requireRole(role auth.Role, caller common.Address) error {
	if err := e.guard(caller); err != nil {
		return err
	}
	if !e.authz.HasRole(role, caller) {
		return unauthorizedf("caller %s lacks role %s", caller.Hex(), role)
	}
	return nil
}

// ─── Read accessors ──────────────────────────────────────────────────────────

// GetOrder returns the order with the given identifier.
func (e *Engine) GetOrder(id common.Hash) (*Order, error) {
	order, ok := e.store.GetOrder(id)
	if !ok {
		return nil, notFoundf("order %s", ShortID(id))
	}
	return order, nil
}

// GetProposal returns the proposal with the given identifier.
func (e *Engine) GetProposal(id common.Hash) (*SettlementProposal, error) {
	proposal, ok := e.store.GetProposal(id)
	if !ok {
		return nil, notFoundf("proposal %s", ShortID(id))
	}
	return proposal, nil
}

// ProposalsForOrder returns every proposal issued against an order, oldest
// first.
func (e *Engine) ProposalsForOrder(orderID common.Hash) []*SettlementProposal {
	return e.store.ProposalsByOrder(orderID)
}

// GetIntent returns a provider's intent record.
func (e *Engine) GetIntent(provider common.Address) (*ProviderIntent, error) {
	intent, ok := e.store.GetIntent(provider)
	if !ok {
		return nil, notFoundf("intent for provider %s", provider.Hex())
	}
	return intent, nil
}

// GetReputation returns a provider's reputation record.
func (e *Engine) GetReputation(provider common.Address) (*ProviderReputation, error) {
	rep, ok := e.store.GetReputation(provider)
	if !ok {
		return nil, notFoundf("reputation for provider %s", provider.Hex())
	}
	return rep, nil
}

// GetIntegrator returns an integrator record.
func (e *Engine) GetIntegrator(integrator common.Address) (*IntegratorInfo, error) {
	info, ok := e.store.GetIntegrator(integrator)
	if !ok {
		return nil, notFoundf("integrator %s", integrator.Hex())
	}
	return info, nil
}

// Nonce returns the next unused order nonce for a caller, for clients that
// precompute order identifiers.
func (e *Engine) Nonce(caller common.Address) uint64 {
	return e.store.Nonce(caller)
}

// reputationFor loads or initializes a provider's reputation record.
// Callers mutate the copy and Put it back.
func (e *Engine) reputationFor(provider common.Address) *ProviderReputation {
	rep, ok := e.store.GetReputation(provider)
	if !ok {
		rep = &ProviderReputation{Provider: provider}
	}
	return rep
}

// publishReputation writes a reputation record and emits the update event.
func (e *Engine) publishReputation(rep *ProviderReputation) {
	rep.LastUpdated = e.clock.Now()
	e.store.PutReputation(rep)
	e.events.Publish(ReputationUpdatedEvent{
		Provider:         rep.Provider,
		TotalOrders:      rep.TotalOrders,
		SuccessfulOrders: rep.SuccessfulOrders,
		FailedOrders:     rep.FailedOrders,
		NoShowCount:      rep.NoShowCount,
	})
}
