package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a notification of one completed state transition. Each payload
// carries every field needed to reconstruct the transition, since off-chain
// indexers have no query interface beyond point lookups.
type Event interface {
	EventType() string
}

// Sink receives events after the transition they describe has committed.
type Sink interface {
	Publish(event Event)
}

// noopSink drops events; the engine default when no sink is wired.
type noopSink struct{}

func (noopSink) Publish(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// ─── Capacity events ─────────────────────────────────────────────────────────

type IntentRegisteredEvent struct {
	Provider         common.Address `json:"provider"`
	Currency         string         `json:"currency"`
	Amount           *big.Int       `json:"amount"`
	MinFeeBps        uint64         `json:"min_fee_bps"`
	MaxFeeBps        uint64         `json:"max_fee_bps"`
	CommitmentWindow time.Duration  `json:"commitment_window"`
	ExpiresAt        time.Time      `json:"expires_at"`
	Replaced         bool           `json:"replaced"`
}

func (IntentRegisteredEvent) EventType() string { return "intent.registered" }

type IntentUpdatedEvent struct {
	Provider  common.Address `json:"provider"`
	Amount    *big.Int       `json:"amount"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (IntentUpdatedEvent) EventType() string { return "intent.updated" }

type IntentExpiredEvent struct {
	Provider  common.Address `json:"provider"`
	ExpiredAt time.Time      `json:"expired_at"`
}

func (IntentExpiredEvent) EventType() string { return "intent.expired" }

type CapacityReservedEvent struct {
	Provider  common.Address `json:"provider"`
	Amount    *big.Int       `json:"amount"`
	Remaining *big.Int       `json:"remaining"`
}

func (CapacityReservedEvent) EventType() string { return "intent.reserved" }

type CapacityReleasedEvent struct {
	Provider  common.Address `json:"provider"`
	Amount    *big.Int       `json:"amount"`
	Remaining *big.Int       `json:"remaining"`
	Reason    string         `json:"reason"`
}

func (CapacityReleasedEvent) EventType() string { return "intent.released" }

// ─── Order events ────────────────────────────────────────────────────────────

type OrderCreatedEvent struct {
	OrderID          common.Hash    `json:"order_id"`
	User             common.Address `json:"user"`
	Asset            common.Address `json:"asset"`
	Amount           *big.Int       `json:"amount"`
	Tier             uint8          `json:"tier"`
	RefundAddress    common.Address `json:"refund_address"`
	Integrator       common.Address `json:"integrator"`
	IntegratorFeeBps uint64         `json:"integrator_fee_bps"`
	MessageHash      common.Hash    `json:"message_hash"`
	ExpiresAt        time.Time      `json:"expires_at"`
}

func (OrderCreatedEvent) EventType() string { return "order.created" }

type OrderRefundedEvent struct {
	OrderID       common.Hash    `json:"order_id"`
	RefundAddress common.Address `json:"refund_address"`
	Amount        *big.Int       `json:"amount"`
	// Status distinguishes the router path (REFUNDED) from the
	// owner-initiated path (CANCELLED) for downstream analytics.
	Status OrderStatus `json:"status"`
}

func (OrderRefundedEvent) EventType() string { return "order.refunded" }

// ─── Proposal events ─────────────────────────────────────────────────────────

type ProposalCreatedEvent struct {
	ProposalID common.Hash    `json:"proposal_id"`
	OrderID    common.Hash    `json:"order_id"`
	Provider   common.Address `json:"provider"`
	Amount     *big.Int       `json:"amount"`
	FeeBps     uint64         `json:"fee_bps"`
	Deadline   time.Time      `json:"deadline"`
}

func (ProposalCreatedEvent) EventType() string { return "proposal.created" }

type ProposalAcceptedEvent struct {
	ProposalID common.Hash    `json:"proposal_id"`
	OrderID    common.Hash    `json:"order_id"`
	Provider   common.Address `json:"provider"`
	AcceptedAt time.Time      `json:"accepted_at"`
}

func (ProposalAcceptedEvent) EventType() string { return "proposal.accepted" }

type ProposalRejectedEvent struct {
	ProposalID common.Hash    `json:"proposal_id"`
	OrderID    common.Hash    `json:"order_id"`
	Provider   common.Address `json:"provider"`
	Reason     string         `json:"reason"`
}

func (ProposalRejectedEvent) EventType() string { return "proposal.rejected" }

type ProposalTimedOutEvent struct {
	ProposalID common.Hash    `json:"proposal_id"`
	OrderID    common.Hash    `json:"order_id"`
	Provider   common.Address `json:"provider"`
	Deadline   time.Time      `json:"deadline"`
}

func (ProposalTimedOutEvent) EventType() string { return "proposal.timeout" }

// ─── Settlement events ───────────────────────────────────────────────────────

type SettlementExecutedEvent struct {
	ProposalID     common.Hash    `json:"proposal_id"`
	OrderID        common.Hash    `json:"order_id"`
	Provider       common.Address `json:"provider"`
	Amount         *big.Int       `json:"amount"`
	ProtocolFee    *big.Int       `json:"protocol_fee"`
	IntegratorFee  *big.Int       `json:"integrator_fee"`
	ProviderAmount *big.Int       `json:"provider_amount"`
	SettledAt      time.Time      `json:"settled_at"`
}

func (SettlementExecutedEvent) EventType() string { return "settlement.executed" }

// ─── Reputation events ───────────────────────────────────────────────────────

type ReputationUpdatedEvent struct {
	Provider         common.Address `json:"provider"`
	TotalOrders      uint64         `json:"total_orders"`
	SuccessfulOrders uint64         `json:"successful_orders"`
	FailedOrders     uint64         `json:"failed_orders"`
	NoShowCount      uint64         `json:"no_show_count"`
}

func (ReputationUpdatedEvent) EventType() string { return "reputation.updated" }

type ProviderFlaggedEvent struct {
	Provider common.Address `json:"provider"`
}

func (ProviderFlaggedEvent) EventType() string { return "provider.fraud_flagged" }

type ProviderBlacklistedEvent struct {
	Provider common.Address `json:"provider"`
	Reason   string         `json:"reason"`
}

func (ProviderBlacklistedEvent) EventType() string { return "provider.blacklisted" }

// ─── Integrator events ───────────────────────────────────────────────────────

type IntegratorRegisteredEvent struct {
	Integrator common.Address `json:"integrator"`
	FeeBps     uint64         `json:"fee_bps"`
	Name       string         `json:"name"`
}

func (IntegratorRegisteredEvent) EventType() string { return "integrator.registered" }

type IntegratorFeeUpdatedEvent struct {
	Integrator common.Address `json:"integrator"`
	FeeBps     uint64         `json:"fee_bps"`
}

func (IntegratorFeeUpdatedEvent) EventType() string { return "integrator.fee_updated" }

type IntegratorNameUpdatedEvent struct {
	Integrator common.Address `json:"integrator"`
	Name       string         `json:"name"`
}

func (IntegratorNameUpdatedEvent) EventType() string { return "integrator.name_updated" }
