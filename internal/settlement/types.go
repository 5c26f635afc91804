// Package settlement implements the order/proposal/settlement state machine,
// the provider capacity-reservation ledger, and the reputation tracker.
//
// Every mutating operation runs under a single engine-wide mutex, giving the
// same global total order an on-chain execution substrate would: operations
// fully commit or fully abort, one at a time, and each one's outcome depends
// only on the state persisted when it runs. Expiry is lazy: deadlines are
// precondition checks against the injected clock, never background timers.
package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/pkg/types"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderProposed  OrderStatus = "PROPOSED"
	OrderAccepted  OrderStatus = "ACCEPTED"
	OrderFulfilled OrderStatus = "FULFILLED"
	OrderRefunded  OrderStatus = "REFUNDED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the escrowed funds have left the engine.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFulfilled, OrderRefunded, OrderCancelled:
		return true
	default:
		return false
	}
}

// ProposalStatus is the lifecycle state of a settlement proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "PENDING"
	ProposalAccepted  ProposalStatus = "ACCEPTED"
	ProposalRejected  ProposalStatus = "REJECTED"
	ProposalTimeout   ProposalStatus = "TIMEOUT"
	ProposalCancelled ProposalStatus = "CANCELLED"
)

// Order is one user payment request. Funds equal to Amount are escrowed at
// creation and move exactly once, at the transition into a terminal status.
type Order struct {
	ID            common.Hash
	User          common.Address
	Asset         common.Address
	Amount        *big.Int
	Tier          types.OrderTier
	Status        OrderStatus
	RefundAddress common.Address
	CreatedAt     time.Time
	ExpiresAt     time.Time

	// Winning proposal, set on the PROPOSED -> ACCEPTED transition
	AcceptedProposalID *common.Hash
	FulfilledBy        *common.Address

	Integrator       common.Address
	IntegratorFeeBps uint64

	// External replay-binding token, globally unique across all orders
	MessageHash common.Hash
}

// Clone returns a deep copy safe to hand to callers.
func (o *Order) Clone() *Order {
	c := *o
	c.Amount = new(big.Int).Set(o.Amount)
	if o.AcceptedProposalID != nil {
		id := *o.AcceptedProposalID
		c.AcceptedProposalID = &id
	}
	if o.FulfilledBy != nil {
		p := *o.FulfilledBy
		c.FulfilledBy = &p
	}
	return &c
}

// SettlementProposal is one (order, provider) settlement candidate with its
// own deadline, independent of sibling proposals for the same order.
type SettlementProposal struct {
	ID         common.Hash
	OrderID    common.Hash
	Provider   common.Address
	Amount     *big.Int // order amount at issuance time
	FeeBps     uint64   // within the provider's registered range
	ProposedAt time.Time
	Deadline   time.Time
	Status     ProposalStatus
	Executed   bool
}

// Clone returns a deep copy safe to hand to callers.
func (p *SettlementProposal) Clone() *SettlementProposal {
	c := *p
	c.Amount = new(big.Int).Set(p.Amount)
	return &c
}

// ProviderIntent is a provider's standing declaration of liquidity, currency,
// and fee terms. AvailableAmount is mutated only through reserve/release;
// intents are deactivated, never deleted, so the audit history survives.
type ProviderIntent struct {
	Provider         common.Address
	Currency         string
	AvailableAmount  *big.Int
	MinFeeBps        uint64
	MaxFeeBps        uint64
	RegisteredAt     time.Time
	ExpiresAt        time.Time
	CommitmentWindow time.Duration
	Active           bool
}

// Clone returns a deep copy safe to hand to callers.
func (i *ProviderIntent) Clone() *ProviderIntent {
	c := *i
	c.AvailableAmount = new(big.Int).Set(i.AvailableAmount)
	return &c
}

// ProviderReputation accretes per-provider settlement history. Counters only
// grow; the fraud and blacklist flags are one-way.
type ProviderReputation struct {
	Provider            common.Address
	TotalOrders         uint64
	SuccessfulOrders    uint64
	FailedOrders        uint64
	NoShowCount         uint64
	TotalSettlementTime time.Duration
	LastUpdated         time.Time
	Fraudulent          bool
	Blacklisted         bool
}

// Clone returns a copy safe to hand to callers.
func (r *ProviderReputation) Clone() *ProviderReputation {
	c := *r
	return &c
}

// AverageSettlementTime returns the mean time from proposal to settlement.
func (r *ProviderReputation) AverageSettlementTime() time.Duration {
	if r.SuccessfulOrders == 0 {
		return 0
	}
	return r.TotalSettlementTime / time.Duration(r.SuccessfulOrders)
}

// IntegratorInfo is a self-registered record for third-party callers that
// originate orders on behalf of end users.
type IntegratorInfo struct {
	Integrator   common.Address
	Registered   bool
	FeeBps       uint64
	Name         string
	RegisteredAt time.Time
	TotalOrders  uint64
	TotalVolume  *big.Int
}

// Clone returns a deep copy safe to hand to callers.
func (n *IntegratorInfo) Clone() *IntegratorInfo {
	c := *n
	if n.TotalVolume != nil {
		c.TotalVolume = new(big.Int).Set(n.TotalVolume)
	}
	return &c
}

// ShortID renders the first 8 bytes of a hash for log lines.
func ShortID(h common.Hash) string {
	return "0x" + common.Bytes2Hex(h[:8])
}
