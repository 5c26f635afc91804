package settlement

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists the five entity families plus the replay-protection state.
// The engine is the sole mutator; implementations only need to make reads
// and writes individually atomic, since the engine already serializes every
// mutating operation. Put never fails: all validation happens before any
// write, which is what makes multi-entity operations all-or-nothing.
type Store interface {
	PutOrder(order *Order)
	GetOrder(id common.Hash) (*Order, bool)

	PutProposal(proposal *SettlementProposal)
	GetProposal(id common.Hash) (*SettlementProposal, bool)
	ProposalsByOrder(orderID common.Hash) []*SettlementProposal

	PutIntent(intent *ProviderIntent)
	GetIntent(provider common.Address) (*ProviderIntent, bool)
	ActiveIntentCount() int

	PutReputation(rep *ProviderReputation)
	GetReputation(provider common.Address) (*ProviderReputation, bool)

	PutIntegrator(info *IntegratorInfo)
	GetIntegrator(integrator common.Address) (*IntegratorInfo, bool)

	// NextNonce returns the caller's current nonce and advances it.
	NextNonce(caller common.Address) uint64
	// Nonce returns the caller's next unused nonce without advancing it.
	Nonce(caller common.Address) uint64

	// MarkMessageHash records a message hash; it returns false if the hash
	// was already recorded. Hashes are never forgotten.
	MarkMessageHash(hash common.Hash) bool
	HasMessageHash(hash common.Hash) bool
}

// MemoryStore is the in-memory Store implementation. Entities are stored and
// returned by deep copy so callers can never alias engine state.
type MemoryStore struct {
	mu sync.RWMutex

	orders      map[common.Hash]*Order
	proposals   map[common.Hash]*SettlementProposal
	byOrder     map[common.Hash][]common.Hash
	intents     map[common.Address]*ProviderIntent
	reputations map[common.Address]*ProviderReputation
	integrators map[common.Address]*IntegratorInfo
	nonces      map[common.Address]uint64
	usedHashes  map[common.Hash]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[common.Hash]*Order),
		proposals:   make(map[common.Hash]*SettlementProposal),
		byOrder:     make(map[common.Hash][]common.Hash),
		intents:     make(map[common.Address]*ProviderIntent),
		reputations: make(map[common.Address]*ProviderReputation),
		integrators: make(map[common.Address]*IntegratorInfo),
		nonces:      make(map[common.Address]uint64),
		usedHashes:  make(map[common.Hash]bool),
	}
}

func (s *MemoryStore) PutOrder(order *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
}

func (s *MemoryStore) GetOrder(id common.Hash) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return order.Clone(), true
}

func (s *MemoryStore) PutProposal(proposal *SettlementProposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[proposal.ID]; !exists {
		s.byOrder[proposal.OrderID] = append(s.byOrder[proposal.OrderID], proposal.ID)
	}
	s.proposals[proposal.ID] = proposal.Clone()
}

func (s *MemoryStore) GetProposal(id common.Hash) (*SettlementProposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return nil, false
	}
	return proposal.Clone(), true
}

func (s *MemoryStore) ProposalsByOrder(orderID common.Hash) []*SettlementProposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOrder[orderID]
	out := make([]*SettlementProposal, 0, len(ids))
	for _, id := range ids {
		if proposal, ok := s.proposals[id]; ok {
			out = append(out, proposal.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.Before(out[j].ProposedAt) })
	return out
}

func (s *MemoryStore) PutIntent(intent *ProviderIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.Provider] = intent.Clone()
}

func (s *MemoryStore) GetIntent(provider common.Address) (*ProviderIntent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[provider]
	if !ok {
		return nil, false
	}
	return intent.Clone(), true
}

func (s *MemoryStore) ActiveIntentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, intent := range s.intents {
		if intent.Active {
			n++
		}
	}
	return n
}

func (s *MemoryStore) PutReputation(rep *ProviderReputation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reputations[rep.Provider] = rep.Clone()
}

func (s *MemoryStore) GetReputation(provider common.Address) (*ProviderReputation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.reputations[provider]
	if !ok {
		return nil, false
	}
	return rep.Clone(), true
}

func (s *MemoryStore) PutIntegrator(info *IntegratorInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrators[info.Integrator] = info.Clone()
}

func (s *MemoryStore) GetIntegrator(integrator common.Address) (*IntegratorInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.integrators[integrator]
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

func (s *MemoryStore) NextNonce(caller common.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := s.nonces[caller]
	s.nonces[caller] = nonce + 1
	return nonce
}

func (s *MemoryStore) Nonce(caller common.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[caller]
}

func (s *MemoryStore) MarkMessageHash(hash common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usedHashes[hash] {
		return false
	}
	s.usedHashes[hash] = true
	return true
}

func (s *MemoryStore) HasMessageHash(hash common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usedHashes[hash]
}
