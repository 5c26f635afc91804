package settlement

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IDGenerator derives the deterministic identifiers for orders and proposals.
// Injected so tests can pin IDs and so the derivation scheme stays auditable
// in one place.
type IDGenerator interface {
	// OrderID derives an order identifier from the requester, the
	// requester's monotonic nonce, and the generator's domain tag.
	OrderID(user common.Address, nonce uint64) common.Hash

	// ProposalID derives a proposal identifier from the order, the
	// provider, and the creation instant.
	ProposalID(orderID common.Hash, provider common.Address, at time.Time) common.Hash
}

// orderDomainTag and proposalDomainTag separate the two keccak preimage
// spaces from each other and from any other protocol hashing.
const (
	orderDomainTag    = "clearmesh/order/v1"
	proposalDomainTag = "clearmesh/proposal/v1"
)

// KeccakIDGenerator derives identifiers with keccak256 over a fixed layout.
// The chain ID is mixed in so identifiers never collide across deployments
// on different chains.
type KeccakIDGenerator struct {
	chainID uint64
}

// NewKeccakIDGenerator creates a generator bound to a chain ID.
func NewKeccakIDGenerator(chainID uint64) *KeccakIDGenerator {
	return &KeccakIDGenerator{chainID: chainID}
}

// OrderID hashes domainTag || chainID || user || nonce.
func (g *KeccakIDGenerator) OrderID(user common.Address, nonce uint64) common.Hash {
	buf := make([]byte, 0, len(orderDomainTag)+8+common.AddressLength+8)
	buf = append(buf, orderDomainTag...)
	buf = binary.BigEndian.AppendUint64(buf, g.chainID)
	buf = append(buf, user.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// ProposalID hashes domainTag || chainID || orderID || provider || unix nanos.
func (g *KeccakIDGenerator) ProposalID(orderID common.Hash, provider common.Address, at time.Time) common.Hash {
	buf := make([]byte, 0, len(proposalDomainTag)+8+common.HashLength+common.AddressLength+8)
	buf = append(buf, proposalDomainTag...)
	buf = binary.BigEndian.AppendUint64(buf, g.chainID)
	buf = append(buf, orderID.Bytes()...)
	buf = append(buf, provider.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(at.UnixNano()))
	return common.BytesToHash(crypto.Keccak256(buf))
}
