// Package auth implements the authorization oracle consumed by the
// settlement engine: role membership, blacklisting, and the system-wide
// lock. The engine depends only on the Authorizer interface so tests and
// alternative role registries can be swapped in freely.
package auth

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/logging"
)

// Role is a capability class granted to a caller.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleOperator        Role = "operator"
	RoleAggregator      Role = "aggregator"
	RoleProvider        Role = "provider"
	RolePlatformService Role = "platform_service"
)

// IsValid checks if the role is one of the defined capability classes.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleAggregator, RoleProvider, RolePlatformService:
		return true
	default:
		return false
	}
}

// Authorizer answers the three questions the settlement engine asks before
// any mutating operation: does the caller hold a role, is the caller
// blacklisted, and is the system locked.
type Authorizer interface {
	HasRole(role Role, caller common.Address) bool
	IsBlacklisted(caller common.Address) bool
	IsLocked() bool
}

// BlacklistEntry records why and when a caller was blacklisted.
type BlacklistEntry struct {
	Reason string
	At     time.Time
}

// Registry is an in-memory Authorizer with administrative mutators.
type Registry struct {
	mu        sync.RWMutex
	roles     map[Role]map[common.Address]bool
	blacklist map[common.Address]BlacklistEntry
	locked    bool
}

// NewRegistry creates an empty role registry.
func NewRegistry() *Registry {
	return &Registry{
		roles:     make(map[Role]map[common.Address]bool),
		blacklist: make(map[common.Address]BlacklistEntry),
	}
}

// Grant adds a role to a caller.
func (r *Registry) Grant(role Role, caller common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.roles[role]
	if !ok {
		members = make(map[common.Address]bool)
		r.roles[role] = members
	}
	members[caller] = true
	logging.Info("role granted", "role", string(role), logging.Caller(caller.Hex()))
}

// Revoke removes a role from a caller.
func (r *Registry) Revoke(role Role, caller common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.roles[role]; ok {
		delete(members, caller)
	}
	logging.Info("role revoked", "role", string(role), logging.Caller(caller.Hex()))
}

// HasRole reports whether the caller holds the role.
func (r *Registry) HasRole(role Role, caller common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[role][caller]
}

// Blacklist marks a caller as blacklisted with a reason.
func (r *Registry) Blacklist(caller common.Address, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[caller] = BlacklistEntry{Reason: reason, At: time.Now()}
	logging.Warn("caller blacklisted", logging.Caller(caller.Hex()), "reason", reason)
}

// Unblacklist removes a caller from the blacklist. Administrative resets are
// outside the settlement core's scope but the registry supports them.
func (r *Registry) Unblacklist(caller common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blacklist, caller)
}

// IsBlacklisted reports whether the caller is blacklisted.
func (r *Registry) IsBlacklisted(caller common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blacklist[caller]
	return ok
}

// BlacklistReason returns the recorded blacklist entry for a caller.
func (r *Registry) BlacklistReason(caller common.Address) (BlacklistEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.blacklist[caller]
	return entry, ok
}

// Lock engages the system-wide emergency lock. Every mutating engine
// operation is rejected while locked.
func (r *Registry) Lock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = true
	logging.Warn("system locked")
}

// Unlock releases the system-wide lock.
func (r *Registry) Unlock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = false
	logging.Info("system unlocked")
}

// IsLocked reports whether the system-wide lock is engaged.
func (r *Registry) IsLocked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked
}
