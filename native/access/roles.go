package access

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
)

// Role is a capability held by a principal.
type Role uint8

const (
	// RoleAdmin manages roles, the pause gate, pool funding and the listing fee.
	RoleAdmin Role = 1 << iota
	// RoleUpdater is the activity reporter: it opens and closes positions and
	// reports distributor scores.
	RoleUpdater
	// RoleListing is listing governance.
	RoleListing
)

var roleNames = map[Role]string{
	RoleAdmin:   "admin",
	RoleUpdater: "updater",
	RoleListing: "listing",
}

// AllRoles lists every defined role in a stable order.
func AllRoles() []Role { return []Role{RoleAdmin, RoleUpdater, RoleListing} }

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole resolves a role name.
func ParseRole(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for role, candidate := range roleNames {
		if candidate == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("access: unknown role %q", name)
}

// Assignment is the persisted role set of one principal.
type Assignment struct {
	Principal common.Address
	Roles     uint8
}

// Registry maps principals to role sets.
type Registry struct {
	mu      sync.RWMutex
	roles   map[common.Address]Role
	emitter events.Emitter
}

// NewRegistry seeds the registry with genesis holders. At least one admin is
// required so the registry can never start ungovernable.
func NewRegistry(genesis map[Role][]common.Address) (*Registry, error) {
	r := &Registry{roles: make(map[common.Address]Role), emitter: events.NoopEmitter{}}
	for role, holders := range genesis {
		if _, ok := roleNames[role]; !ok {
			return nil, fmt.Errorf("access: unknown role %d", uint8(role))
		}
		for _, holder := range holders {
			r.roles[holder] |= role
		}
	}
	if r.countLocked(RoleAdmin) == 0 {
		return nil, fmt.Errorf("access: at least one admin required")
	}
	return r, nil
}

// SetEmitter overrides the event emitter.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// HasRole reports whether principal holds role.
func (r *Registry) HasRole(principal common.Address, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[principal]&role != 0
}

// Require returns ErrUnauthorized unless principal holds role.
func (r *Registry) Require(principal common.Address, role Role) error {
	if !r.HasRole(principal, role) {
		return fmt.Errorf("%w: %s lacks %s", coreerrors.ErrUnauthorized, principal.Hex(), role)
	}
	return nil
}

// Grant gives role to principal. The actor must be an admin.
func (r *Registry) Grant(actor, principal common.Address, role Role) error {
	if _, ok := roleNames[role]; !ok {
		return fmt.Errorf("access: unknown role %d", uint8(role))
	}
	r.mu.Lock()
	if r.roles[actor]&RoleAdmin == 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s lacks %s", coreerrors.ErrUnauthorized, actor.Hex(), RoleAdmin)
	}
	r.roles[principal] |= role
	emitter := r.emitter
	r.mu.Unlock()

	emitter.Emit(events.RoleChanged{Actor: actor, Principal: principal, Role: role.String(), Granted: true})
	return nil
}

// Revoke removes role from principal. Removing the last admin is refused.
func (r *Registry) Revoke(actor, principal common.Address, role Role) error {
	if _, ok := roleNames[role]; !ok {
		return fmt.Errorf("access: unknown role %d", uint8(role))
	}
	r.mu.Lock()
	if r.roles[actor]&RoleAdmin == 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s lacks %s", coreerrors.ErrUnauthorized, actor.Hex(), RoleAdmin)
	}
	if role == RoleAdmin && r.roles[principal]&RoleAdmin != 0 && r.countLocked(RoleAdmin) == 1 {
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot revoke the last admin", coreerrors.ErrUnauthorized)
	}
	r.roles[principal] &^= role
	if r.roles[principal] == 0 {
		delete(r.roles, principal)
	}
	emitter := r.emitter
	r.mu.Unlock()

	emitter.Emit(events.RoleChanged{Actor: actor, Principal: principal, Role: role.String(), Granted: false})
	return nil
}

// Members lists the holders of role sorted by address.
func (r *Registry) Members(role Role) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []common.Address
	for principal, set := range r.roles {
		if set&role != 0 {
			out = append(out, principal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Snapshot returns every assignment sorted by address.
func (r *Registry) Snapshot() []Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Assignment, 0, len(r.roles))
	for principal, set := range r.roles {
		out = append(out, Assignment{Principal: principal, Roles: uint8(set)})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Principal[:], out[j].Principal[:]) < 0 })
	return out
}

// Restore replaces every assignment. The restored set must keep an admin.
func (r *Registry) Restore(assignments []Assignment) error {
	roles := make(map[common.Address]Role, len(assignments))
	admins := 0
	for _, a := range assignments {
		if a.Roles == 0 {
			continue
		}
		roles[a.Principal] = Role(a.Roles)
		if Role(a.Roles)&RoleAdmin != 0 {
			admins++
		}
	}
	if admins == 0 {
		return fmt.Errorf("access: restored registry has no admin")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = roles
	return nil
}

func (r *Registry) countLocked(role Role) int {
	count := 0
	for _, set := range r.roles {
		if set&role != 0 {
			count++
		}
	}
	return count
}
