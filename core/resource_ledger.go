package core

import (
	"fmt"
	"sync"
)

// ResourceAuthorization is the limit and running usage for one entity/
// resource-type pair. Overflow is denied rather than clamped: a Record call
// that would push Used past Limit leaves Used unchanged and returns
// KindResourceLimit.
type ResourceAuthorization struct {
	Entity DID
	Type   ResourceType
	Limit  uint64
	Used   uint64
}

// Remaining returns the unused portion of the authorization.
func (a ResourceAuthorization) Remaining() uint64 {
	if a.Used >= a.Limit {
		return 0
	}
	return a.Limit - a.Used
}

// defaultLimits mirrors the teacher's GasMeter defaults (core/virtual_machine.go
// seeds every execution with a fixed gas budget unless overridden); here each
// scope gets a starting authorization per resource type instead of a single
// gas number, generalizing the same "every execution starts metered" idea.
var defaultLimits = map[Scope]map[ResourceType]uint64{
	ScopeIndividual:  {ResourceCompute: 1_000_000, ResourceStorage: 1 << 20, ResourceNetwork: 1 << 20, ResourceCommunityCredits: 0},
	ScopeCooperative: {ResourceCompute: 10_000_000, ResourceStorage: 1 << 24, ResourceNetwork: 1 << 24, ResourceCommunityCredits: 1_000},
	ScopeCommunity:   {ResourceCompute: 10_000_000, ResourceStorage: 1 << 24, ResourceNetwork: 1 << 24, ResourceCommunityCredits: 10_000},
	ScopeFederation:  {ResourceCompute: 100_000_000, ResourceStorage: 1 << 28, ResourceNetwork: 1 << 28, ResourceCommunityCredits: 100_000},
	ScopeNode:        {ResourceCompute: 100_000_000, ResourceStorage: 1 << 28, ResourceNetwork: 1 << 28, ResourceCommunityCredits: 0},
	ScopeGuardian:    {ResourceCompute: 100_000_000, ResourceStorage: 1 << 28, ResourceNetwork: 1 << 28, ResourceCommunityCredits: 0},
}

// DeriveDefaults builds the starting ResourceAuthorization set for a
// newly-registered entity based on its scope.
func DeriveDefaults(entity DID, scope Scope) []ResourceAuthorization {
	limits, ok := defaultLimits[scope]
	if !ok {
		limits = defaultLimits[ScopeIndividual]
	}
	out := make([]ResourceAuthorization, 0, len(limits))
	for rt, limit := range limits {
		out = append(out, ResourceAuthorization{Entity: entity, Type: rt, Limit: limit})
	}
	return out
}

// ResourceLedger tracks authorization and consumption per entity/resource
// type; the execution engine's gas meter checks and records against it.
type ResourceLedger struct {
	mu    sync.Mutex
	auths map[DID]map[ResourceType]*ResourceAuthorization
}

// NewResourceLedger builds an empty ledger.
func NewResourceLedger() *ResourceLedger {
	return &ResourceLedger{auths: make(map[DID]map[ResourceType]*ResourceAuthorization)}
}

// Authorize installs or replaces an entity's authorizations, e.g. at
// registration time using DeriveDefaults, or when governance raises a
// cooperative's community-credit ceiling.
func (l *ResourceLedger) Authorize(auths ...ResourceAuthorization) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range auths {
		byType, ok := l.auths[a.Entity]
		if !ok {
			byType = make(map[ResourceType]*ResourceAuthorization)
			l.auths[a.Entity] = byType
		}
		cp := a
		byType[a.Type] = &cp
	}
}

// Check reports whether amount of resource type rt is currently available
// for entity, without reserving it.
func (l *ResourceLedger) Check(entity DID, rt ResourceType, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	auth, err := l.lookup(entity, rt)
	if err != nil {
		return err
	}
	if amount > auth.Remaining() {
		return WrapError(KindResourceLimit, fmt.Sprintf("entity %s: requested %d %s exceeds remaining %d", entity, amount, rt, auth.Remaining()), ErrResourceExhausted)
	}
	return nil
}

// Record performs an atomic check-then-record reservation: it denies and
// leaves state untouched if amount would overflow the remaining budget,
// otherwise it commits the usage in the same critical section.
func (l *ResourceLedger) Record(entity DID, rt ResourceType, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	auth, err := l.lookup(entity, rt)
	if err != nil {
		return err
	}
	if amount > auth.Remaining() {
		return WrapError(KindResourceLimit, fmt.Sprintf("entity %s: requested %d %s exceeds remaining %d", entity, amount, rt, auth.Remaining()), ErrResourceExhausted)
	}
	auth.Used += amount
	return nil
}

// Release returns previously recorded usage, e.g. when an execution fails
// before completing and the reservation must be given back.
func (l *ResourceLedger) Release(entity DID, rt ResourceType, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	auth, err := l.lookup(entity, rt)
	if err != nil {
		return err
	}
	if amount > auth.Used {
		auth.Used = 0
		return nil
	}
	auth.Used -= amount
	return nil
}

// Snapshot returns the current authorization set for entity.
func (l *ResourceLedger) Snapshot(entity DID) []ResourceAuthorization {
	l.mu.Lock()
	defer l.mu.Unlock()
	byType, ok := l.auths[entity]
	if !ok {
		return nil
	}
	out := make([]ResourceAuthorization, 0, len(byType))
	for _, a := range byType {
		out = append(out, *a)
	}
	return out
}

func (l *ResourceLedger) lookup(entity DID, rt ResourceType) (*ResourceAuthorization, error) {
	byType, ok := l.auths[entity]
	if !ok {
		return nil, WrapError(KindNotFound, fmt.Sprintf("entity %s has no resource authorizations", entity), ErrNotFound)
	}
	auth, ok := byType[rt]
	if !ok {
		return nil, WrapError(KindNotFound, fmt.Sprintf("entity %s has no %s authorization", entity, rt), ErrNotFound)
	}
	return auth, nil
}
