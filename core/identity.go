package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// DID is a decentralized identifier of the form "did:icn:<scope>:<address>".
type DID string

// KeyPair is an Ed25519 signing keypair. Ed25519 is used directly from the
// standard library, the same way certenIO's validator signs Accumulate
// protocol envelopes with crypto/ed25519 rather than an external signing
// package — the stdlib primitive is already the ecosystem-idiomatic choice
// here, so no third-party signing library is pulled in for this concern.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, WrapError(KindCodec, "keypair generation failed", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Sign produces a detached signature over msg.
func (kp KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.Private, msg)
}

// VerifySignature checks sig against msg under pub. It is a free function
// rather than a KeyPair method because verification never requires holding
// the private half.
func VerifySignature(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// DeriveAddress maps a public key to a 20-byte Address via Keccak256, kept
// from the teacher's addressing scheme (core/common_structs.go used the same
// low-20-bytes-of-Keccak256 construction for account addresses).
func DeriveAddress(pub ed25519.PublicKey) Address {
	digest := crypto.Keccak256(pub)
	var addr Address
	copy(addr[:], digest[len(digest)-20:])
	return addr
}

// DeriveDID builds the canonical DID string for a public key within a scope.
func DeriveDID(pub ed25519.PublicKey, scope Scope) DID {
	addr := DeriveAddress(pub)
	return DID(fmt.Sprintf("did:icn:%s:%x", scope, addr[:]))
}

// IdentityRecord is a registered identity: its DID, derived address, public
// key, and scope.
type IdentityRecord struct {
	DID        DID
	Address    Address
	PubKey     ed25519.PublicKey
	Scope      Scope
	Registered time.Time
}

// identityBackend is the persistence seam for the identity registry, the
// same shape as the teacher's stateBackend interface in
// identity_verification.go (GetState/SetState/DeleteState), generalized to
// carry IdentityRecord values instead of raw bytes keyed by address.
type identityBackend interface {
	Put(did DID, rec IdentityRecord)
	Get(did DID) (IdentityRecord, bool)
	Delete(did DID)
	All() []IdentityRecord
}

// memIdentityBackend is an in-memory identityBackend. Records are held only
// in memory: nothing writes them to a WAL or anchors their issuance in the
// DAG store.
type memIdentityBackend struct {
	mu   sync.RWMutex
	recs map[DID]IdentityRecord
}

func newMemIdentityBackend() *memIdentityBackend {
	return &memIdentityBackend{recs: make(map[DID]IdentityRecord)}
}

func (b *memIdentityBackend) Put(did DID, rec IdentityRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recs[did] = rec
}

func (b *memIdentityBackend) Get(did DID) (IdentityRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.recs[did]
	return rec, ok
}

func (b *memIdentityBackend) Delete(did DID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.recs, did)
}

func (b *memIdentityBackend) All() []IdentityRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]IdentityRecord, 0, len(b.recs))
	for _, rec := range b.recs {
		out = append(out, rec)
	}
	return out
}

// IdentityRegistry issues and resolves DIDs. Unlike the teacher's
// identity_verification.go, which exposes a package-level singleton
// (InitIdentityService/Identity()), this is an instance so that a test and a
// running node never share global mutable identity state.
type IdentityRegistry struct {
	backend identityBackend
}

// NewIdentityRegistry constructs a registry backed by an in-memory store.
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{backend: newMemIdentityBackend()}
}

// Register issues a DID for pub within scope and records it. Re-registering
// the same public key under the same scope is idempotent and returns the
// existing record's timestamp unchanged.
func (r *IdentityRegistry) Register(pub ed25519.PublicKey, scope Scope) IdentityRecord {
	did := DeriveDID(pub, scope)
	if existing, ok := r.backend.Get(did); ok {
		return existing
	}
	rec := IdentityRecord{
		DID:        did,
		Address:    DeriveAddress(pub),
		PubKey:     pub,
		Scope:      scope,
		Registered: time.Now().UTC(),
	}
	r.backend.Put(did, rec)
	return rec
}

// Resolve looks up a DID's record.
func (r *IdentityRegistry) Resolve(did DID) (IdentityRecord, error) {
	rec, ok := r.backend.Get(did)
	if !ok {
		return IdentityRecord{}, WrapError(KindNotFound, fmt.Sprintf("unknown DID %s", did), ErrNotFound)
	}
	return rec, nil
}

// Revoke removes a DID from the registry; it does not erase history already
// anchored in the DAG.
func (r *IdentityRegistry) Revoke(did DID) {
	r.backend.Delete(did)
}

// List returns every registered identity.
func (r *IdentityRegistry) List() []IdentityRecord {
	return r.backend.All()
}

// ResolveScope answers whether did is authorized to act within scope,
// following the pluggable-scope-resolution requirement: a Guardian-scoped
// identity may additionally act at Federation scope, and any identity may
// act within its own registered scope.
func (r *IdentityRegistry) ResolveScope(did DID, want Scope) bool {
	rec, err := r.Resolve(did)
	if err != nil {
		return false
	}
	if rec.Scope == want {
		return true
	}
	return rec.Scope == ScopeGuardian && want == ScopeFederation
}
