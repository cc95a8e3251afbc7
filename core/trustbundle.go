package core

import (
	"crypto/ed25519"
	"fmt"
	"sync"
)

// GuardianSet is the authorized guardian roster effective for one epoch.
type GuardianSet struct {
	Epoch     uint64
	Guardians []DID
	PubKeys   map[DID]ed25519.PublicKey
}

// TrustBundle is the sealed, epoch-scoped artifact that certifies a DAG
// anchor as the agreed-upon state of the federation at that epoch. Once
// assembled and signed it is treated as immutable — the same "becomes
// immutable once sealed" property the original federation-lifecycle bundle
// design used, though this runtime's bundle is the single-epoch artifact
// the data model calls for rather than that design's mergeable pre-merge
// bundles (merge/split is out of scope here).
type TrustBundle struct {
	Epoch       uint64
	GuardianCID CID // CID of the GuardianSet this bundle was signed against
	AnchorCID   CID // DAG node this bundle certifies as the epoch's head
	Proof       QuorumProof
}

// AssembleBundle builds an unsigned bundle for the given epoch and anchor.
// Callers attach signatures with SignWith until quorum is reached, then
// consider it sealed.
func AssembleBundle(epoch uint64, guardianCID, anchorCID CID, cfg QuorumConfig) TrustBundle {
	return TrustBundle{
		Epoch:       epoch,
		GuardianCID: guardianCID,
		AnchorCID:   anchorCID,
		Proof:       QuorumProof{Config: cfg},
	}
}

// SigningBytes is the canonical encoding every guardian signs over.
func (b TrustBundle) SigningBytes() ([]byte, error) {
	type signed struct {
		Epoch       uint64
		GuardianCID CID
		AnchorCID   CID
	}
	return Canonical(signed{Epoch: b.Epoch, GuardianCID: b.GuardianCID, AnchorCID: b.AnchorCID})
}

// SignWith adds signer's signature over the bundle's signing bytes.
func (b *TrustBundle) SignWith(signer DID, kp KeyPair) error {
	msg, err := b.SigningBytes()
	if err != nil {
		return err
	}
	b.Proof.addSignature(signer, kp.Sign(msg))
	return nil
}

// Verify checks the bundle's quorum proof against guardianSet.
func (b TrustBundle) Verify(guardianSet GuardianSet) error {
	msg, err := b.SigningBytes()
	if err != nil {
		return err
	}
	return VerifyQuorumProof(b.Proof, guardianSet.Guardians, guardianSet.PubKeys, msg)
}

// VerifyDAGAnchor confirms the bundle's anchor CID is actually present in
// dag, i.e. the bundle certifies real, retrievable history rather than a
// dangling reference.
func (b TrustBundle) VerifyDAGAnchor(dag *DAGStore) error {
	if !dag.Contains(b.AnchorCID) {
		return WrapError(KindNotFound, fmt.Sprintf("bundle epoch %d anchors unknown CID %s", b.Epoch, b.AnchorCID), ErrNotFound)
	}
	return nil
}

// TrustBundleStore tracks accepted bundles per epoch, the monotonically
// advancing latest-known epoch, and a quarantine of bundles that name a
// guardian set this node does not yet know about (a plausible future
// epoch it simply hasn't caught up to, rather than a malformed bundle).
type TrustBundleStore struct {
	mu             sync.Mutex
	latestEpoch    uint64
	bundles        map[uint64]TrustBundle
	quarantined    map[uint64]TrustBundle
	knownGuardians map[uint64]GuardianSet
}

// NewTrustBundleStore builds a store seeded with the genesis guardian set.
func NewTrustBundleStore(genesis GuardianSet) *TrustBundleStore {
	return &TrustBundleStore{
		bundles:        make(map[uint64]TrustBundle),
		quarantined:    make(map[uint64]TrustBundle),
		knownGuardians: map[uint64]GuardianSet{genesis.Epoch: genesis},
	}
}

// LearnGuardianSet registers a guardian set for a future epoch. It also attempts to
// promote any quarantined bundle that names exactly this epoch.
func (s *TrustBundleStore) LearnGuardianSet(gs GuardianSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knownGuardians[gs.Epoch] = gs
	if bundle, ok := s.quarantined[gs.Epoch]; ok {
		if err := bundle.Verify(gs); err == nil {
			delete(s.quarantined, gs.Epoch)
			s.acceptLocked(bundle)
		}
	}
}

// Accept validates and records bundle. A bundle whose epoch references a
// guardian set this node has not learned yet is quarantined rather than
// rejected outright; everything else is checked immediately.
func (s *TrustBundleStore) Accept(bundle TrustBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bundle.Epoch < s.latestEpoch {
		return WrapError(KindStaleEpoch, fmt.Sprintf("bundle epoch %d older than known epoch %d", bundle.Epoch, s.latestEpoch), ErrStaleEpoch)
	}

	gs, known := s.knownGuardians[bundle.Epoch]
	if !known {
		s.quarantined[bundle.Epoch] = bundle
		return nil
	}
	if err := bundle.Verify(gs); err != nil {
		return err
	}
	s.acceptLocked(bundle)
	return nil
}

func (s *TrustBundleStore) acceptLocked(bundle TrustBundle) {
	s.bundles[bundle.Epoch] = bundle
	if bundle.Epoch > s.latestEpoch {
		s.latestEpoch = bundle.Epoch
	}
}

// LatestEpoch returns the highest epoch this node has accepted.
func (s *TrustBundleStore) LatestEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestEpoch
}

// Get returns the accepted bundle for epoch, if any.
func (s *TrustBundleStore) Get(epoch uint64) (TrustBundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[epoch]
	return b, ok
}

// Quarantined lists bundles pending a guardian set this node has not yet
// learned.
func (s *TrustBundleStore) Quarantined() []TrustBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrustBundle, 0, len(s.quarantined))
	for _, b := range s.quarantined {
		out = append(out, b)
	}
	return out
}
