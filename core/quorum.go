package core

import (
	"crypto/ed25519"
	"fmt"
)

// QuorumKind is the closed set of quorum configurations a trust bundle or
// proposal can require.
type QuorumKind int

const (
	QuorumMajority QuorumKind = iota
	QuorumThreshold
	QuorumWeighted
)

// GuardianWeight pairs a guardian DID with its voting weight. QuorumConfig
// keeps these as an ordered slice rather than a map: QuorumConfig is
// canonical-encoded inside every TrustBundle, and go-ethereum's rlp package
// cannot encode Go maps at all (it returns an error for reflect.Map), which
// would make any weighted bundle un-serializable. This also matches the
// data model's "ordered list of (signer DID, signature) pairs" shape used
// for QuorumProof below.
type GuardianWeight struct {
	DID    DID
	Weight uint64
}

// QuorumConfig generalizes the teacher's QuorumTracker (a single fixed
// integer threshold over a flat vote count) into the three quorum shapes
// the data model names: plain majority, an arbitrary percentage threshold,
// and per-guardian weighted voting power.
type QuorumConfig struct {
	Kind             QuorumKind
	ThresholdPercent float64          // used when Kind == QuorumThreshold, in (0,1]
	Weights          []GuardianWeight // used when Kind == QuorumWeighted
}

// MajorityQuorum is strict-majority-of-guardian-set.
func MajorityQuorum() QuorumConfig { return QuorumConfig{Kind: QuorumMajority} }

// ThresholdQuorum requires at least percent of the guardian set (0 < percent <= 1).
func ThresholdQuorum(percent float64) QuorumConfig {
	return QuorumConfig{Kind: QuorumThreshold, ThresholdPercent: percent}
}

// WeightedQuorum requires signers' combined weight to exceed half the total
// weight across weights.
func WeightedQuorum(weights []GuardianWeight) QuorumConfig {
	return QuorumConfig{Kind: QuorumWeighted, Weights: weights}
}

func (q QuorumConfig) weightOf(signer DID) uint64 {
	for _, w := range q.Weights {
		if w.DID == signer {
			return w.Weight
		}
	}
	return 0
}

// Satisfied reports whether signers (a set of guardian DIDs that produced
// valid signatures) meet this config against guardianSet, the full
// authorized guardian roster for the epoch.
func (q QuorumConfig) Satisfied(guardianSet []DID, signers []DID) bool {
	inSet := make(map[DID]struct{}, len(guardianSet))
	for _, g := range guardianSet {
		inSet[g] = struct{}{}
	}
	valid := 0
	for _, s := range signers {
		if _, ok := inSet[s]; ok {
			valid++
		}
	}

	switch q.Kind {
	case QuorumMajority:
		return valid*2 > len(guardianSet)
	case QuorumThreshold:
		if len(guardianSet) == 0 {
			return false
		}
		return float64(valid)/float64(len(guardianSet)) >= q.ThresholdPercent
	case QuorumWeighted:
		var total, got uint64
		for _, w := range q.Weights {
			total += w.Weight
		}
		for _, s := range signers {
			if _, ok := inSet[s]; !ok {
				continue
			}
			got += q.weightOf(s)
		}
		return total > 0 && got*2 > total
	default:
		return false
	}
}

// SignerSignature pairs a signer DID with its signature — the ordered list
// of (signer DID, signature) pairs the data model calls for, and the shape
// QuorumProof must use instead of a map since rlp cannot encode maps.
type SignerSignature struct {
	Signer    DID
	Signature []byte
}

// QuorumProof bundles the signer set and their signatures over a message,
// alongside the config that must be satisfied for the proof to be accepted.
type QuorumProof struct {
	Config     QuorumConfig
	Signatures []SignerSignature
}

// addSignature appends or overwrites signer's entry, keeping Signatures
// free of duplicate signers the way a map would.
func (p *QuorumProof) addSignature(signer DID, sig []byte) {
	for i := range p.Signatures {
		if p.Signatures[i].Signer == signer {
			p.Signatures[i].Signature = sig
			return
		}
	}
	p.Signatures = append(p.Signatures, SignerSignature{Signer: signer, Signature: sig})
}

// VerifyQuorumProof checks every claimed signature against message and
// requires that every signer be a member of guardianSet — an unauthorized
// signer, even alongside enough valid guardian signatures to otherwise meet
// quorum, fails the whole proof rather than being silently dropped. Among
// members, only signatures that actually verify count toward quorum, so a
// guardian that signed with a stale or wrong key does not count even though
// it appears in Signatures. A signer listed more than once fails the proof.
func VerifyQuorumProof(proof QuorumProof, guardianSet []DID, pubKeys map[DID]ed25519.PublicKey, message []byte) error {
	inSet := make(map[DID]struct{}, len(guardianSet))
	for _, g := range guardianSet {
		inSet[g] = struct{}{}
	}

	var verified []DID
	seen := make(map[DID]struct{}, len(proof.Signatures))
	for _, entry := range proof.Signatures {
		if _, ok := inSet[entry.Signer]; !ok {
			return WrapError(KindUnauthorized, fmt.Sprintf("signer %s is not a member of the guardian set", entry.Signer), ErrUnauthorized)
		}
		if _, dup := seen[entry.Signer]; dup {
			return WrapError(KindQuorumFailure, fmt.Sprintf("signer %s appears more than once", entry.Signer), ErrQuorumFailure)
		}
		seen[entry.Signer] = struct{}{}
		pub, ok := pubKeys[entry.Signer]
		if !ok {
			continue
		}
		if VerifySignature(pub, message, entry.Signature) {
			verified = append(verified, entry.Signer)
		}
	}
	if !proof.Config.Satisfied(guardianSet, verified) {
		return WrapError(KindQuorumFailure, fmt.Sprintf("quorum not met: %d/%d guardians verified", len(verified), len(guardianSet)), ErrQuorumFailure)
	}
	return nil
}
