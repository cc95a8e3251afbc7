package core

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestKernel(t *testing.T) (*GovernanceKernel, DID, *IdentityRegistry) {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	registry := NewIdentityRegistry()
	rec := registry.Register(kp.Public, ScopeFederation)
	dag := NewDAGStore()
	k := NewGovernanceKernel(dag, registry, rec.DID, kp, zap.NewNop())
	return k, rec.DID, registry
}

func TestProposalLifecyclePassed(t *testing.T) {
	k, issuer, _ := newTestKernel(t)
	voterA, _ := GenerateKeyPair()
	voterB, _ := GenerateKeyPair()
	didA := DeriveDID(voterA.Public, ScopeCooperative)
	didB := DeriveDID(voterB.Public, ScopeCooperative)

	p, err := k.CreateProposal(issuer, ScopeFederation, issuer, "raise dues", "", MajorityQuorum(), []DID{didA, didB})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if p.State != ProposalDraft {
		t.Fatalf("expected Draft state, got %s", p.State)
	}

	if err := k.OpenVoting(p.ID, 10*time.Millisecond); err != nil {
		t.Fatalf("OpenVoting: %v", err)
	}

	if err := k.CastVote(p.ID, didA, true); err != nil {
		t.Fatalf("CastVote A: %v", err)
	}
	if err := k.CastVote(p.ID, didB, true); err != nil {
		t.Fatalf("CastVote B: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	finalized, err := k.Finalize(p.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if finalized.State != ProposalPassed {
		t.Fatalf("expected Passed, got %s", finalized.State)
	}

	if err := k.ExecuteProposal(p.ID, issuer); err != nil {
		t.Fatalf("ExecuteProposal: %v", err)
	}
	got, err := k.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != ProposalExecuted {
		t.Fatalf("expected Executed, got %s", got.State)
	}
}

// TestCastVoteIdempotent covers spec.md §4.8: casting again for the same
// voter overwrites rather than double-counts.
func TestCastVoteIdempotent(t *testing.T) {
	k, issuer, _ := newTestKernel(t)
	voter, _ := GenerateKeyPair()
	did := DeriveDID(voter.Public, ScopeCooperative)

	p, err := k.CreateProposal(issuer, ScopeFederation, issuer, "t", "", MajorityQuorum(), []DID{did})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := k.OpenVoting(p.ID, time.Hour); err != nil {
		t.Fatalf("OpenVoting: %v", err)
	}

	if err := k.CastVote(p.ID, did, true); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if err := k.CastVote(p.ID, did, false); err != nil {
		t.Fatalf("CastVote (recast): %v", err)
	}

	current, err := k.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(current.Votes) != 1 {
		t.Fatalf("expected exactly one recorded vote for a single voter, got %d", len(current.Votes))
	}
	if current.Votes[did] != false {
		t.Fatalf("expected the later recast to win")
	}
}

func TestCastVoteRejectsIneligibleVoter(t *testing.T) {
	k, issuer, _ := newTestKernel(t)
	eligible, _ := GenerateKeyPair()
	outsider, _ := GenerateKeyPair()
	eligibleDID := DeriveDID(eligible.Public, ScopeCooperative)
	outsiderDID := DeriveDID(outsider.Public, ScopeCooperative)

	p, err := k.CreateProposal(issuer, ScopeFederation, issuer, "t", "", MajorityQuorum(), []DID{eligibleDID})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := k.OpenVoting(p.ID, time.Hour); err != nil {
		t.Fatalf("OpenVoting: %v", err)
	}
	if err := k.CastVote(p.ID, outsiderDID, true); !KindUnauthorized.Is(err) {
		t.Fatalf("expected KindUnauthorized for ineligible voter, got %v", err)
	}
}

func TestFinalizeRejectedWithoutQuorum(t *testing.T) {
	k, issuer, _ := newTestKernel(t)
	voterA, _ := GenerateKeyPair()
	voterB, _ := GenerateKeyPair()
	didA := DeriveDID(voterA.Public, ScopeCooperative)
	didB := DeriveDID(voterB.Public, ScopeCooperative)

	p, err := k.CreateProposal(issuer, ScopeFederation, issuer, "t", "", MajorityQuorum(), []DID{didA, didB})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := k.OpenVoting(p.ID, 10*time.Millisecond); err != nil {
		t.Fatalf("OpenVoting: %v", err)
	}
	// Only one of two eligible voters casts — majority of the eligible
	// roster is not met even though the lone vote is an approval.
	if err := k.CastVote(p.ID, didA, true); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	finalized, err := k.Finalize(p.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if finalized.State != ProposalRejected {
		t.Fatalf("expected Rejected without quorum, got %s", finalized.State)
	}
}

func TestExecuteProposalRequiresPassedState(t *testing.T) {
	k, issuer, _ := newTestKernel(t)
	p, err := k.CreateProposal(issuer, ScopeFederation, issuer, "t", "", MajorityQuorum(), nil)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := k.ExecuteProposal(p.ID, issuer); !KindConflict.Is(err) {
		t.Fatalf("expected KindConflict executing a Draft proposal, got %v", err)
	}
}
