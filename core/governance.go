package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProposalState is the closed set of states a Proposal moves through: Draft
// is mutable and unpublished, Voting accepts votes until its deadline,
// Passed/Rejected/Tied are the finalized-but-not-yet-executed outcomes, and
// Executed is terminal. Passed and Tied/Rejected are all reachable only from
// Voting; Executed is reachable only from Passed.
type ProposalState int

const (
	ProposalDraft ProposalState = iota
	ProposalVoting
	ProposalPassed
	ProposalRejected
	ProposalTied
	ProposalExecuted
)

func (s ProposalState) String() string {
	switch s {
	case ProposalDraft:
		return "draft"
	case ProposalVoting:
		return "voting"
	case ProposalPassed:
		return "passed"
	case ProposalRejected:
		return "rejected"
	case ProposalTied:
		return "tied"
	case ProposalExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// Proposal is a governance proposal scoped to one entity (a cooperative or
// community DID). It carries its own quorum configuration and eligible
// voter roster so that different entities can run different governance
// rules side by side.
type Proposal struct {
	ID             string
	Entity         DID
	Creator        DID
	Title          string
	Description    string
	CreatedAt      int64
	VotingDeadline int64
	State          ProposalState
	Quorum         QuorumConfig
	EligibleVoters []DID
	Votes          map[DID]bool // voter -> approve; map membership makes recasting idempotent
	ExecutionDelay time.Duration
}

// creatableScopes are the scopes permitted to create proposals — cooperative
// and community bodies govern themselves, and federation/guardian scopes can
// raise federation-wide proposals.
var creatableScopes = map[Scope]bool{
	ScopeCooperative: true,
	ScopeCommunity:   true,
	ScopeFederation:  true,
	ScopeGuardian:    true,
}

// executorScopes are the scopes permitted to execute a passed proposal.
var executorScopes = map[Scope]bool{
	ScopeFederation: true,
	ScopeGuardian:   true,
}

// GovernanceKernel owns the proposal lifecycle for every entity on this
// node: creation, voting, finalization, and execution, each step anchored
// into the DAG as a typed GovernanceEvent so the proposal's history is
// independently verifiable. Logging follows the teacher's governance.go,
// which uses zap for every state transition.
type GovernanceKernel struct {
	mu        sync.Mutex
	proposals map[string]*Proposal

	dag      *DAGStore
	identity *IdentityRegistry
	issuer   DID
	keyPair  KeyPair
	timelock *Timelock
	log      *zap.Logger
}

// NewGovernanceKernel builds a kernel anchoring events as issuer (typically
// the node's own DID) into dag.
func NewGovernanceKernel(dag *DAGStore, identity *IdentityRegistry, issuer DID, keyPair KeyPair, log *zap.Logger) *GovernanceKernel {
	if log == nil {
		log, _ = zap.NewProduction()
	}
	k := &GovernanceKernel{
		proposals: make(map[string]*Proposal),
		dag:       dag,
		identity:  identity,
		issuer:    issuer,
		keyPair:   keyPair,
		log:       log,
	}
	k.timelock = NewTimelock(func(id string) error {
		return k.ExecuteProposal(id, issuer)
	})
	return k
}

// anchor wraps evt in a DAGNode under k.issuer's sequence and commits it.
func (k *GovernanceKernel) anchor(evt GovernanceEvent) error {
	evt.Timestamp = time.Now().UTC().Unix()
	payload, err := Canonical(evt)
	if err != nil {
		return err
	}

	parents := k.dag.Tips(evt.Entity)
	seq := uint64(1)
	if s, ok := k.lastSeq(evt.Entity); ok {
		seq = s + 1
	}

	node := DAGNode{
		Entity:    evt.Entity,
		Issuer:    k.issuer,
		Parents:   parents,
		Seq:       seq,
		Kind:      evt.Kind.String(),
		Payload:   payload,
		Timestamp: evt.Timestamp,
	}
	msg, err := node.signingBytes()
	if err != nil {
		return err
	}
	node.Signature = k.keyPair.Sign(msg)

	rec, err := k.identity.Resolve(k.issuer)
	if err != nil {
		return err
	}
	_, err = k.dag.Put(node, rec.PubKey)
	return err
}

// lastSeq inspects the current tips for evt.Entity to find this issuer's
// last used sequence number, so anchor can keep assigning strictly
// increasing numbers across separate GovernanceKernel instances sharing one
// DAGStore.
func (k *GovernanceKernel) lastSeq(entity DID) (uint64, bool) {
	var found uint64
	ok := false
	for _, tip := range k.dag.Tips(entity) {
		node, err := k.dag.Get(tip)
		if err != nil {
			continue
		}
		if node.Issuer == k.issuer && (!ok || node.Seq > found) {
			found = node.Seq
			ok = true
		}
	}
	return found, ok
}

// CreateProposal creates a new Draft proposal for entity. creatorScope must
// be one of the scopes authorized to originate proposals.
func (k *GovernanceKernel) CreateProposal(creator DID, creatorScope Scope, entity DID, title, desc string, quorum QuorumConfig, eligible []DID) (*Proposal, error) {
	if !creatableScopes[creatorScope] {
		return nil, Unauthorized("create_proposals")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	p := &Proposal{
		ID:             uuid.New().String(),
		Entity:         entity,
		Creator:        creator,
		Title:          title,
		Description:    desc,
		CreatedAt:      time.Now().UTC().Unix(),
		State:          ProposalDraft,
		Quorum:         quorum,
		EligibleVoters: eligible,
		Votes:          make(map[DID]bool),
	}
	k.proposals[p.ID] = p

	if err := k.anchor(GovernanceEvent{Kind: EventProposalCreated, ProposalID: p.ID, Entity: entity, Actor: creator}); err != nil {
		delete(k.proposals, p.ID)
		return nil, err
	}
	k.log.Info("proposal created", zap.String("id", p.ID), zap.String("entity", string(entity)), zap.String("creator", string(creator)))
	return p, nil
}

// OpenVoting transitions a Draft proposal to Voting with the given window.
func (k *GovernanceKernel) OpenVoting(id string, window time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.proposals[id]
	if !ok {
		return WrapError(KindNotFound, fmt.Sprintf("proposal %s not found", id), ErrNotFound)
	}
	if p.State != ProposalDraft {
		return WrapError(KindConflict, fmt.Sprintf("proposal %s not in draft state", id), ErrConflict)
	}
	p.State = ProposalVoting
	p.VotingDeadline = time.Now().UTC().Add(window).Unix()
	return nil
}

// CastVote records voter's choice on a Voting proposal. Casting a vote
// again with the same or a different choice simply overwrites the prior
// entry — per-(voter,proposal) votes are idempotent because Votes is keyed
// by voter, so no vote is ever counted twice.
func (k *GovernanceKernel) CastVote(id string, voter DID, approve bool) error {
	k.mu.Lock()
	p, ok := k.proposals[id]
	if !ok {
		k.mu.Unlock()
		return WrapError(KindNotFound, fmt.Sprintf("proposal %s not found", id), ErrNotFound)
	}
	if p.State != ProposalVoting {
		k.mu.Unlock()
		return WrapError(KindConflict, fmt.Sprintf("proposal %s not open for voting", id), ErrConflict)
	}
	if time.Now().UTC().Unix() > p.VotingDeadline {
		k.mu.Unlock()
		return WrapError(KindConflict, fmt.Sprintf("proposal %s voting window closed", id), ErrConflict)
	}
	if !eligibleVoter(p.EligibleVoters, voter) {
		k.mu.Unlock()
		return Unauthorized("vote_on_proposals")
	}
	p.Votes[voter] = approve
	entity := p.Entity
	k.mu.Unlock()

	return k.anchor(GovernanceEvent{Kind: EventVoteCast, ProposalID: id, Entity: entity, Actor: voter, Approve: approve})
}

func eligibleVoter(roster []DID, voter DID) bool {
	for _, d := range roster {
		if d == voter {
			return true
		}
	}
	return false
}

// Finalize closes voting on a past-deadline proposal and computes its
// outcome: Rejected if quorum was not met, otherwise Passed, Rejected, or
// Tied by simple majority of the votes actually cast.
func (k *GovernanceKernel) Finalize(id string) (*Proposal, error) {
	k.mu.Lock()
	p, ok := k.proposals[id]
	if !ok {
		k.mu.Unlock()
		return nil, WrapError(KindNotFound, fmt.Sprintf("proposal %s not found", id), ErrNotFound)
	}
	if p.State != ProposalVoting {
		k.mu.Unlock()
		return nil, WrapError(KindConflict, fmt.Sprintf("proposal %s not in voting state", id), ErrConflict)
	}
	if time.Now().UTC().Unix() < p.VotingDeadline {
		k.mu.Unlock()
		return nil, WrapError(KindConflict, fmt.Sprintf("proposal %s voting window still open", id), ErrConflict)
	}

	var voters []DID
	var approve, reject int
	for voter, choice := range p.Votes {
		voters = append(voters, voter)
		if choice {
			approve++
		} else {
			reject++
		}
	}

	switch {
	case !p.Quorum.Satisfied(p.EligibleVoters, voters):
		p.State = ProposalRejected
	case approve > reject:
		p.State = ProposalPassed
	case reject > approve:
		p.State = ProposalRejected
	default:
		p.State = ProposalTied
	}
	finalState := p.State
	entity := p.Entity
	delay := p.ExecutionDelay
	k.mu.Unlock()

	if err := k.anchor(GovernanceEvent{Kind: EventProposalFinalized, ProposalID: id, Entity: entity, State: finalState}); err != nil {
		return nil, err
	}
	k.log.Info("proposal finalized", zap.String("id", id), zap.String("state", finalState.String()))

	if finalState == ProposalPassed && delay > 0 {
		_ = k.timelock.QueueProposal(id, delay)
	}
	return p, nil
}

// ExecuteProposal runs a Passed proposal's effect and marks it Executed.
// The executorScopes map gates which executor scopes may call this; proposals queued into the
// timelock are executed by the kernel's own issuer identity once their
// delay elapses.
func (k *GovernanceKernel) ExecuteProposal(id string, executor DID) error {
	k.mu.Lock()
	p, ok := k.proposals[id]
	if !ok {
		k.mu.Unlock()
		return WrapError(KindNotFound, fmt.Sprintf("proposal %s not found", id), ErrNotFound)
	}
	if p.State != ProposalPassed {
		k.mu.Unlock()
		return WrapError(KindConflict, fmt.Sprintf("proposal %s not in passed state", id), ErrConflict)
	}
	if executor != k.issuer {
		rec, err := k.identity.Resolve(executor)
		if err != nil || !executorScopes[rec.Scope] {
			k.mu.Unlock()
			return Unauthorized("execute_proposals")
		}
	}
	p.State = ProposalExecuted
	entity := p.Entity
	k.mu.Unlock()

	if err := k.anchor(GovernanceEvent{Kind: EventProposalExecuted, ProposalID: id, Entity: entity, Actor: executor, State: ProposalExecuted}); err != nil {
		return err
	}
	k.log.Info("proposal executed", zap.String("id", id), zap.String("executor", string(executor)))
	return nil
}

// Get returns a snapshot of a proposal's current state.
func (k *GovernanceKernel) Get(id string) (Proposal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.proposals[id]
	if !ok {
		return Proposal{}, WrapError(KindNotFound, fmt.Sprintf("proposal %s not found", id), ErrNotFound)
	}
	return *p, nil
}

// PollTimelock executes any proposals whose execution delay has elapsed.
func (k *GovernanceKernel) PollTimelock() []string {
	return k.timelock.ExecuteReady()
}
