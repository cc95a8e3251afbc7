package core

// GovernanceEventKind is the closed set of governance event kinds, modeled
// as a tagged union (a Kind discriminant plus a flat payload) rather than an
// interface hierarchy with per-kind implementations — the design note calls
// for replacing dynamic dispatch with sum types, and Go has no tagged-union
// language feature, so a discriminant field over a single struct is the
// idiomatic stand-in.
type GovernanceEventKind int

const (
	EventProposalCreated GovernanceEventKind = iota
	EventVoteCast
	EventProposalFinalized
	EventProposalExecuted
)

func (k GovernanceEventKind) String() string {
	switch k {
	case EventProposalCreated:
		return "ProposalCreated"
	case EventVoteCast:
		return "VoteCast"
	case EventProposalFinalized:
		return "ProposalFinalized"
	case EventProposalExecuted:
		return "ProposalExecuted"
	default:
		return "Unknown"
	}
}

// GovernanceEvent is one entry in a proposal's authoritative history. Events
// are anchored into the DAG (as a DAGNode's Payload, canonical-encoded) so
// the proposal's full lifecycle is independently replayable from DAG
// history rather than trusted from an in-memory kernel alone.
type GovernanceEvent struct {
	Kind       GovernanceEventKind
	ProposalID string
	Entity     DID
	Actor      DID // creator, voter, or executor depending on Kind
	Approve    bool // meaningful only for EventVoteCast
	State      ProposalState // meaningful for EventProposalFinalized/EventProposalExecuted
	Timestamp  int64
}
