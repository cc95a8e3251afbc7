package core

import "time"

// TrapKind classifies why a sandboxed execution stopped short of a normal
// return. It is a narrower, execution-specific sibling of ErrorKind: every
// trap also surfaces as a CoreError at the call boundary, but the receipt
// needs to keep the classification even after the error has been logged and
// discarded.
type TrapKind int

const (
	TrapNone TrapKind = iota
	TrapMemoryError
	TrapResourceLimit
	TrapHostDenial
	TrapPanic
)

func (t TrapKind) String() string {
	switch t {
	case TrapNone:
		return "none"
	case TrapMemoryError:
		return "MemoryError"
	case TrapResourceLimit:
		return "ResourceLimit"
	case TrapHostDenial:
		return "HostDenial"
	case TrapPanic:
		return "Panic"
	default:
		return "unknown"
	}
}

// Outcome is the top-level result of one execution.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTrapped
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "trapped"
}

// ExecutionReceipt is the durable record of one invocation: what ran, under
// whose authority, what it consumed, and how it ended. Receipts are
// anchored into the DAG as the entity's authoritative history and signed by
// the credential issuer (credential.go) before being gossiped.
type ExecutionReceipt struct {
	Entity    DID
	Invoker   DID
	CodeCID   CID
	InputCID  CID
	Outcome   Outcome
	Trap      TrapKind
	TrapMsg   string
	GasUsed   uint64
	Logs      []string
	ResultCID CID
	// AnchoredCIDs is the list of CIDs of DAG nodes created during the
	// execution, in commit order (spec §3), populated once each of the
	// execution's pending anchors has been durably written to the DAG store.
	AnchoredCIDs []CID
	Timestamp    int64
}

// NewFailedReceipt builds a trapped receipt, stamping the current time.
// anchoredCIDs carries whatever anchors were durably committed before the
// trap occurred (e.g. a later pending anchor failing to commit after an
// earlier one already succeeded); pass nil when execution trapped before
// any anchor was committed.
func NewFailedReceipt(entity, invoker DID, codeCID, inputCID CID, trap TrapKind, msg string, gasUsed uint64, anchoredCIDs ...[]CID) ExecutionReceipt {
	var anchored []CID
	if len(anchoredCIDs) > 0 {
		anchored = anchoredCIDs[0]
	}
	return ExecutionReceipt{
		Entity:       entity,
		Invoker:      invoker,
		CodeCID:      codeCID,
		InputCID:     inputCID,
		Outcome:      OutcomeTrapped,
		Trap:         trap,
		TrapMsg:      msg,
		GasUsed:      gasUsed,
		AnchoredCIDs: anchored,
		Timestamp:    time.Now().UTC().Unix(),
	}
}

// NewSuccessReceipt builds a successful receipt.
func NewSuccessReceipt(entity, invoker DID, codeCID, inputCID, resultCID CID, anchoredCIDs []CID, logs []string, gasUsed uint64) ExecutionReceipt {
	return ExecutionReceipt{
		Entity:       entity,
		Invoker:      invoker,
		CodeCID:      codeCID,
		InputCID:     inputCID,
		Outcome:      OutcomeSuccess,
		ResultCID:    resultCID,
		AnchoredCIDs: anchoredCIDs,
		Logs:         logs,
		GasUsed:      gasUsed,
		Timestamp:    time.Now().UTC().Unix(),
	}
}
