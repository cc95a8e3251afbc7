package core

import (
	"fmt"
	"sync"
)

// HostContext is the per-execution state visible to host calls: who is
// running, on whose behalf, against which backing stores, and what the
// execution has accumulated so far (log lines, pending anchors, sub-entity
// creations). One HostContext is constructed per invocation and discarded
// afterward; nothing here outlives a single Execute call except through the
// stores it references.
type HostContext struct {
	mu sync.Mutex

	Entity       DID
	Invoker      DID
	InvokerScope Scope

	DAG       *DAGStore
	Resources *ResourceLedger
	Identity  *IdentityRegistry

	kv             map[string][]byte
	logs           []string
	pendingAnchors []DAGNode
	subEntities    []DID
}

// NewHostContext seeds a HostContext with the entity's current key/value
// state (loaded by the caller from the latest anchored snapshot, if any).
func NewHostContext(entity, invoker DID, invokerScope Scope, dag *DAGStore, resources *ResourceLedger, identity *IdentityRegistry, initial map[string][]byte) *HostContext {
	kv := make(map[string][]byte, len(initial))
	for k, v := range initial {
		kv[k] = v
	}
	return &HostContext{
		Entity:       entity,
		Invoker:      invoker,
		InvokerScope: invokerScope,
		DAG:          dag,
		Resources:    resources,
		Identity:     identity,
		kv:           kv,
	}
}

// Logs returns the log lines accumulated during the call.
func (hc *HostContext) Logs() []string {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	out := make([]string, len(hc.logs))
	copy(out, hc.logs)
	return out
}

// PendingAnchors returns the DAG nodes the execution asked to anchor; the
// VM engine commits them to the DAGStore after a successful run.
func (hc *HostContext) PendingAnchors() []DAGNode {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	out := make([]DAGNode, len(hc.pendingAnchors))
	copy(out, hc.pendingAnchors)
	return out
}

// KV returns a copy of the final key/value state for committing back to
// durable storage.
func (hc *HostContext) KV() map[string][]byte {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	out := make(map[string][]byte, len(hc.kv))
	for k, v := range hc.kv {
		out[k] = v
	}
	return out
}

// -- host call implementations, registered against HostOp in opcodes.go --

func hostGetValue(hc *HostContext, args []byte) ([]byte, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	v, ok := hc.kv[string(args)]
	if !ok {
		return nil, WrapError(KindNotFound, fmt.Sprintf("key %q not set", args), ErrNotFound)
	}
	return v, nil
}

// kvSetArgs is the canonical-encoded {Key, Value} pair set_value receives;
// delete_value, like get_value, takes the raw key bytes instead.
type kvSetArgs struct {
	Key   []byte
	Value []byte
}

func hostSetValue(hc *HostContext, args []byte) ([]byte, error) {
	var a kvSetArgs
	if err := DecodeCanonical(args, &a); err != nil {
		return nil, err
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.kv[string(a.Key)] = a.Value
	return nil, nil
}

func hostDeleteValue(hc *HostContext, args []byte) ([]byte, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.kv, string(args))
	return nil, nil
}

func hostAnchor(hc *HostContext, args []byte) ([]byte, error) {
	var node DAGNode
	if err := DecodeCanonical(args, &node); err != nil {
		return nil, err
	}
	if node.Entity != hc.Entity {
		return nil, Unauthorized("anchor:foreign-entity")
	}
	hc.mu.Lock()
	hc.pendingAnchors = append(hc.pendingAnchors, node)
	hc.mu.Unlock()
	return nil, nil
}

func hostCallerDID(hc *HostContext, _ []byte) ([]byte, error) {
	return []byte(hc.Invoker), nil
}

func hostCallerScope(hc *HostContext, _ []byte) ([]byte, error) {
	return []byte(hc.InvokerScope.String()), nil
}

// sigCheckArgs is the canonical-encoded argument to verify_signature.
type sigCheckArgs struct {
	PubKey    []byte
	Message   []byte
	Signature []byte
}

func hostVerifySignature(hc *HostContext, args []byte) ([]byte, error) {
	var a sigCheckArgs
	if err := DecodeCanonical(args, &a); err != nil {
		return nil, err
	}
	if VerifySignature(a.PubKey, a.Message, a.Signature) {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func hostLog(hc *HostContext, args []byte) ([]byte, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.logs = append(hc.logs, string(args))
	return nil, nil
}

// resourceRecordArgs is the canonical-encoded argument to record_resource.
type resourceRecordArgs struct {
	Type   ResourceType
	Amount uint64
}

func hostRecordResource(hc *HostContext, args []byte) ([]byte, error) {
	var a resourceRecordArgs
	if err := DecodeCanonical(args, &a); err != nil {
		return nil, err
	}
	if err := hc.Resources.Record(hc.Entity, a.Type, a.Amount); err != nil {
		return nil, err
	}
	return nil, nil
}

// authCheckArgs is the canonical-encoded argument to check_authorization.
type authCheckArgs struct {
	Type   ResourceType
	Amount uint64
}

func hostCheckAuthorization(hc *HostContext, args []byte) ([]byte, error) {
	var a authCheckArgs
	if err := DecodeCanonical(args, &a); err != nil {
		return nil, err
	}
	if err := hc.Resources.Check(hc.Entity, a.Type, a.Amount); err != nil {
		return []byte{0}, nil
	}
	return []byte{1}, nil
}

// subEntityArgs is the canonical-encoded argument to create_sub_entity: the
// public key of the new entity and the scope it should be registered under.
type subEntityArgs struct {
	PubKey []byte
	Scope  Scope
}

func hostCreateSubEntity(hc *HostContext, args []byte) ([]byte, error) {
	var a subEntityArgs
	if err := DecodeCanonical(args, &a); err != nil {
		return nil, err
	}
	if hc.InvokerScope != ScopeCooperative && hc.InvokerScope != ScopeCommunity && hc.InvokerScope != ScopeGuardian {
		return nil, Unauthorized("create_sub_entity")
	}
	rec := hc.Identity.Register(a.PubKey, a.Scope)
	hc.mu.Lock()
	hc.subEntities = append(hc.subEntities, rec.DID)
	hc.mu.Unlock()
	return []byte(rec.DID), nil
}
