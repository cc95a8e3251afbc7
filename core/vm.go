package core

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// GasMeter tracks the compute budget for one execution, recording
// consumption into the entity's ResourceLedger as it goes rather than only
// at the end — the same incremental-consumption idea as the teacher's
// GasMeter.Consume in core/virtual_machine.go, rerouted through the shared
// resource-authorization ledger instead of a private counter.
type GasMeter struct {
	entity    DID
	resources *ResourceLedger
	limit     uint64
	used      uint64
}

// NewGasMeter builds a meter bounded by limit, itself clamped to whatever
// compute the entity has remaining.
func NewGasMeter(entity DID, resources *ResourceLedger, limit uint64) *GasMeter {
	if err := resources.Check(entity, ResourceCompute, 0); err == nil {
		if snap := resources.Snapshot(entity); snap != nil {
			for _, a := range snap {
				if a.Type == ResourceCompute && a.Remaining() < limit {
					limit = a.Remaining()
				}
			}
		}
	}
	return &GasMeter{entity: entity, resources: resources, limit: limit}
}

// Consume records amount against the meter, denying (without partially
// consuming) if it would exceed the gas limit or the entity's compute
// authorization.
func (g *GasMeter) Consume(amount uint64) error {
	if g.used+amount > g.limit {
		return WrapError(KindResourceLimit, fmt.Sprintf("gas limit exceeded: used=%d requested=%d limit=%d", g.used, amount, g.limit), ErrResourceExhausted)
	}
	if err := g.resources.Record(g.entity, ResourceCompute, amount); err != nil {
		return err
	}
	g.used += amount
	return nil
}

// Remaining returns the unused portion of the gas limit.
func (g *GasMeter) Remaining() uint64 {
	if g.used >= g.limit {
		return 0
	}
	return g.limit - g.used
}

// VM is the execution engine interface. A single implementation (HeavyVM,
// backed by wasmer) is registered today; the interface exists so tests can
// substitute a stub without touching call sites, the same seam the teacher
// keeps between its VM interface and LightVM/HeavyVM/SuperLightVM tiers.
type VM interface {
	Execute(hc *HostContext, code, input []byte, gasLimit uint64) (ExecutionReceipt, error)
}

// HeavyVM runs WebAssembly modules under wasmer with host calls routed
// through the HostOp dispatch table and gas metered per guest-reported
// consumption, generalizing the teacher's HeavyVM.registerHost (which wired
// host_consume_gas/host_read/host_write/host_log as named wasmer imports)
// into a single numeric-opcode host_call plus a host_consume_gas sibling.
type HeavyVM struct{}

// NewHeavyVM constructs the wasmer-backed execution engine.
func NewHeavyVM() *HeavyVM { return &HeavyVM{} }

const maxHostResultLen = 1 << 20 // 1 MiB, generous enough for any receipt fragment

// Execute compiles and runs code (a WASM module exporting "run") against
// input, routing every host_call through HostOp dispatch and every
// host_consume_gas call through the GasMeter. Any wasmer trap, out-of-bounds
// memory access, or denied host call is classified into a TrapKind and
// returned as a failed receipt rather than a bare error, so callers always
// get a receipt to anchor.
func (h *HeavyVM) Execute(hc *HostContext, code, input []byte, gasLimit uint64) (ExecutionReceipt, error) {
	codeCID, err := ComputeCID(code)
	if err != nil {
		return ExecutionReceipt{}, err
	}
	inputCID, err := ComputeCID(input)
	if err != nil {
		return ExecutionReceipt{}, err
	}

	meter := NewGasMeter(hc.Entity, hc.Resources, gasLimit)

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, code)
	if err != nil {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapPanic, "module compile failed: "+err.Error(), meter.used), nil
	}

	var instance *wasmer.Instance
	trap := TrapNone
	var trapMsg string

	memOf := func() (*wasmer.Memory, bool) {
		if instance == nil {
			return nil, false
		}
		mem, err := instance.Exports.GetMemory("memory")
		if err != nil {
			return nil, false
		}
		return mem, true
	}

	hostCallFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			op := HostOp(args[0].I32())
			ptr := uint32(args[1].I32())
			ln := uint32(args[2].I32())
			outPtr := uint32(args[3].I32())
			outCap := uint32(args[4].I32())

			mem, ok := memOf()
			if !ok {
				trap = TrapMemoryError
				trapMsg = "no exported memory"
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			data := mem.Data()
			if uint64(ptr)+uint64(ln) > uint64(len(data)) {
				trap = TrapMemoryError
				trapMsg = "host_call argument out of bounds"
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			argBuf := make([]byte, ln)
			copy(argBuf, data[ptr:ptr+ln])

			result, err := DispatchHostOp(hc, op, argBuf)
			if err != nil {
				if kind, ok := KindOf(err); ok && kind == KindUnauthorized {
					trap = TrapHostDenial
				} else if kind, ok := KindOf(err); ok && kind == KindResourceLimit {
					trap = TrapResourceLimit
				} else {
					trap = TrapHostDenial
				}
				trapMsg = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if uint64(len(result)) > uint64(outCap) {
				trap = TrapMemoryError
				trapMsg = "host_call result exceeds output buffer"
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			data = mem.Data()
			if uint64(outPtr)+uint64(len(result)) > uint64(len(data)) {
				trap = TrapMemoryError
				trapMsg = "host_call output pointer out of bounds"
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			copy(data[outPtr:outPtr+uint32(len(result))], result)
			return []wasmer.Value{wasmer.NewI32(int32(len(result)))}, nil
		},
	)

	consumeGasFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			amount := uint64(args[0].I64())
			if err := meter.Consume(amount); err != nil {
				trap = TrapResourceLimit
				trapMsg = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	importObject := wasmer.NewImportObject()
	importObject.Register("env", map[string]wasmer.IntoExtern{
		"host_call":        hostCallFn,
		"host_consume_gas": consumeGasFn,
	})

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				trap = TrapPanic
				trapMsg = fmt.Sprintf("instantiate panicked: %v", r)
			}
		}()
		instance, runErr = wasmer.NewInstance(module, importObject)
	}()
	if trap == TrapNone && runErr != nil {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapPanic, "instantiation failed: "+runErr.Error(), meter.used), nil
	}
	if trap != TrapNone {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, trap, trapMsg, meter.used), nil
	}

	run, err := instance.Exports.GetFunction("run")
	if err != nil {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapPanic, "module does not export run: "+err.Error(), meter.used), nil
	}

	mem, ok := memOf()
	if !ok {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapMemoryError, "module does not export memory", meter.used), nil
	}
	if uint64(len(input)) > uint64(len(mem.Data())) {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapMemoryError, "input larger than guest memory", meter.used), nil
	}
	copy(mem.Data(), input)

	var result interface{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				trap = TrapPanic
				trapMsg = fmt.Sprintf("execution panicked: %v", r)
			}
		}()
		result, runErr = run(int32(0), int32(len(input)))
	}()
	if trap != TrapNone {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, trap, trapMsg, meter.used), nil
	}
	if runErr != nil {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapPanic, "run trapped: "+runErr.Error(), meter.used), nil
	}

	resultLen, _ := result.(int32)
	if resultLen < 0 || uint64(resultLen) > uint64(len(mem.Data())) {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapMemoryError, "run returned invalid length", meter.used), nil
	}
	output := make([]byte, resultLen)
	copy(output, mem.Data()[:resultLen])

	resultCID, err := ComputeCID(output)
	if err != nil {
		return ExecutionReceipt{}, err
	}

	anchoredCIDs, err := commitPendingAnchors(hc)
	if err != nil {
		return NewFailedReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, TrapHostDenial, "anchor commit failed: "+err.Error(), meter.used, anchoredCIDs), nil
	}

	return NewSuccessReceipt(hc.Entity, hc.Invoker, codeCID, inputCID, resultCID, anchoredCIDs, hc.Logs(), meter.used), nil
}

// commitPendingAnchors writes every DAG node the execution asked to anchor
// (hc.PendingAnchors, accumulated by hostAnchor) to hc.DAG, in the order
// they were requested, and returns their assigned CIDs. A node is signed by
// its declared issuer before the call reaches here (hostAnchor only checks
// that the anchor's Entity matches the running entity); DAGStore.Put
// verifies that signature against the issuer's registered public key, so an
// execution cannot forge history on another identity's behalf.
func commitPendingAnchors(hc *HostContext) ([]CID, error) {
	pending := hc.PendingAnchors()
	if len(pending) == 0 {
		return nil, nil
	}
	cids := make([]CID, 0, len(pending))
	for _, node := range pending {
		rec, err := hc.Identity.Resolve(node.Issuer)
		if err != nil {
			return cids, WrapError(KindNotFound, fmt.Sprintf("anchor issuer %s not registered", node.Issuer), err)
		}
		cid, err := hc.DAG.Put(node, rec.PubKey)
		if err != nil {
			return cids, err
		}
		cids = append(cids, cid)
	}
	return cids, nil
}
