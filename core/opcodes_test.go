package core

import "testing"

func TestRegisteredHostOpsHasNoDuplicateNames(t *testing.T) {
	ops := RegisteredHostOps()
	if len(ops) != 11 {
		t.Fatalf("expected 11 registered host ops, got %d", len(ops))
	}
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		name := op.String()
		if _, ok := seen[name]; ok {
			t.Fatalf("duplicate host op name %s", name)
		}
		seen[name] = struct{}{}
	}
}

func TestHostOpStringUnknown(t *testing.T) {
	if got := HostOp(9999).String(); got != "unknown(9999)" {
		t.Fatalf("expected unknown(9999), got %q", got)
	}
}

func TestRegisterHostOpOverwritesPreviousRegistration(t *testing.T) {
	const sentinel = HostOp(0xBEEF)
	t.Cleanup(func() {
		hostTableMu.Lock()
		delete(hostTable, sentinel)
		hostTableMu.Unlock()
	})
	calls := 0
	RegisterHostOp(sentinel, func(hc *HostContext, args []byte) ([]byte, error) {
		calls++
		return []byte("first"), nil
	})
	RegisterHostOp(sentinel, func(hc *HostContext, args []byte) ([]byte, error) {
		calls++
		return []byte("second"), nil
	})

	out, err := DispatchHostOp(nil, sentinel, nil)
	if err != nil {
		t.Fatalf("DispatchHostOp: %v", err)
	}
	if string(out) != "second" {
		t.Fatalf("expected last registration to win, got %q", out)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one handler invoked, got %d", calls)
	}
}
