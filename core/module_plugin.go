package core

// HostOpModule represents an external package that wishes to register
// additional host calls beyond the built-in set in opcodes.go. Implementations
// call the provided registrar for each HostOp they expose.
type HostOpModule interface {
	Register(func(HostOp, HostFunc))
}

// RegisterModule loads a module into the host-call dispatch table using
// RegisterHostOp. Nil modules are ignored to simplify optional wiring.
func RegisterModule(m HostOpModule) {
	if m == nil {
		return
	}
	m.Register(RegisterHostOp)
}
