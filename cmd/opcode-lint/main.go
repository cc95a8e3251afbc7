package main

import (
	"fmt"
	"log"

	core "coopgov/core"
)

func main() {
	ops := core.RegisteredHostOps()
	seenNames := make(map[string]struct{})
	for _, op := range ops {
		name := op.String()
		if _, ok := seenNames[name]; ok {
			log.Fatalf("duplicate host op name %s", name)
		}
		seenNames[name] = struct{}{}
	}
	fmt.Printf("checked %d host ops, no collisions detected\n", len(ops))
}
