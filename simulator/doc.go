// Package simulator provides an in-memory target that implements
// probe.DebugAccess for tests and examples.
//
// The simulator does not interpret machine code. It recognizes calls into a
// loaded flash algorithm by the program counter and applies the effect of
// the entry point (erase, program) to its flash arrays:
//
//	sim := simulator.New(variant)
//	f := flash.New(sim, catalog)
//	err := f.Flash(ctx, variant.Name(), "main", 0x0, image)
//	fmt.Println(sim.Functions()) // [Init EraseSector ProgramPage UnInit]
//
// Faults are injected with SetResult, SetHang, SetLinkError, SetDropWrites
// and SetCorruptProgram.
package simulator
