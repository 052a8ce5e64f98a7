package probe

import (
	"context"

	"github.com/moffa90/go-flashalgo/target"
)

// DebugAccess is the debug link the flash engine drives. Implementations
// address a core through its access options; register and memory access
// require the core to be halted.
//
// A DebugAccess is used by one session at a time. Implementations need not
// be safe for concurrent use.
type DebugAccess interface {
	// ReadCoreRegister returns the value of a core register.
	ReadCoreRegister(ctx context.Context, core target.CoreAccessOptions, reg Register) (uint32, error)

	// WriteCoreRegister sets a core register.
	WriteCoreRegister(ctx context.Context, core target.CoreAccessOptions, reg Register, value uint32) error

	// ReadMemory fills buf with target memory starting at address.
	ReadMemory(ctx context.Context, core target.CoreAccessOptions, address uint64, buf []byte) error

	// WriteMemory writes data to target memory starting at address.
	WriteMemory(ctx context.Context, core target.CoreAccessOptions, address uint64, data []byte) error

	// Halt stops the core.
	Halt(ctx context.Context, core target.CoreAccessOptions) error

	// Run resumes the core from its current program counter.
	Run(ctx context.Context, core target.CoreAccessOptions) error

	// IsHalted reports whether the core has stopped, for example on a breakpoint.
	IsHalted(ctx context.Context, core target.CoreAccessOptions) (bool, error)
}
