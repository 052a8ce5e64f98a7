package probe

import (
	"encoding/binary"
	"fmt"

	"github.com/moffa90/go-flashalgo/target"
)

// Register is a core register number as used by GDB remote targets.
type Register uint32

// Arm Cortex-M registers.
const (
	ArmR0   Register = 0
	ArmR1   Register = 1
	ArmR2   Register = 2
	ArmR3   Register = 3
	ArmR9   Register = 9
	ArmSP   Register = 13
	ArmLR   Register = 14
	ArmPC   Register = 15
	ArmXPSR Register = 25
)

// RISC-V registers.
const (
	RiscvRA Register = 1
	RiscvSP Register = 2
	RiscvGP Register = 3
	RiscvA0 Register = 10
	RiscvA1 Register = 11
	RiscvA2 Register = 12
	RiscvA3 Register = 13
	RiscvPC Register = 32
)

// ThumbBit is set in xPSR and in branch targets to stay in Thumb state.
const ThumbBit = 0x01000000

// HeaderSize is the size of the breakpoint stub placed in front of a loaded algorithm.
const HeaderSize = 8

// CallingConvention describes how a function is invoked on a halted core.
type CallingConvention struct {
	Architecture target.Architecture

	// Arguments holds the registers of the first four arguments
	Arguments [4]Register

	// Result is the register holding the return value
	Result Register

	PC           Register
	SP           Register
	ReturnAddr   Register
	StaticBase   Register
	StatusReg    Register
	HasStatusReg bool

	// Breakpoint is the instruction word repeated in the breakpoint header
	Breakpoint uint32

	// Thumb marks the return address and status register with the Thumb bit
	Thumb bool
}

var (
	armConvention = CallingConvention{
		Architecture: target.ArchitectureArm,
		Arguments:    [4]Register{ArmR0, ArmR1, ArmR2, ArmR3},
		Result:       ArmR0,
		PC:           ArmPC,
		SP:           ArmSP,
		ReturnAddr:   ArmLR,
		StaticBase:   ArmR9,
		StatusReg:    ArmXPSR,
		HasStatusReg: true,
		Breakpoint:   0xBE00BE00, // bkpt #0, twice
		Thumb:        true,
	}

	riscvConvention = CallingConvention{
		Architecture: target.ArchitectureRiscV,
		Arguments:    [4]Register{RiscvA0, RiscvA1, RiscvA2, RiscvA3},
		Result:       RiscvA0,
		PC:           RiscvPC,
		SP:           RiscvSP,
		ReturnAddr:   RiscvRA,
		StaticBase:   RiscvGP,
		Breakpoint:   0x00100073, // ebreak
	}
)

// ConventionFor returns the calling convention of an architecture.
func ConventionFor(arch target.Architecture) (CallingConvention, error) {
	switch arch {
	case target.ArchitectureArm:
		return armConvention, nil
	case target.ArchitectureRiscV:
		return riscvConvention, nil
	default:
		return CallingConvention{}, fmt.Errorf("no calling convention for %s", arch)
	}
}

// Header returns the breakpoint stub written in front of the algorithm image.
func (c CallingConvention) Header() []byte {
	b := make([]byte, HeaderSize)
	for i := 0; i < HeaderSize; i += 4 {
		binary.LittleEndian.PutUint32(b[i:], c.Breakpoint)
	}
	return b
}

// ReturnAddress returns the value to load into the return address register
// so that a finished call lands on the breakpoint at address.
func (c CallingConvention) ReturnAddress(address uint32) uint32 {
	if c.Thumb {
		return address | 1
	}
	return address
}
