package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-flashalgo/probe"
	"github.com/moffa90/go-flashalgo/target"
)

// Function identifies a flash algorithm entry point.
type Function int

// Algorithm entry points.
const (
	FuncInit Function = iota
	FuncUninit
	FuncProgramPage
	FuncEraseSector
	FuncEraseAll
)

func (f Function) String() string {
	switch f {
	case FuncInit:
		return "Init"
	case FuncUninit:
		return "UnInit"
	case FuncProgramPage:
		return "ProgramPage"
	case FuncEraseSector:
		return "EraseSector"
	case FuncEraseAll:
		return "EraseChip"
	default:
		return fmt.Sprintf("Function(%d)", int(f))
	}
}

// Call records one algorithm entry point invocation and the registers the
// caller set up for it.
type Call struct {
	Function      Function
	Algorithm     string
	AP            uint8
	Args          [4]uint32
	PC            uint32
	SP            uint32
	ReturnAddress uint32
	StaticBase    uint32
	Status        uint32
	CodeBase      uint64
}

var _ probe.DebugAccess = (*Target)(nil)

// ErrNotHalted is returned for register access on a running core.
var ErrNotHalted = errors.New("core is running")

type segment struct {
	kind target.RegionKind
	rng  target.Range
	data []byte
}

type coreState struct {
	core   target.Core
	conv   probe.CallingConvention
	regs   map[probe.Register]uint32
	halted bool
}

// Target is an in-memory microcontroller implementing probe.DebugAccess.
//
// Memory is backed by byte slices for every region of the variant. When a
// core is resumed at the entry point of one of the variant's flash algorithms
// (found by matching the instruction image in RAM), the entry point is
// executed against the simulated flash and the core halts immediately with
// the result in the result register, as if the function had returned to the
// breakpoint header. Failures, hangs and link faults can be injected.
//
// Target is safe for concurrent use.
type Target struct {
	mu         sync.Mutex
	variant    *target.Variant
	memory     []*segment
	cores      map[uint8]*coreState
	calls      []Call
	results    map[Function]uint32
	hang       map[Function]bool
	linkErr    error
	dropWrites bool
	corrupt    bool
}

// New creates a simulated target for variant. Flash starts out erased with
// the erased byte value of the algorithm covering it (0xFF otherwise), RAM
// is zeroed and every core is halted.
func New(v *target.Variant) *Target {
	t := &Target{
		variant: v,
		cores:   make(map[uint8]*coreState),
		results: make(map[Function]uint32),
		hang:    make(map[Function]bool),
	}

	for _, r := range v.MemoryRegions() {
		seg := &segment{kind: r.Kind, rng: r.Range, data: make([]byte, r.Range.Len())}
		if r.Kind == target.RegionFlash {
			for i := range seg.data {
				seg.data[i] = 0xFF
			}
			for _, a := range v.FlashAlgorithms() {
				props := a.Properties()
				if overlap := props.AddressRange.Intersect(r.Range); !overlap.Empty() {
					fill(seg.data[overlap.Start-r.Range.Start:overlap.End-r.Range.Start], props.ErasedByteValue)
				}
			}
		}
		t.memory = append(t.memory, seg)
	}

	for _, c := range v.Cores() {
		conv, err := probe.ConventionFor(c.Architecture())
		if err != nil {
			continue
		}
		t.cores[c.Access.AP] = &coreState{
			core:   c,
			conv:   conv,
			regs:   make(map[probe.Register]uint32),
			halted: true,
		}
	}
	return t
}

// SetResult makes every later call of fn return code instead of running it.
// A zero code restores normal execution.
func (t *Target) SetResult(fn Function, code uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if code == 0 {
		delete(t.results, fn)
		return
	}
	t.results[fn] = code
}

// SetHang makes every later call of fn never return.
func (t *Target) SetHang(fn Function, hang bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hang[fn] = hang
}

// SetLinkError makes every debug access fail with err. Nil restores the link.
func (t *Target) SetLinkError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linkErr = err
}

// SetDropWrites makes memory writes report success without storing anything.
func (t *Target) SetDropWrites(drop bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropWrites = drop
}

// SetCorruptProgram makes ProgramPage clear bit 0 of the first programmed byte.
func (t *Target) SetCorruptProgram(corrupt bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.corrupt = corrupt
}

// Calls returns the entry point invocations seen so far.
func (t *Target) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// Functions returns the sequence of invoked entry points.
func (t *Target) Functions() []Function {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Function, len(t.calls))
	for i, c := range t.calls {
		out[i] = c.Function
	}
	return out
}

// Load stores data at address, bypassing injected faults.
func (t *Target) Load(address uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mem, err := t.slice(address, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(mem, data)
	return nil
}

// Peek returns a copy of size bytes at address, bypassing injected faults.
func (t *Target) Peek(address, size uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mem, err := t.slice(address, size)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(mem), nil
}

// ReadCoreRegister implements probe.DebugAccess.
func (t *Target) ReadCoreRegister(_ context.Context, core target.CoreAccessOptions, reg probe.Register) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.halted(core)
	if err != nil {
		return 0, err
	}
	return c.regs[reg], nil
}

// WriteCoreRegister implements probe.DebugAccess.
func (t *Target) WriteCoreRegister(_ context.Context, core target.CoreAccessOptions, reg probe.Register, value uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.halted(core)
	if err != nil {
		return err
	}
	c.regs[reg] = value
	return nil
}

// ReadMemory implements probe.DebugAccess.
func (t *Target) ReadMemory(_ context.Context, core target.CoreAccessOptions, address uint64, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.lookup(core); err != nil {
		return err
	}
	mem, err := t.slice(address, uint64(len(buf)))
	if err != nil {
		return err
	}
	copy(buf, mem)
	return nil
}

// WriteMemory implements probe.DebugAccess. Flash is not writable this way.
func (t *Target) WriteMemory(_ context.Context, core target.CoreAccessOptions, address uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.lookup(core); err != nil {
		return err
	}
	seg, err := t.segment(address, uint64(len(data)))
	if err != nil {
		return err
	}
	if seg.kind != target.RegionRAM {
		return fmt.Errorf("write to flash at 0x%08X through the memory interface", address)
	}
	if t.dropWrites {
		return nil
	}
	copy(seg.data[address-seg.rng.Start:], data)
	return nil
}

// Halt implements probe.DebugAccess.
func (t *Target) Halt(_ context.Context, core target.CoreAccessOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.lookup(core)
	if err != nil {
		return err
	}
	c.halted = true
	return nil
}

// IsHalted implements probe.DebugAccess.
func (t *Target) IsHalted(_ context.Context, core target.CoreAccessOptions) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.lookup(core)
	if err != nil {
		return false, err
	}
	return c.halted, nil
}

// Run implements probe.DebugAccess. The algorithm function at the program
// counter runs to completion before Run returns, unless it was set to hang.
func (t *Target) Run(_ context.Context, core target.CoreAccessOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.halted(core)
	if err != nil {
		return err
	}

	pc := c.regs[c.conv.PC]
	alg, fn, codeBase, ok := t.findEntry(c.core.Name, uint64(pc))
	if !ok {
		c.halted = false
		return nil
	}

	call := Call{
		Function:      fn,
		Algorithm:     alg.Name(),
		AP:            core.AP,
		PC:            pc,
		SP:            c.regs[c.conv.SP],
		ReturnAddress: c.regs[c.conv.ReturnAddr],
		StaticBase:    c.regs[c.conv.StaticBase],
		CodeBase:      codeBase,
	}
	for i, r := range c.conv.Arguments {
		call.Args[i] = c.regs[r]
	}
	if c.conv.HasStatusReg {
		call.Status = c.regs[c.conv.StatusReg]
	}
	t.calls = append(t.calls, call)

	if t.hang[fn] {
		c.halted = false
		return nil
	}

	result, ok := t.results[fn]
	if !ok {
		result = t.execute(alg, call)
	}
	c.regs[c.conv.Result] = result
	c.halted = true
	return nil
}

type entryPoint struct {
	fn     Function
	offset uint32
}

// findEntry matches the program counter against the entry points of the
// core's algorithms whose image is present in RAM.
func (t *Target) findEntry(core string, pc uint64) (*target.FlashAlgorithm, Function, uint64, bool) {
	for _, alg := range t.variant.AlgorithmsFor(core) {
		entries := []entryPoint{
			{FuncInit, alg.PCInit()},
			{FuncUninit, alg.PCUninit()},
			{FuncProgramPage, alg.PCProgramPage()},
			{FuncEraseSector, alg.PCEraseSector()},
		}
		if off, ok := alg.PCEraseAll(); ok {
			entries = append(entries, entryPoint{FuncEraseAll, off})
		}

		image := alg.Instructions()
		for _, e := range entries {
			if pc < uint64(e.offset) {
				continue
			}
			base := pc - uint64(e.offset)
			mem, err := t.slice(base, uint64(len(image)))
			if err == nil && bytes.Equal(mem, image) {
				return alg, e.fn, base, true
			}
		}
	}
	return nil, 0, 0, false
}

// execute applies an entry point to the simulated flash and returns its result.
func (t *Target) execute(alg *target.FlashAlgorithm, call Call) uint32 {
	props := alg.Properties()
	if call.StaticBase != uint32(call.CodeBase)+alg.DataSectionOffset() {
		return 0xBAD0
	}

	switch call.Function {
	case FuncInit, FuncUninit:
		return 0

	case FuncEraseSector:
		sector, ok := alg.SectorAt(uint64(call.Args[0]))
		if !ok || sector.Address != uint64(call.Args[0]) {
			return 1
		}
		mem, err := t.slice(sector.Address, sector.Size)
		if err != nil {
			return 1
		}
		fill(mem, props.ErasedByteValue)
		return 0

	case FuncEraseAll:
		rng := props.AddressRange
		mem, err := t.slice(rng.Start, rng.Len())
		if err != nil {
			return 1
		}
		fill(mem, props.ErasedByteValue)
		return 0

	case FuncProgramPage:
		address, size, buffer := uint64(call.Args[0]), uint64(call.Args[1]), uint64(call.Args[2])
		dst, err := t.slice(address, size)
		if err != nil {
			return 1
		}
		src, err := t.slice(buffer, size)
		if err != nil {
			return 1
		}
		// Programming only moves bits away from the erased value.
		for i := range dst {
			if props.ErasedByteValue == 0xFF {
				dst[i] &= src[i]
			} else {
				dst[i] |= src[i]
			}
		}
		if t.corrupt && len(dst) > 0 {
			dst[0] &^= 1
		}
		return 0
	}
	return 1
}

func (t *Target) lookup(core target.CoreAccessOptions) (*coreState, error) {
	if t.linkErr != nil {
		return nil, t.linkErr
	}
	c, ok := t.cores[core.AP]
	if !ok {
		return nil, fmt.Errorf("no core on access port %d", core.AP)
	}
	return c, nil
}

func (t *Target) halted(core target.CoreAccessOptions) (*coreState, error) {
	c, err := t.lookup(core)
	if err != nil {
		return nil, err
	}
	if !c.halted {
		return nil, ErrNotHalted
	}
	return c, nil
}

func (t *Target) segment(address, size uint64) (*segment, error) {
	want := target.Range{Start: address, End: address + size}
	for _, s := range t.memory {
		if s.rng.Contains(address) && s.rng.ContainsRange(want) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("access to unmapped memory %s", want)
}

func (t *Target) slice(address, size uint64) ([]byte, error) {
	s, err := t.segment(address, size)
	if err != nil {
		return nil, err
	}
	off := address - s.rng.Start
	return s.data[off : off+size], nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
