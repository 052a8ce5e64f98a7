package flash

import (
	"bytes"
	"context"
	"fmt"

	"github.com/moffa90/go-flashalgo/probe"
	"github.com/moffa90/go-flashalgo/target"
)

// Placement locates a loaded algorithm inside the core's RAM regions.
type Placement struct {
	// Region indexes the core's RAM regions in ascending address order
	Region int

	// Offset is the distance of the breakpoint header from the region start
	Offset uint64
}

// LoadedAlgorithm is an algorithm resident in target RAM, ready to be called.
//
// Memory layout, from the lowest address:
//
//	breakpoint header | instruction image | page buffer | stack
type LoadedAlgorithm struct {
	Algorithm  *target.FlashAlgorithm
	Core       target.Core
	Region     target.MemoryRegion
	Placement  Placement
	Convention probe.CallingConvention

	base         uint64
	bufferOffset uint64
	bufferSize   uint64
	size         uint64
}

// CodeBase returns the address the instruction image was loaded at.
func (l *LoadedAlgorithm) CodeBase() uint64 {
	return l.base + probe.HeaderSize
}

// EntryPoint returns the absolute address of an entry point offset.
func (l *LoadedAlgorithm) EntryPoint(offset uint32) uint64 {
	return l.CodeBase() + uint64(offset)
}

// StaticBase returns the address of the algorithm's static data.
func (l *LoadedAlgorithm) StaticBase() uint64 {
	return l.CodeBase() + uint64(l.Algorithm.DataSectionOffset())
}

// DataBuffer returns the address of the page buffer.
func (l *LoadedAlgorithm) DataBuffer() uint64 {
	return l.base + l.bufferOffset
}

// StackPointer returns the initial stack pointer, the top of the reserved stack.
func (l *LoadedAlgorithm) StackPointer() uint64 {
	return l.base + l.size
}

// ReturnAddress returns the value of the return address register for a call.
func (l *LoadedAlgorithm) ReturnAddress() uint64 {
	return uint64(l.Convention.ReturnAddress(uint32(l.base)))
}

// Size returns the RAM footprint of the loaded algorithm.
func (l *LoadedAlgorithm) Size() uint64 {
	return l.size
}

// LoadAlgorithm places alg in the smallest RAM region of core that fits it,
// halts the core, writes the breakpoint header, the instruction image and a
// zeroed page buffer, and reads header and image back.
//
// Placement failures, link errors during the write and read-back mismatches
// are reported as *AlgorithmLoadError.
func LoadAlgorithm(ctx context.Context, link probe.DebugAccess, v *target.Variant, core string,
	alg *target.FlashAlgorithm, stackSize uint64) (*LoadedAlgorithm, error) {
	c, ok := v.Core(core)
	if !ok {
		return nil, &UnknownCoreError{Variant: v.Name(), Core: core}
	}
	loadErr := func(reason string, err error) error {
		return &AlgorithmLoadError{Algorithm: alg.Name(), Reason: reason, Err: err}
	}

	conv, err := probe.ConventionFor(c.Architecture())
	if err != nil {
		return nil, loadErr("unsupported core", err)
	}

	imageSize := alignUp(uint64(probe.HeaderSize+alg.InstructionSize()), 8)
	bufferSize := alignUp(uint64(alg.Properties().PageSize), 8)
	size := imageSize + bufferSize + alignUp(stackSize, 8)

	regions := v.RegionsFor(core, target.RegionRAM)
	index := -1
	for i, r := range regions {
		start := alignUp(r.Range.Start, 8)
		if start+size > r.Range.End || start+size > 1<<32 {
			continue
		}
		if index < 0 || r.Range.Len() < regions[index].Range.Len() {
			index = i
		}
	}
	if index < 0 {
		return nil, loadErr(fmt.Sprintf("no RAM region of core %q fits 0x%X bytes", core, size), nil)
	}

	region := regions[index]
	base := alignUp(region.Range.Start, 8)
	l := &LoadedAlgorithm{
		Algorithm:    alg,
		Core:         c,
		Region:       region,
		Placement:    Placement{Region: index, Offset: base - region.Range.Start},
		Convention:   conv,
		base:         base,
		bufferOffset: imageSize,
		bufferSize:   bufferSize,
		size:         size,
	}

	if err := link.Halt(ctx, c.Access); err != nil {
		return nil, loadErr("halt core", err)
	}

	blob := make([]byte, imageSize+bufferSize)
	copy(blob, conv.Header())
	copy(blob[probe.HeaderSize:], alg.Instructions())
	if err := link.WriteMemory(ctx, c.Access, base, blob); err != nil {
		return nil, loadErr("write image", err)
	}

	want := blob[:probe.HeaderSize+alg.InstructionSize()]
	got := make([]byte, len(want))
	if err := link.ReadMemory(ctx, c.Access, base, got); err != nil {
		return nil, loadErr("read back image", err)
	}
	if i := mismatch(want, got); i >= 0 {
		return nil, loadErr(fmt.Sprintf("read back differs at 0x%08X", base+uint64(i)), nil)
	}

	return l, nil
}

// mismatch returns the index of the first differing byte, or -1.
func mismatch(want, got []byte) int {
	if bytes.Equal(want, got) {
		return -1
	}
	for i := range want {
		if i >= len(got) || want[i] != got[i] {
			return i
		}
	}
	return len(want)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}
