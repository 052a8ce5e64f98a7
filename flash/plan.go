package flash

import (
	"context"
	"fmt"
	"slices"

	"github.com/moffa90/go-flashalgo/probe"
	"github.com/moffa90/go-flashalgo/target"
)

// Function codes passed to Init and UnInit.
const (
	functionErase   uint32 = 1
	functionProgram uint32 = 2
)

type page struct {
	address uint64
	data    []byte
}

// plan is the work of one session: a run of consecutive assignments served
// by the same algorithm.
type plan struct {
	algorithm   *target.FlashAlgorithm
	assignments []Assignment
	function    uint32
	span        target.Range
	sectors     []target.Sector
	pages       []page
	pageAddrs   []uint64
	eraseAll    bool
}

// groupAssignments splits assignments into runs that share an algorithm and
// a Flash region.
func groupAssignments(assignments []Assignment) [][]Assignment {
	var groups [][]Assignment
	for i, a := range assignments {
		prev := assignments[max(i-1, 0)]
		if i == 0 || a.Algorithm != prev.Algorithm || a.Region.Range != prev.Region.Range {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], a)
	}
	return groups
}

// regionBase returns the start of the Flash region the session works on.
func (p *plan) regionBase() uint64 {
	return p.assignments[0].Region.Range.Start
}

// newPlan computes the sectors to erase and, for program sessions, the pages
// to write. Page and sector sizes divide each other, so the sectors touched by
// the written pages and the pages of those sectors close over each other in
// one step.
func newPlan(group []Assignment, function uint32, restore bool) *plan {
	alg := group[0].Algorithm
	props := alg.Properties()
	p := &plan{
		algorithm:   alg,
		assignments: group,
		function:    function,
		span:        target.Range{Start: group[0].Span.Start, End: group[len(group)-1].Span.End},
	}
	_, hasEraseAll := alg.PCEraseAll()
	p.eraseAll = hasEraseAll && p.span == props.AddressRange

	if function == functionErase {
		for _, a := range group {
			p.sectors = appendSector(p.sectors, a.Sector)
		}
		return p
	}

	pageSize := uint64(props.PageSize)
	base := props.AddressRange.Start
	pageOf := func(addr uint64) uint64 {
		return base + (addr-base)/pageSize*pageSize
	}

	var pages []uint64
	for _, a := range group {
		for addr := pageOf(a.Span.Start); addr < a.Span.End; addr += pageSize {
			pages = append(pages, addr)
		}
	}
	pages = sortedUnique(pages)

	for _, pa := range pages {
		for addr := pa; addr < pa+pageSize; {
			s, ok := alg.SectorAt(addr)
			if !ok {
				break
			}
			p.sectors = appendSector(p.sectors, s)
			addr = s.Address + s.Size
		}
	}
	slices.SortFunc(p.sectors, func(a, b target.Sector) int {
		switch {
		case a.Address < b.Address:
			return -1
		case a.Address > b.Address:
			return 1
		}
		return 0
	})

	if restore {
		for _, s := range p.sectors {
			for addr := pageOf(s.Address); addr < s.Address+s.Size; addr += pageSize {
				pages = append(pages, addr)
			}
		}
		pages = sortedUnique(pages)
	}
	p.pageAddrs = pages
	return p
}

// fillPages builds the contents of every page: the previous flash contents
// when restoring, the erased byte value otherwise, overlaid with the
// requested data. When restoring, pages that end up fully erased are dropped.
func (p *plan) fillPages(ctx context.Context, link probe.DebugAccess, access target.CoreAccessOptions,
	data []byte, dataBase uint64, restore bool) error {
	props := p.algorithm.Properties()
	pageSize := uint64(props.PageSize)
	erased := props.ErasedByteValue

	p.pages = p.pages[:0]
	for _, addr := range p.pageAddrs {
		buf := make([]byte, pageSize)
		pageRange := target.Range{Start: addr, End: addr + pageSize}
		for i := range buf {
			buf[i] = erased
		}
		if restore {
			old := pageRange.Intersect(props.AddressRange)
			if !old.Empty() {
				if err := link.ReadMemory(ctx, access, old.Start, buf[old.Start-addr:old.End-addr]); err != nil {
					return fmt.Errorf("read flash at 0x%08X: %w", old.Start, err)
				}
			}
		}

		for _, a := range p.assignments {
			overlap := a.Span.Intersect(pageRange)
			if overlap.Empty() {
				continue
			}
			copy(buf[overlap.Start-addr:overlap.End-addr], data[overlap.Start-dataBase:overlap.End-dataBase])
		}

		if restore && allErased(buf, erased) {
			continue
		}
		p.pages = append(p.pages, page{address: addr, data: buf})
	}
	return nil
}

func appendSector(sectors []target.Sector, s target.Sector) []target.Sector {
	if slices.Contains(sectors, s) {
		return sectors
	}
	return append(sectors, s)
}

func sortedUnique(v []uint64) []uint64 {
	slices.Sort(v)
	return slices.Compact(v)
}

func allErased(buf []byte, erased byte) bool {
	for _, b := range buf {
		if b != erased {
			return false
		}
	}
	return true
}
