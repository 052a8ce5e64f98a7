package flash

import (
	"github.com/moffa90/go-flashalgo/target"
)

// Assignment binds part of a requested write to the algorithm and sector
// that handle it.
type Assignment struct {
	// Region is the Flash region containing Span
	Region target.MemoryRegion

	// Algorithm programs and erases Span
	Algorithm *target.FlashAlgorithm

	// Sector is the erase unit containing Span
	Sector target.Sector

	// Span is the requested bytes inside Sector
	Span target.Range
}

// Resolve maps every byte of r to a Flash region owned by core and to the
// algorithm and sector serving it. The returned spans are ascending and
// their union is exactly r. An empty range resolves to no assignments.
//
// Where several of the core's algorithms cover an address the single default
// one is chosen; more than one default is a *MultipleDefaultAlgorithmsError
// and no default at all an *AmbiguousAlgorithmError. Bytes outside the core's
// Flash regions, or not covered by any algorithm, are a *NoMatchingAlgorithmError.
func Resolve(v *target.Variant, core string, r target.Range) ([]Assignment, error) {
	if _, ok := v.Core(core); !ok {
		return nil, &UnknownCoreError{Variant: v.Name(), Core: core}
	}
	if r.Empty() {
		return nil, nil
	}

	regions := v.RegionsFor(core, target.RegionFlash)
	algorithms := v.AlgorithmsFor(core)

	var out []Assignment
	for addr := r.Start; addr < r.End; {
		region, ok := regionAt(regions, addr)
		if !ok {
			return nil, &NoMatchingAlgorithmError{
				Variant: v.Name(), Core: core, Address: addr,
				Reason: "address is not in a Flash region of the core",
			}
		}

		alg, err := algorithmAt(v.Name(), core, algorithms, addr)
		if err != nil {
			return nil, err
		}

		sector, ok := alg.SectorAt(addr)
		if !ok {
			return nil, &NoMatchingAlgorithmError{
				Variant: v.Name(), Core: core, Address: addr,
				Reason: "algorithm " + alg.Name() + " has no sector at address",
			}
		}

		span := sector.Range().Intersect(r).Intersect(region.Range)
		out = append(out, Assignment{
			Region:    region,
			Algorithm: alg,
			Sector:    sector,
			Span:      span,
		})
		addr = span.End
	}
	return out, nil
}

func regionAt(regions []target.MemoryRegion, addr uint64) (target.MemoryRegion, bool) {
	for _, r := range regions {
		if r.Range.Contains(addr) {
			return r, true
		}
	}
	return target.MemoryRegion{}, false
}

func algorithmAt(variant, core string, algorithms []*target.FlashAlgorithm, addr uint64) (*target.FlashAlgorithm, error) {
	var candidates, defaults []*target.FlashAlgorithm
	for _, a := range algorithms {
		if !a.Properties().AddressRange.Contains(addr) {
			continue
		}
		candidates = append(candidates, a)
		if a.IsDefault() {
			defaults = append(defaults, a)
		}
	}

	switch {
	case len(candidates) == 0:
		return nil, &NoMatchingAlgorithmError{
			Variant: variant, Core: core, Address: addr,
			Reason: "no algorithm of the core covers the address",
		}
	case len(candidates) == 1:
		return candidates[0], nil
	case len(defaults) == 1:
		return defaults[0], nil
	case len(defaults) > 1:
		return nil, &MultipleDefaultAlgorithmsError{
			Variant: variant, Core: core, Address: addr, Defaults: names(defaults),
		}
	default:
		return nil, &AmbiguousAlgorithmError{
			Variant: variant, Core: core, Address: addr, Candidates: names(candidates),
		}
	}
}

func names(algorithms []*target.FlashAlgorithm) []string {
	out := make([]string, len(algorithms))
	for i, a := range algorithms {
		out[i] = a.Name()
	}
	return out
}
