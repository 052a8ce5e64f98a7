package flash

import (
	"context"
	"fmt"
	"sync"

	"github.com/moffa90/go-flashalgo/probe"
	"github.com/moffa90/go-flashalgo/target"
	"github.com/retroenv/retrogolib/log"
)

// Flasher writes data into the flash of catalog variants through a debug link.
// It validates every write against the variant's memory map, loads the
// matching flash algorithms into target RAM and drives them.
//
// Flasher is safe for concurrent use; operations on one link are serialized.
type Flasher struct {
	mu      sync.Mutex
	link    probe.DebugAccess
	catalog *target.Catalog
	config  Config
	clock   clock
}

// New creates a new Flasher for the given debug link and target catalog.
//
// Example:
//
//	cat, _ := target.LoadFiles("nrf52.yaml")
//	f := flash.New(link, cat,
//	    flash.WithProgressCallback(progressFunc),
//	    flash.WithLogger(logger),
//	)
func New(link probe.DebugAccess, catalog *target.Catalog, opts ...Option) *Flasher {
	if link == nil {
		panic("link cannot be nil")
	}
	if catalog == nil {
		panic("catalog cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flasher{
		link:    link,
		catalog: catalog,
		config:  cfg,
		clock:   systemClock{},
	}
}

// Flash writes data to the flash of core starting at address:
//  1. Resolve every byte to a Flash region and an algorithm of the core
//  2. For each run of bytes served by one algorithm, load it into RAM
//  3. Init, erase the touched sectors, program the touched pages, UnInit
//  4. Read the programmed pages back if verification is enabled
//
// Memory map problems are reported before any link traffic. The operation
// can be cancelled via context between two sector or page operations.
//
// Example:
//
//	image, _ := os.ReadFile("app.bin")
//	err := f.Flash(ctx, "nRF52832_xxAA", "main", 0x0, image)
func (f *Flasher) Flash(ctx context.Context, variant, core string, address uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.catalog.Variant(variant)
	if !ok {
		return &UnknownVariantError{Variant: variant}
	}
	end := address + uint64(len(data))
	if end < address {
		return fmt.Errorf("data of %d bytes at 0x%X overflows the address space", len(data), address)
	}

	assignments, err := Resolve(v, core, target.Range{Start: address, End: end})
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		return nil
	}

	var plans []*plan
	for _, group := range groupAssignments(assignments) {
		plans = append(plans, newPlan(group, functionProgram, f.config.RestoreUnwrittenBytes))
	}

	if l := f.config.Logger; l != nil {
		l.Info("Flashing",
			log.String("variant", variant),
			log.String("core", core),
			log.Hex("address", address),
			log.Int("bytes", len(data)),
			log.Int("sessions", len(plans)))
	}

	return f.execute(ctx, v, core, plans, data, address)
}

// EraseAll erases every Flash region of core. Algorithms whose whole range
// is covered use their erase-all entry point when they have one, the others
// erase sector by sector.
func (f *Flasher) EraseAll(ctx context.Context, variant, core string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.catalog.Variant(variant)
	if !ok {
		return &UnknownVariantError{Variant: variant}
	}
	if _, ok := v.Core(core); !ok {
		return &UnknownCoreError{Variant: variant, Core: core}
	}

	var plans []*plan
	for _, region := range v.RegionsFor(core, target.RegionFlash) {
		assignments, err := Resolve(v, core, region.Range)
		if err != nil {
			return err
		}
		for _, group := range groupAssignments(assignments) {
			plans = append(plans, newPlan(group, functionErase, false))
		}
	}

	if l := f.config.Logger; l != nil {
		l.Info("Erasing flash",
			log.String("variant", variant),
			log.String("core", core),
			log.Int("sessions", len(plans)))
	}

	return f.execute(ctx, v, core, plans, nil, 0)
}

// execute runs the sessions in order, stopping at the first failure.
func (f *Flasher) execute(ctx context.Context, v *target.Variant, core string, plans []*plan,
	data []byte, dataBase uint64) error {
	progress := &tracker{
		callback: f.config.ProgressCallback,
		clock:    f.clock,
		start:    f.clock.now(),
	}
	for _, p := range plans {
		progress.totalSectors += len(p.sectors)
		progress.totalPages += len(p.pageAddrs)
	}

	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return &CancelledError{Err: err}
		}
		if err := f.runSession(ctx, v, core, p, data, dataBase, progress); err != nil {
			return fmt.Errorf("algorithm %s: %w", p.algorithm.Name(), err)
		}
	}

	progress.report(PhaseComplete, "", 0)
	if l := f.config.Logger; l != nil {
		l.Info("Flash operation complete",
			log.Int("sectors", progress.sectors),
			log.Int("pages", progress.pages),
			log.Int("bytes", progress.bytes),
			log.String("elapsed", f.clock.now().Sub(progress.start).String()))
	}
	return nil
}

func (f *Flasher) runSession(ctx context.Context, v *target.Variant, core string, p *plan,
	data []byte, dataBase uint64, progress *tracker) error {
	alg := p.algorithm
	progress.report(PhaseLoading, alg.Name(), 0)

	// Loading and reading back old flash contents run to completion; the
	// session checks for cancellation before Init.
	linkCtx := context.WithoutCancel(ctx)
	loaded, err := LoadAlgorithm(linkCtx, f.link, v, core, alg, f.config.StackSize)
	if err != nil {
		return err
	}
	if l := f.config.Logger; l != nil {
		l.Debug("Algorithm loaded",
			log.String("algorithm", alg.Name()),
			log.Hex("code_base", loaded.CodeBase()),
			log.Hex("data_buffer", loaded.DataBuffer()),
			log.Hex("stack_pointer", loaded.StackPointer()))
	}

	if p.function == functionProgram {
		err := p.fillPages(linkCtx, f.link, loaded.Core.Access, data, dataBase, f.config.RestoreUnwrittenBytes)
		if err != nil {
			return err
		}
		progress.totalPages -= len(p.pageAddrs) - len(p.pages)
	}

	s := &session{
		link:     f.link,
		cfg:      f.config,
		clock:    f.clock,
		loaded:   loaded,
		progress: progress,
		state:    stateIdle,
	}
	return s.run(ctx, p)
}
