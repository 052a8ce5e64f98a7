package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-flashalgo/probe"
	"github.com/retroenv/retrogolib/log"
)

type state int

const (
	stateIdle state = iota
	stateInitialized
	stateErasing
	stateProgrammingPage
	stateUninitialized
	stateDone
	stateError
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInitialized:
		return "initialized"
	case stateErasing:
		return "erasing"
	case stateProgrammingPage:
		return "programming page"
	case stateUninitialized:
		return "uninitialized"
	case stateDone:
		return "done"
	case stateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session drives one loaded algorithm through init, erase, program and
// uninit. Its state is discarded when the session ends.
type session struct {
	link     probe.DebugAccess
	cfg      Config
	clock    clock
	loaded   *LoadedAlgorithm
	progress *tracker
	state    state
}

// run executes the plan. UnInit is called exactly once after Init has been
// attempted, whatever the outcome of the earlier steps.
func (s *session) run(ctx context.Context, p *plan) error {
	if err := ctx.Err(); err != nil {
		return &CancelledError{Err: err}
	}

	alg := p.algorithm
	props := alg.Properties()
	base := p.regionBase()

	s.progress.report(PhaseInitializing, alg.Name(), base)
	s.state = stateInitialized
	code, err := s.call(ctx, invocation{
		phase:   PhaseInit,
		address: base,
		entry:   alg.PCInit(),
		args:    []uint32{uint32(base), s.cfg.ClockFrequency, p.function},
		timeout: props.ProgramPageTimeout,
	})
	primary := checkResult(PhaseInit, base, code, err)

	if primary == nil {
		primary = s.erase(ctx, p)
	}
	if primary == nil {
		primary = s.program(ctx, p)
	}

	cleanup := s.uninit(context.WithoutCancel(ctx), p)
	switch {
	case primary != nil && cleanup != nil:
		s.state = stateError
		if l := s.cfg.Logger; l != nil {
			l.Error("Uninit failed after earlier error",
				log.String("algorithm", alg.Name()),
				log.Err(cleanup))
		}
		return &CleanupError{Err: primary, Cleanup: cleanup}
	case primary != nil:
		s.state = stateError
		return primary
	case cleanup != nil:
		s.state = stateError
		return cleanup
	}
	s.state = stateUninitialized

	if s.cfg.VerifyAfterProgram && len(p.pages) > 0 {
		if err := s.verify(ctx, p); err != nil {
			s.state = stateError
			return err
		}
	}

	s.state = stateDone
	return nil
}

func (s *session) erase(ctx context.Context, p *plan) error {
	alg := p.algorithm
	props := alg.Properties()
	s.state = stateErasing

	if p.eraseAll {
		if err := ctx.Err(); err != nil {
			return &CancelledError{Err: err}
		}
		entry, _ := alg.PCEraseAll()
		start := props.AddressRange.Start
		s.progress.report(PhaseErasing, alg.Name(), start)
		if l := s.cfg.Logger; l != nil {
			l.Debug("Erasing whole range",
				log.String("algorithm", alg.Name()),
				log.Stringer("range", props.AddressRange))
		}

		code, err := s.call(ctx, invocation{
			phase:   PhaseEraseAll,
			address: start,
			entry:   entry,
			timeout: props.EraseSectorTimeout * time.Duration(len(alg.Sectors())),
		})
		if err := checkResult(PhaseEraseAll, start, code, err); err != nil {
			return err
		}
		s.progress.sectors += len(p.sectors)
		s.progress.report(PhaseErasing, alg.Name(), start)
		return nil
	}

	for _, sector := range p.sectors {
		if err := ctx.Err(); err != nil {
			return &CancelledError{Err: err}
		}
		s.progress.report(PhaseErasing, alg.Name(), sector.Address)
		if l := s.cfg.Logger; l != nil {
			l.Debug("Erasing sector",
				log.Hex("address", sector.Address),
				log.Hex("size", sector.Size))
		}

		code, err := s.call(ctx, invocation{
			phase:   PhaseEraseSector,
			address: sector.Address,
			entry:   alg.PCEraseSector(),
			args:    []uint32{uint32(sector.Address)},
			timeout: props.EraseSectorTimeout,
		})
		if err := checkResult(PhaseEraseSector, sector.Address, code, err); err != nil {
			return err
		}
		s.progress.sectors++
	}
	return nil
}

func (s *session) program(ctx context.Context, p *plan) error {
	alg := p.algorithm
	props := alg.Properties()
	buffer := s.loaded.DataBuffer()
	access := s.loaded.Core.Access

	for _, pg := range p.pages {
		if err := ctx.Err(); err != nil {
			return &CancelledError{Err: err}
		}
		s.state = stateProgrammingPage
		s.progress.report(PhaseProgramming, alg.Name(), pg.address)

		if err := s.link.WriteMemory(context.WithoutCancel(ctx), access, buffer, pg.data); err != nil {
			return fmt.Errorf("%s: write page buffer: %w", PhaseProgramPage, err)
		}
		code, err := s.call(ctx, invocation{
			phase:   PhaseProgramPage,
			address: pg.address,
			entry:   alg.PCProgramPage(),
			args:    []uint32{uint32(pg.address), props.PageSize, uint32(buffer)},
			timeout: props.ProgramPageTimeout,
		})
		if err := checkResult(PhaseProgramPage, pg.address, code, err); err != nil {
			return err
		}
		s.progress.pages++
		s.progress.bytes += len(pg.data)
	}
	return nil
}

func (s *session) uninit(ctx context.Context, p *plan) error {
	alg := p.algorithm
	base := p.regionBase()
	s.progress.report(PhaseUninitializing, alg.Name(), base)

	code, err := s.call(ctx, invocation{
		phase:   PhaseUninit,
		address: base,
		entry:   alg.PCUninit(),
		args:    []uint32{p.function},
		timeout: alg.Properties().ProgramPageTimeout,
	})
	return checkResult(PhaseUninit, base, code, err)
}

// verify reads every programmed page back and compares it to what was written.
func (s *session) verify(ctx context.Context, p *plan) error {
	access := s.loaded.Core.Access
	for _, pg := range p.pages {
		if err := ctx.Err(); err != nil {
			return &CancelledError{Err: err}
		}
		s.progress.report(PhaseVerifying, p.algorithm.Name(), pg.address)

		got := make([]byte, len(pg.data))
		if err := s.link.ReadMemory(context.WithoutCancel(ctx), access, pg.address, got); err != nil {
			return fmt.Errorf("verify page 0x%08X: %w", pg.address, err)
		}
		if i := mismatch(pg.data, got); i >= 0 {
			return &VerificationMismatchError{
				Address:  pg.address + uint64(i),
				Expected: pg.data[i],
				Actual:   got[i],
			}
		}
	}
	return nil
}

func (s *session) logHaltFailure(phase Phase, err error) {
	if l := s.cfg.Logger; l != nil {
		l.Error("Halting timed out core failed",
			log.Stringer("phase", phase),
			log.Err(err))
	}
}

// checkResult turns a call outcome into the error the session reports.
func checkResult(phase Phase, address uint64, code uint32, err error) error {
	if err != nil {
		return err
	}
	if code != 0 {
		return &DeviceError{Phase: phase, Address: address, Code: code}
	}
	return nil
}

// tracker accumulates progress over all sessions of one operation.
type tracker struct {
	callback     ProgressCallback
	clock        clock
	start        time.Time
	totalSectors int
	totalPages   int
	sectors      int
	pages        int
	bytes        int
}

func (t *tracker) report(phase, algorithm string, address uint64) {
	if t.callback == nil {
		return
	}

	percentage := 0.0
	if total := t.totalSectors + t.totalPages; total > 0 {
		percentage = float64(t.sectors+t.pages) / float64(total) * 100
	}
	if phase == PhaseComplete {
		percentage = 100
	}

	t.callback(Progress{
		Phase:         phase,
		Algorithm:     algorithm,
		Address:       address,
		CurrentSector: t.sectors,
		TotalSectors:  t.totalSectors,
		CurrentPage:   t.pages,
		TotalPages:    t.totalPages,
		Percentage:    percentage,
		BytesWritten:  t.bytes,
		ElapsedTime:   t.clock.now().Sub(t.start),
	})
}
