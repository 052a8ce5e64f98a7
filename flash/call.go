package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-flashalgo/probe"
)

// clock abstracts time for the halt polling loop.
type clock interface {
	now() time.Time
	sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) now() time.Time        { return time.Now() }
func (systemClock) sleep(d time.Duration) { time.Sleep(d) }

// invocation is a single call of an algorithm entry point.
type invocation struct {
	phase   Phase
	address uint64
	entry   uint32
	args    []uint32
	timeout time.Duration
}

type regWrite struct {
	reg   probe.Register
	value uint32
}

// call runs an entry point of the loaded algorithm and returns its result.
// The registers are set up following the core's calling convention with the
// return address on the breakpoint header, so the core halts when the
// function returns. A core still running after the timeout is halted and a
// *TimeoutError returned.
//
// A started call is never abandoned: link traffic ignores cancellation of
// ctx, which callers check between calls.
func (s *session) call(ctx context.Context, inv invocation) (uint32, error) {
	ctx = context.WithoutCancel(ctx)
	l := s.loaded
	conv := l.Convention
	access := l.Core.Access

	regs := make([]regWrite, 0, 9)
	for i, a := range inv.args {
		regs = append(regs, regWrite{conv.Arguments[i], a})
	}
	set := func(reg probe.Register, value uint64) {
		regs = append(regs, regWrite{reg, uint32(value)})
	}
	set(conv.PC, l.EntryPoint(inv.entry))
	set(conv.SP, l.StackPointer())
	set(conv.ReturnAddr, l.ReturnAddress())
	set(conv.StaticBase, l.StaticBase())
	if conv.HasStatusReg {
		set(conv.StatusReg, probe.ThumbBit)
	}

	for _, r := range regs {
		if err := s.link.WriteCoreRegister(ctx, access, r.reg, r.value); err != nil {
			return 0, fmt.Errorf("%s: write register %d: %w", inv.phase, r.reg, err)
		}
	}

	if err := s.link.Run(ctx, access); err != nil {
		return 0, fmt.Errorf("%s: run core: %w", inv.phase, err)
	}

	deadline := s.clock.now().Add(inv.timeout)
	for {
		halted, err := s.link.IsHalted(ctx, access)
		if err != nil {
			return 0, fmt.Errorf("%s: poll core: %w", inv.phase, err)
		}
		if halted {
			break
		}

		remaining := deadline.Sub(s.clock.now())
		if remaining <= 0 {
			if err := s.link.Halt(ctx, access); err != nil {
				s.logHaltFailure(inv.phase, err)
			}
			return 0, &TimeoutError{Phase: inv.phase, Address: inv.address, Timeout: inv.timeout}
		}
		s.clock.sleep(min(s.cfg.PollInterval, remaining))
	}

	result, err := s.link.ReadCoreRegister(ctx, access, conv.Result)
	if err != nil {
		return 0, fmt.Errorf("%s: read result: %w", inv.phase, err)
	}
	return result, nil
}
