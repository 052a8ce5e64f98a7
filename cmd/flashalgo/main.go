// Package main implements a command line flasher that runs CMSIS flash
// algorithms on a target through a GDB server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/moffa90/go-flashalgo/flash"
	"github.com/moffa90/go-flashalgo/gdbremote"
	"github.com/moffa90/go-flashalgo/target"
	"github.com/retroenv/retrogolib/app"
	"github.com/retroenv/retrogolib/log"
)

var version = "dev"

func main() {
	ctx := app.Context()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "%s\n\n", usageErr.msg)
			usageErr.showUsage(os.Stderr)
			os.Exit(2)
		}
		createLogger(false, false).Fatal(err.Error())
	}

	logger := createLogger(opts.Debug, opts.Quiet)
	logger.Info("flashalgo", log.String("version", version))

	if err := run(ctx, logger, opts); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Operation cancelled")
			os.Exit(1)
		}
		logger.Error("Flashing failed", log.Err(err))
		os.Exit(1)
	}
}

// createLogger creates a logger with appropriate settings.
func createLogger(debug, quiet bool) *log.Logger {
	cfg := log.DefaultConfig()
	if debug {
		cfg.Level = log.DebugLevel
	} else if quiet {
		cfg.Level = log.ErrorLevel
	}
	return log.NewWithConfig(cfg)
}

func run(ctx context.Context, logger *log.Logger, opts options) error {
	catalog, err := target.LoadFiles(opts.Targets...)
	if err != nil {
		return err
	}
	v, ok := catalog.Variant(opts.Chip)
	if !ok {
		return &flash.UnknownVariantError{Variant: opts.Chip}
	}
	core := opts.Core
	if core == "" {
		cores := v.Cores()
		if len(cores) == 0 {
			return &flash.UnknownCoreError{Variant: v.Name()}
		}
		core = cores[0].Name
	}

	var image []byte
	address := opts.Address
	if !opts.EraseAll {
		if image, err = os.ReadFile(opts.Image); err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		if !opts.HasAddr {
			boot, ok := bootAddress(v, core)
			if !ok {
				return fmt.Errorf("core %q of %s has no flash, pass -address", core, v.Name())
			}
			address = boot
		}
	}

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	flashOpts := []flash.Option{
		flash.WithLogger(logger),
		flash.WithVerifyAfterProgram(opts.Verify),
		flash.WithRestoreUnwrittenBytes(opts.Restore),
	}
	if !opts.Quiet {
		flashOpts = append(flashOpts, flash.WithProgressCallback(progressPrinter()))
	}
	f := flash.New(client, catalog, flashOpts...)

	start := time.Now()
	if opts.EraseAll {
		logger.Info("Erasing flash", log.String("chip", v.Name()), log.String("core", core))
		err = f.EraseAll(ctx, v.Name(), core)
	} else {
		logger.Info("Flashing image",
			log.String("file", opts.Image),
			log.Int("bytes", len(image)),
			log.Hex("address", address))
		err = f.Flash(ctx, v.Name(), core, address, image)
	}
	if !opts.Quiet {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	logger.Info("Done", log.String("elapsed", time.Since(start).Round(time.Millisecond).String()))
	return nil
}

// bootAddress returns the start of the core's boot flash, or of its first
// flash region when none is marked as boot memory.
func bootAddress(v *target.Variant, core string) (uint64, bool) {
	regions := v.RegionsFor(core, target.RegionFlash)
	if len(regions) == 0 {
		return 0, false
	}
	for _, r := range regions {
		if r.IsBootMemory {
			return r.Range.Start, true
		}
	}
	return regions[0].Range.Start, true
}

func connect(ctx context.Context, opts options) (*gdbremote.Client, error) {
	gdbOpts := []gdbremote.Option{gdbremote.WithReplyTimeout(opts.Timeout)}
	if opts.GDB != "" {
		return gdbremote.DialTCP(ctx, opts.GDB, gdbOpts...)
	}
	return gdbremote.OpenSerial(opts.Serial, opts.Baud, gdbOpts...)
}

func progressPrinter() flash.ProgressCallback {
	return func(p flash.Progress) {
		switch p.Phase {
		case flash.PhaseErasing:
			fmt.Printf("\r[%-12s] %5.1f%% sector %d/%d at 0x%08X", p.Phase, p.Percentage,
				p.CurrentSector, p.TotalSectors, p.Address)
		case flash.PhaseProgramming, flash.PhaseVerifying:
			fmt.Printf("\r[%-12s] %5.1f%% page %d/%d, %d bytes", p.Phase, p.Percentage,
				p.CurrentPage, p.TotalPages, p.BytesWritten)
		default:
			fmt.Printf("\r[%-12s] %5.1f%% %s%20s", p.Phase, p.Percentage, p.Algorithm, "")
		}
	}
}
