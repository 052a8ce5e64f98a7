// Package flash programs non-volatile memory through vendor flash algorithms
// executed on the target core.
//
// # Overview
//
// A flash algorithm is a position independent blob with Init, UnInit,
// EraseSector, ProgramPage and optionally EraseChip entry points. The package:
//   - Validates the requested write against the variant's memory map
//   - Picks the algorithm serving every byte (Resolve)
//   - Loads the algorithm into a RAM region of the core (LoadAlgorithm)
//   - Calls its entry points by setting up registers, resuming the core and
//     polling until it halts on the breakpoint placed at the return address
//
// # Basic Usage
//
//	cat, err := target.LoadFiles("nrf52.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	link, err := gdbremote.DialTCP(ctx, "localhost:3333")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer link.Close()
//
//	f := flash.New(link, cat)
//	err = f.Flash(ctx, "nRF52832_xxAA", "main", 0x0, image)
//
// # Configuration Options
//
//	f := flash.New(link, cat,
//	    flash.WithProgressCallback(progressFunc),
//	    flash.WithLogger(logger),
//	    flash.WithPollInterval(500*time.Microsecond),
//	    flash.WithStackSize(0x800),
//	    flash.WithRestoreUnwrittenBytes(true),
//	    flash.WithVerifyAfterProgram(true),
//	)
//
// # Sessions
//
// Consecutive bytes served by the same algorithm form one session:
//
//	Idle -> Initialized -> Erasing / ProgrammingPage -> Uninitialized -> Done
//
// UnInit runs exactly once per session once Init was attempted, also when an
// earlier step failed. Sessions run one after another in ascending address order.
//
// # Error Handling
//
// Memory map errors are reported before any link traffic:
//   - UnknownVariantError, UnknownCoreError
//   - NoMatchingAlgorithmError: address outside the core's Flash regions or algorithms
//   - AmbiguousAlgorithmError: several algorithms cover an address, none is default
//   - MultipleDefaultAlgorithmsError: several default algorithms cover an address
//
// Runtime errors:
//   - AlgorithmLoadError: no RAM region fits, or the loaded image does not read back
//   - TimeoutError: an entry point did not return within its declared timeout
//   - DeviceError: an entry point returned a non-zero code
//   - VerificationMismatchError: programmed flash differs from the data
//   - CancelledError: the context was cancelled between two operations
//   - CleanupError: UnInit failed after an earlier error, which it wraps
package flash
