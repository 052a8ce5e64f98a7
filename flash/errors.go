package flash

import (
	"fmt"
	"strings"
	"time"
)

// Phase names the algorithm function a runtime error happened in.
type Phase int

// Algorithm functions as reported in errors.
const (
	PhaseInit Phase = iota
	PhaseEraseSector
	PhaseEraseAll
	PhaseProgramPage
	PhaseUninit
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseEraseSector:
		return "erase sector"
	case PhaseEraseAll:
		return "erase all"
	case PhaseProgramPage:
		return "program page"
	case PhaseUninit:
		return "uninit"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// UnknownVariantError indicates that the catalog has no variant of the requested name.
type UnknownVariantError struct {
	Variant string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown variant %q", e.Variant)
}

// UnknownCoreError indicates that the variant has no core of the requested name.
type UnknownCoreError struct {
	Variant string
	Core    string
}

func (e *UnknownCoreError) Error() string {
	return fmt.Sprintf("variant %q has no core %q", e.Variant, e.Core)
}

// NoMatchingAlgorithmError indicates that an address is outside every Flash
// region of the core, or that no algorithm of the core covers it.
type NoMatchingAlgorithmError struct {
	Variant string
	Core    string
	Address uint64
	Reason  string
}

func (e *NoMatchingAlgorithmError) Error() string {
	return fmt.Sprintf("no flash algorithm for address 0x%08X on %s/%s: %s",
		e.Address, e.Variant, e.Core, e.Reason)
}

// AmbiguousAlgorithmError indicates that several algorithms cover an address
// and none of them is marked default.
type AmbiguousAlgorithmError struct {
	Variant    string
	Core       string
	Address    uint64
	Candidates []string
}

func (e *AmbiguousAlgorithmError) Error() string {
	return fmt.Sprintf("address 0x%08X on %s/%s is covered by algorithms %s and none is default",
		e.Address, e.Variant, e.Core, strings.Join(e.Candidates, ", "))
}

// MultipleDefaultAlgorithmsError indicates that more than one default
// algorithm covers an address.
type MultipleDefaultAlgorithmsError struct {
	Variant  string
	Core     string
	Address  uint64
	Defaults []string
}

func (e *MultipleDefaultAlgorithmsError) Error() string {
	return fmt.Sprintf("address 0x%08X on %s/%s is covered by several default algorithms: %s",
		e.Address, e.Variant, e.Core, strings.Join(e.Defaults, ", "))
}

// AlgorithmLoadError indicates that an algorithm could not be placed in,
// written to or read back from target RAM.
type AlgorithmLoadError struct {
	Algorithm string
	Reason    string
	Err       error
}

func (e *AlgorithmLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load algorithm %s: %s: %v", e.Algorithm, e.Reason, e.Err)
	}
	return fmt.Sprintf("load algorithm %s: %s", e.Algorithm, e.Reason)
}

func (e *AlgorithmLoadError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates that the core did not halt within the declared
// timeout of an algorithm function.
type TimeoutError struct {
	Phase   Phase
	Address uint64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s at 0x%08X did not complete within %s", e.Phase, e.Address, e.Timeout)
}

// DeviceError indicates that an algorithm function returned a non-zero code.
type DeviceError struct {
	Phase   Phase
	Address uint64
	Code    uint32
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s at 0x%08X failed with code 0x%X", e.Phase, e.Address, e.Code)
}

// VerificationMismatchError indicates that flash read back after programming
// differs from the requested contents.
type VerificationMismatchError struct {
	Address  uint64
	Expected byte
	Actual   byte
}

func (e *VerificationMismatchError) Error() string {
	return fmt.Sprintf("verification failed at 0x%08X: expected 0x%02X, got 0x%02X",
		e.Address, e.Expected, e.Actual)
}

// CancelledError indicates that the context was cancelled between two
// sector or page operations. The session was still uninitialized.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("flashing cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// CleanupError is returned when uninit fails after an earlier error.
// Both errors are reachable through errors.Is and errors.As; Err is the
// one that stopped the session.
type CleanupError struct {
	Err     error
	Cleanup error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%v (cleanup also failed: %v)", e.Err, e.Cleanup)
}

func (e *CleanupError) Unwrap() []error {
	return []error{e.Err, e.Cleanup}
}
