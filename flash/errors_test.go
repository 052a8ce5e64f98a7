package flash

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDeviceError(t *testing.T) {
	err := &DeviceError{
		Phase:   PhaseEraseSector,
		Address: 0x08004000,
		Code:    0x2A,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "erase sector") {
		t.Errorf("error message should contain phase, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "0x08004000") {
		t.Errorf("error message should contain address, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "0x2A") {
		t.Errorf("error message should contain code, got: %s", errMsg)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{
		Phase:   PhaseProgramPage,
		Address: 0x100,
		Timeout: 250 * time.Millisecond,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "program page") {
		t.Errorf("error message should contain phase, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "250ms") {
		t.Errorf("error message should contain timeout, got: %s", errMsg)
	}
}

func TestAmbiguousAlgorithmError(t *testing.T) {
	err := &AmbiguousAlgorithmError{
		Variant:    "STM32F4",
		Core:       "main",
		Address:    0x1FFF7800,
		Candidates: []string{"otp_a", "otp_b"},
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "otp_a, otp_b") {
		t.Errorf("error message should list candidates, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "STM32F4/main") {
		t.Errorf("error message should contain variant and core, got: %s", errMsg)
	}
}

func TestVerificationMismatchError(t *testing.T) {
	err := &VerificationMismatchError{
		Address:  0x1234,
		Expected: 0xAB,
		Actual:   0xCD,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "0x00001234") {
		t.Errorf("error message should contain address, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "expected 0xAB") || !strings.Contains(errMsg, "got 0xCD") {
		t.Errorf("error message should contain both values, got: %s", errMsg)
	}
}

func TestAlgorithmLoadErrorUnwrap(t *testing.T) {
	cause := errors.New("link down")
	err := &AlgorithmLoadError{Algorithm: "nrf52", Reason: "write image", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("AlgorithmLoadError should unwrap to its cause")
	}

	if !strings.Contains(err.Error(), "nrf52") {
		t.Errorf("error message should contain algorithm, got: %s", err.Error())
	}
}

func TestCleanupErrorUnwrap(t *testing.T) {
	primary := &DeviceError{Phase: PhaseProgramPage, Code: 1}
	cleanup := &TimeoutError{Phase: PhaseUninit, Timeout: time.Second}
	err := error(&CleanupError{Err: primary, Cleanup: cleanup})

	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr != primary {
		t.Error("CleanupError should unwrap to the primary error")
	}

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) || timeoutErr.Phase != PhaseUninit {
		t.Error("CleanupError should unwrap to the cleanup error")
	}

	if !strings.Contains(err.Error(), "cleanup also failed") {
		t.Errorf("error message should mention cleanup failure, got: %s", err.Error())
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseInit, "init"},
		{PhaseEraseSector, "erase sector"},
		{PhaseEraseAll, "erase all"},
		{PhaseProgramPage, "program page"},
		{PhaseUninit, "uninit"},
		{Phase(42), "Phase(42)"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(tt.phase), got, tt.want)
		}
	}
}
