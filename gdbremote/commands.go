package gdbremote

import (
	"encoding/hex"
	"fmt"
)

// BuildHaltReasonCmd builds the "?" command asking why the target stopped.
func BuildHaltReasonCmd() string {
	return CmdHaltReason
}

// BuildSelectThreadCmd builds the "Hg" command selecting the thread that
// register and memory commands act on. Thread IDs are positive.
func BuildSelectThreadCmd(thread int) (string, error) {
	if thread <= 0 {
		return "", fmt.Errorf("invalid thread ID %d", thread)
	}
	return fmt.Sprintf("%s%x", CmdSelectThread, thread), nil
}

// BuildReadRegisterCmd builds the "p" command reading a single register.
//
// Example:
//
//	cmd := gdbremote.BuildReadRegisterCmd(15) // "pf"
func BuildReadRegisterCmd(reg uint32) string {
	return fmt.Sprintf("%s%x", CmdReadRegister, reg)
}

// BuildWriteRegisterCmd builds the "P" command writing a 32-bit register.
// The value is sent in target byte order (little-endian).
//
// Example:
//
//	cmd := gdbremote.BuildWriteRegisterCmd(0, 0x20000000) // "P0=00000020"
func BuildWriteRegisterCmd(reg uint32, value uint32) string {
	le := []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	return fmt.Sprintf("%s%x=%s", CmdWriteRegister, reg, hex.EncodeToString(le))
}

// BuildReadMemoryCmd builds the "m" command reading length bytes at address.
func BuildReadMemoryCmd(address uint64, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid read length %d", length)
	}
	return fmt.Sprintf("%s%x,%x", CmdReadMemory, address, length), nil
}

// BuildWriteMemoryCmd builds the "M" command writing data at address.
func BuildWriteMemoryCmd(address uint64, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("data cannot be empty")
	}
	return fmt.Sprintf("%s%x,%x:%s", CmdWriteMemory, address, len(data), hex.EncodeToString(data)), nil
}

// BuildContinueCmd builds the "c" command resuming the target at its current PC.
func BuildContinueCmd() string {
	return CmdContinue
}
