package gdbremote

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by commands issued after the connection went away.
var ErrClosed = errors.New("gdb remote connection closed")

// RemoteError represents an Exx reply from the GDB stub.
type RemoteError struct {
	// Command is the command that failed
	Command string

	// Code is the error number reported by the stub
	Code byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: stub error E%02X", e.Command, e.Code)
}

// IsRemoteError returns true if the error is a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// PacketError indicates a malformed packet.
type PacketError struct {
	Reason string
	Err    error
}

func (e *PacketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed packet: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed packet: %s", e.Reason)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// ChecksumError indicates a packet whose checksum does not match its payload.
type ChecksumError struct {
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("packet checksum mismatch: expected 0x%02x, calculated 0x%02x", e.Expected, e.Actual)
}

// UnexpectedReplyError indicates a reply that does not fit the command.
type UnexpectedReplyError struct {
	Command string
	Reply   string
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("%s: unexpected reply %q", e.Command, e.Reply)
}

// ReplyTimeoutError indicates that the stub did not answer in time.
type ReplyTimeoutError struct {
	Command string
}

func (e *ReplyTimeoutError) Error() string {
	return fmt.Sprintf("%s: no reply from stub", e.Command)
}

// TargetExitedError indicates that the stub reported the target process as gone.
type TargetExitedError struct {
	Status byte
}

func (e *TargetExitedError) Error() string {
	return fmt.Sprintf("target exited with status 0x%02X", e.Status)
}
