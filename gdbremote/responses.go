package gdbremote

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// StopReply is a parsed S, T, W or X packet.
type StopReply struct {
	// Signal is the stop signal (S, T) or exit status (W, X)
	Signal byte

	// Exited is set when the target process is gone (W, X)
	Exited bool

	// Thread is the stopped thread from a T packet, 0 if not reported
	Thread int
}

// IsStopReply reports whether a payload is an asynchronous stop notification.
func IsStopReply(payload string) bool {
	if len(payload) < 3 {
		return false
	}
	switch payload[0] {
	case 'S', 'T', 'W', 'X':
		_, err := strconv.ParseUint(payload[1:3], 16, 8)
		return err == nil
	}
	return false
}

// ParseStopReply parses a stop notification.
func ParseStopReply(payload string) (StopReply, error) {
	if !IsStopReply(payload) {
		return StopReply{}, &UnexpectedReplyError{Command: "stop", Reply: payload}
	}
	sig, _ := strconv.ParseUint(payload[1:3], 16, 8)
	r := StopReply{Signal: byte(sig)}

	switch payload[0] {
	case 'W', 'X':
		r.Exited = true
	case 'T':
		for _, field := range strings.Split(payload[3:], ";") {
			key, value, ok := strings.Cut(field, ":")
			if !ok || key != "thread" {
				continue
			}
			if id, err := strconv.ParseInt(value, 16, 32); err == nil {
				r.Thread = int(id)
			}
		}
	}
	return r, nil
}

// ParseResponse checks a reply for the Exx error form and returns it unchanged otherwise.
func ParseResponse(command, reply string) (string, error) {
	if len(reply) == 3 && reply[0] == 'E' {
		if code, err := strconv.ParseUint(reply[1:], 16, 8); err == nil {
			return "", &RemoteError{Command: command, Code: byte(code)}
		}
	}
	return reply, nil
}

// ParseOKResponse expects an OK reply.
func ParseOKResponse(command, reply string) error {
	reply, err := ParseResponse(command, reply)
	if err != nil {
		return err
	}
	if reply != ReplyOK {
		return &UnexpectedReplyError{Command: command, Reply: reply}
	}
	return nil
}

// ParseRegisterResponse decodes a "p" reply holding a little-endian register value.
// Registers wider than 32 bits are truncated.
func ParseRegisterResponse(command, reply string) (uint32, error) {
	reply, err := ParseResponse(command, reply)
	if err != nil {
		return 0, err
	}
	if strings.HasPrefix(reply, "xx") {
		return 0, &UnexpectedReplyError{Command: command, Reply: "register unavailable"}
	}
	raw, err := hex.DecodeString(reply)
	if err != nil || len(raw) == 0 {
		return 0, &UnexpectedReplyError{Command: command, Reply: reply}
	}

	var v uint32
	for i := 0; i < len(raw) && i < 4; i++ {
		v |= uint32(raw[i]) << (8 * i)
	}
	return v, nil
}

// ParseMemoryResponse decodes an "m" reply of exactly length bytes.
func ParseMemoryResponse(command, reply string, length int) ([]byte, error) {
	reply, err := ParseResponse(command, reply)
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(reply)
	if err != nil || len(data) != length {
		return nil, &UnexpectedReplyError{Command: command, Reply: reply}
	}
	return data, nil
}
