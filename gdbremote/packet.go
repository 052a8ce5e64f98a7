package gdbremote

import (
	"bytes"
	"fmt"
	"strconv"
)

// Checksum computes the packet checksum: the sum of the payload bytes
// as sent on the wire (escaped), modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Escape escapes the bytes that cannot appear in a packet payload.
func Escape(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for _, b := range payload {
		switch b {
		case PacketStart, PacketEnd, EscapeChar, RunLengthChar:
			out = append(out, EscapeChar, b^EscapeXor)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Unescape reverses Escape and expands run-length encoded sequences.
func Unescape(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case EscapeChar:
			i++
			if i >= len(data) {
				return nil, fmt.Errorf("escape character at end of packet")
			}
			out = append(out, data[i]^EscapeXor)
		case RunLengthChar:
			i++
			if i >= len(data) || len(out) == 0 {
				return nil, fmt.Errorf("invalid run-length encoding")
			}
			repeat := int(data[i]) - 29
			if repeat < 0 {
				return nil, fmt.Errorf("invalid run-length count 0x%02X", data[i])
			}
			last := out[len(out)-1]
			for j := 0; j < repeat; j++ {
				out = append(out, last)
			}
		default:
			out = append(out, data[i])
		}
	}
	return out, nil
}

// BuildPacket frames a payload: $<escaped payload>#<checksum>.
//
// Example:
//
//	pkt := gdbremote.BuildPacket([]byte("m20000000,4"))
//	// "$m20000000,4#4f"
func BuildPacket(payload []byte) []byte {
	escaped := Escape(payload)
	out := make([]byte, 0, len(escaped)+4)
	out = append(out, PacketStart)
	out = append(out, escaped...)
	out = append(out, PacketEnd)
	out = append(out, fmt.Sprintf("%02x", Checksum(escaped))...)
	return out
}

// ParsePacket validates a complete framed packet and returns its payload.
func ParsePacket(pkt []byte) ([]byte, error) {
	if len(pkt) < 4 || pkt[0] != PacketStart {
		return nil, &PacketError{Reason: "missing packet start"}
	}
	end := bytes.LastIndexByte(pkt, PacketEnd)
	if end < 0 || end != len(pkt)-3 {
		return nil, &PacketError{Reason: "missing checksum"}
	}

	body := pkt[1:end]
	want, err := strconv.ParseUint(string(pkt[end+1:]), 16, 8)
	if err != nil {
		return nil, &PacketError{Reason: "malformed checksum", Err: err}
	}
	if got := Checksum(body); got != byte(want) {
		return nil, &ChecksumError{Expected: byte(want), Actual: got}
	}
	return Unescape(body)
}

// decoder splits a byte stream into acks, interrupts and packets.
type decoder struct {
	buf     []byte
	inFrame bool
	sumLeft int
}

type frame struct {
	ack     byte
	payload []byte
	err     error
}

// feed consumes one byte and returns a frame when one is complete.
func (d *decoder) feed(b byte) (frame, bool) {
	if !d.inFrame {
		switch b {
		case Ack, Nack:
			return frame{ack: b}, true
		case PacketStart:
			d.inFrame = true
			d.sumLeft = -1
			d.buf = append(d.buf[:0], b)
		}
		return frame{}, false
	}

	d.buf = append(d.buf, b)
	if d.sumLeft < 0 {
		if b == PacketEnd {
			d.sumLeft = 2
		}
		return frame{}, false
	}

	d.sumLeft--
	if d.sumLeft > 0 {
		return frame{}, false
	}
	d.inFrame = false
	payload, err := ParsePacket(d.buf)
	return frame{payload: payload, err: err}, true
}
