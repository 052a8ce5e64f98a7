package gdbremote

import "time"

// Packet framing characters.
const (
	// PacketStart opens a packet: $<payload>#<checksum>
	PacketStart = '$'

	// PacketEnd separates the payload from the two checksum digits
	PacketEnd = '#'

	// EscapeChar prefixes an escaped byte, which follows XORed with EscapeXor
	EscapeChar = '}'

	// EscapeXor is applied to escaped bytes
	EscapeXor = 0x20

	// RunLengthChar marks run-length encoding in replies
	RunLengthChar = '*'

	// Ack acknowledges a correctly received packet
	Ack = '+'

	// Nack requests retransmission of the last packet
	Nack = '-'

	// Interrupt stops a running target
	Interrupt = 0x03
)

// Command prefixes.
const (
	CmdHaltReason    = "?"
	CmdSelectThread  = "Hg"
	CmdReadRegister  = "p"
	CmdWriteRegister = "P"
	CmdReadMemory    = "m"
	CmdWriteMemory   = "M"
	CmdContinue      = "c"
)

// Reply payloads.
const (
	ReplyOK = "OK"
)

// Defaults.
const (
	// DefaultMaxPacketSize is the packet size assumed when the stub does not announce one
	DefaultMaxPacketSize = 1024

	// DefaultReplyTimeout bounds the wait for a reply to a single command
	DefaultReplyTimeout = 5 * time.Second

	// DefaultSerialBaud is the baud rate used by OpenSerial when none is given
	DefaultSerialBaud = 115200

	// writeMemoryOverhead is the largest header of an M packet: M<16 hex>,<8 hex>:
	writeMemoryOverhead = 1 + 16 + 1 + 8 + 1
)
