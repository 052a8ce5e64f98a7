package gdbremote

import (
	"context"
	"net"

	"github.com/juju/errors"
	"go.bug.st/serial"
)

// DialTCP connects to a GDB server listening on a TCP address such as
// "localhost:3333" (OpenOCD) or "localhost:2331".
func DialTCP(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "connect to gdb server %s", addr)
	}
	return New(conn, opts...), nil
}

// OpenSerial connects to a probe exposing a GDB server on a serial port,
// such as a Black Magic Probe. A baud of 0 selects DefaultSerialBaud.
func OpenSerial(portName string, baud int, opts ...Option) (*Client, error) {
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Annotatef(err, "open serial port %s", portName)
	}
	return New(port, opts...), nil
}

// ListSerialPorts returns the serial ports present on the system.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ports, nil
}
