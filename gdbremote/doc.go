// Package gdbremote implements probe.DebugAccess over the GDB remote serial
// protocol, so that flash algorithms can be run through OpenOCD, pyOCD,
// J-Link GDB Server or a Black Magic Probe.
//
// # Protocol
//
// Commands are framed as $<payload>#<checksum> with a two digit hex checksum
// of the escaped payload. Every packet is acknowledged with '+' or '-'.
// Only the small subset needed to drive a halted core is used:
//
//	?              halt reason
//	Hg<thread>     select the core
//	p<reg>         read register
//	P<reg>=<val>   write register
//	m<addr>,<len>  read memory
//	M<addr>,<len>:<data>  write memory
//	c              continue
//	0x03           interrupt
//
// # Usage
//
//	client, err := gdbremote.DialTCP(ctx, "localhost:3333")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	f := flash.New(client, catalog)
//	err = f.Flash(ctx, "nRF52832_xxAA", "main", 0, image)
//
// # Cores
//
// Multi-core targets appear as one thread per core. The default mapping
// selects thread AP+1; WithThreadMapper overrides it.
//
// Tracing of every packet is available through glog with -v=4.
package gdbremote
