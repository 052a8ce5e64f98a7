// Package probe defines the debug link the flash engine talks to and the
// per-architecture calling convention used to invoke code on a halted core.
//
// The package does not implement a link. See package gdbremote for a GDB
// remote protocol client and package simulator for an in-memory target.
//
// Register numbers follow GDB's target descriptions: r0-r15 and xPSR (25) on
// Arm Cortex-M, x0-x31 and pc (32) on RISC-V.
package probe
