// Package serialline abstracts the half-duplex, echo-cancelling byte line
// to the card reader. The concrete UART/baud-rate hardware
// is an external collaborator out of scope for this core; this
// package defines the interface the protocol layers program against, plus
// pluggable concrete backends grounded on the retrieval pack (see
// DESIGN.md): an in-memory simulator for tests, a termios/x-sys backend
// (github.com/cardtunnel/relay/serialline: termios_linux.go, grounded on
// Daedaluz-goserial), and a tarm/serial backend (grounded on seedhammer).
package serialline

import (
	"errors"
	"time"
)

// ErrTimeout is returned by ReadTimed when a byte does not arrive within
// the per-byte window.
var ErrTimeout = errors.New("serialline: read timeout")

// Line is the half-duplex byte line to the card reader.
type Line interface {
	// Write transmits buf one byte at a time. After each byte it reads
	// back one byte (the card-clock echoes the sent byte on a contact
	// line); the readback never aborts the write. Only Sim compares the
	// readback, reporting a mismatch to its OnEchoMismatch callback; the
	// termios and tarm backends discard it without comparing or logging.
	Write(buf []byte) error

	// Read blocks until len(buf) bytes arrive, with no timeout. Used
	// when the reader is actively clocking.
	Read(buf []byte) error

	// ReadTimed reads len(buf) bytes, applying timeout as a per-byte
	// deadline. Returns ErrTimeout if any byte fails to arrive in time.
	ReadTimed(buf []byte, timeout time.Duration) error

	// Drain discards any pending receive bytes.
	Drain()

	// SetBaud reconfigures the line's baud rate.
	SetBaud(baud uint32) error

	// WaitTxComplete blocks until the transmit shift register is empty.
	WaitTxComplete()
}

// EchoMismatchFunc is the type of Sim.OnEchoMismatch, called whenever a
// write's readback byte does not match the byte transmitted; it never
// aborts the write.
type EchoMismatchFunc func(index int, sent, got byte)

// ClockMeasurer is optionally implemented by a Line backend that can
// measure the reader's clock pin directly, for synchronous UART mode.
// Backends that cannot measure the clock simply don't implement it;
// callers fall back to a configured or nominal clock.
type ClockMeasurer interface {
	MeasuredClockHz() (hz uint32, ok bool)
}
