// Package gpioreset abstracts the reset-line input the supervisor polls
// to detect a reset edge. The concrete GPIO hardware
// is an external collaborator out of scope for this core;
// this package defines the Line the supervisor programs against, plus a
// periph.io-backed concrete implementation and an in-memory simulator
// for tests.
//
// Grounded on periph-host's gpio.PinIn usage (periph-host/ftdi/gpio.go:
// In/Read/gpio.Level) from the retrieval pack.
package gpioreset

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// Line reports whether the reset line is currently asserted.
type Line interface {
	High() bool
}

// PeriphLine wraps a periph.io gpio.PinIn configured with a pull-down,
// so the line reads low at rest and high when the reader asserts reset.
type PeriphLine struct {
	pin gpio.PinIn
}

// OpenPeriph configures pin as a pulled-down input.
func OpenPeriph(pin gpio.PinIn) (*PeriphLine, error) {
	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("gpioreset: configure pin: %w", err)
	}
	return &PeriphLine{pin: pin}, nil
}

func (l *PeriphLine) High() bool {
	return l.pin.Read() == gpio.High
}

// SimLine is an in-memory Line for tests and the supervisor's own unit
// tests, toggled explicitly instead of sensing real hardware.
type SimLine struct {
	high bool
}

func NewSim() *SimLine { return &SimLine{} }

func (l *SimLine) High() bool { return l.high }

// Assert raises the simulated reset line.
func (l *SimLine) Assert() { l.high = true }

// Deassert lowers the simulated reset line.
func (l *SimLine) Deassert() { l.high = false }
