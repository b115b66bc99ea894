// Package session defines the per-session configuration record handed
// from the supervisor core to the worker core at launch, and the
// coarse-grained relay state machine the supervisor exposes to the host
// over REQUEST_STATE.
//
// Grounded on relay_config_entry_t in
// original_source/pico-tunnel/pico_poc.c, re-expressed as a value type
// copied through a bounded queue rather than a struct passed by pointer:
// the worker never holds a pointer into the supervisor's ATR buffer,
// only a copy of the payload it needs.
package session

import (
	"github.com/cardtunnel/relay/alarm"
	"github.com/cardtunnel/relay/atr"
	"github.com/cardtunnel/relay/internal/logx"
)

// UARTMode selects whether the worker derives the card clock from a
// measured synchronous source or uses a fixed configured clock.
type UARTMode byte

const (
	UARTModeSynchronous  UARTMode = 0
	UARTModeAsynchronous UARTMode = 1
)

func (m UARTMode) String() string {
	if m == UARTModeSynchronous {
		return "synchronous"
	}
	return "asynchronous"
}

// State is the relay state machine visible to the host over
// REQUEST_STATE.
type State byte

const (
	StateNeedATR    State = 0
	StateRDYToRelay State = 1
)

func (s State) String() string {
	if s == StateRDYToRelay {
		return "RDY_TO_RELAY"
	}
	return "NEED_ATR"
}

// Config is the value-typed configuration record constructed by the
// supervisor and handed to a freshly launched worker through a bounded
// mailbox of capacity MailboxCapacity.
type Config struct {
	ATR               *atr.ATR
	Scheduler         *alarm.Scheduler
	UARTMode          UARTMode
	ConfiguredClockHz uint32
	LogLevel          logx.Level
}

// MailboxCapacity matches relay_config_queue's capacity of 2 in the
// original firmware.
const MailboxCapacity = 2
