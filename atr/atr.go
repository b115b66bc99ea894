// Package atr decodes a card's Answer-To-Reset byte string into the timing
// parameters and transmission protocol the rest of the relay core needs.
//
// Grounded on original_source/pico-tunnel/util/util.c parse_ATR/convert_f/
// convert_d, re-expressed with explicit struct fields instead of
// out-parameters, and on bits.Get for the TAi/TBi/TCi/TDi presence-flag
// walk.
package atr

import (
	"fmt"

	"github.com/cardtunnel/relay/bits"
)

// Protocol identifies the transmission protocol selected by the ATR.
type Protocol int

const (
	ProtocolT0 Protocol = iota
	ProtocolT1
	ProtocolUnknown
)

func (p Protocol) String() string {
	switch p {
	case ProtocolT0:
		return "T=0"
	case ProtocolT1:
		return "T=1"
	default:
		return "unknown"
	}
}

// Default timing parameters.
const (
	DefaultF    = 372
	DefaultD    = 1
	DefaultIFSC = 32
	DefaultBWI  = 4
	DefaultCWI  = 13
)

// ATR holds the raw payload and every parameter derived from it.
type ATR struct {
	Payload []byte

	F        int
	D        int
	IFSC     uint8
	BWI      uint8
	CWI      uint8
	Protocol Protocol

	// WorkETU is the elementary time unit, in seconds.
	WorkETU float64
	BWTus   float64
	CWTus   float64
}

// nominalClockHz is the nominal card clock frequency Parse uses to derive
// ETU/BWT/CWT; callers that measure the reader's clock (synchronous UART
// mode) use ParseAtClock instead.
const nominalClockHz = 3571200.0

// Parse decodes payload into an ATR. It never returns an error: an invalid
// ATR is represented as Protocol == ProtocolUnknown, so callers (the
// supervisor) can act on that instead of branching on error.
func Parse(payload []byte) *ATR {
	return parseWithClock(payload, nominalClockHz)
}

// ParseAtClock parses payload using a measured card clock, used when
// uart_mode is synchronous.
func ParseAtClock(payload []byte, clockHz float64) *ATR {
	return parseWithClock(payload, clockHz)
}

func parseWithClock(payload []byte, clockHz float64) *ATR {
	if len(payload) == 0 {
		return &ATR{Payload: payload, Protocol: ProtocolUnknown}
	}

	if payload[0] == 0x3F {
		inverted := make([]byte, len(payload))
		inverted[0] = 0x3B
		for i := 1; i < len(payload); i++ {
			inverted[i] = ^payload[i]
		}
		return parseWithClock(inverted, clockHz)
	}

	a := &ATR{
		Payload:  payload,
		D:        DefaultD,
		F:        DefaultF,
		IFSC:     DefaultIFSC,
		BWI:      DefaultBWI,
		CWI:      DefaultCWI,
		Protocol: ProtocolUnknown,
	}

	if payload[0] != 0x3B {
		return a
	}

	index := 2
	get := func(i int) (byte, bool) {
		if i < 0 || i >= len(payload) {
			return 0, false
		}
		return payload[i], true
	}

	t0 := uint32(payload[1])

	var td1 byte
	if bits.Get(&t0, 4, 1) == 1 {
		if v, ok := get(index); ok {
			a.F = convertF(v)
			a.D = convertD(v)
		}
		index++
	}
	if bits.Get(&t0, 5, 1) == 1 {
		index++ // TBi, unused at this interface-byte position
	}
	if bits.Get(&t0, 6, 1) == 1 {
		index++ // TCi, not used
	}
	if bits.Get(&t0, 7, 1) == 1 {
		if v, ok := get(index); ok {
			td1 = v
			switch td1 & 0x0F {
			case 1:
				a.Protocol = ProtocolT1
			case 0:
				a.Protocol = ProtocolT0
			default:
				// TA1 values were meant for a different protocol.
				a.D = DefaultD
				a.F = DefaultF
			}
		}
		index++
	}

	// Walk the remaining TDi chain. Each group's IFSC/BWI/CWI is only
	// committed once the terminal TDi in the chain is reached (low
	// nibble 0 or 1, or no further TDi) — an interface byte group for a
	// protocol other than the terminal one is discarded, matching
	// parse_ATR's IFSC_tmp/BWI_tmp/CWI_tmp staging.
	var tdNext byte
	tdFlags := uint32(td1)
	if bits.Get(&tdFlags, 4, 1) == 1 {
		index++ // TA2, not used here
	}
	if bits.Get(&tdFlags, 5, 1) == 1 {
		index++ // TB2, not used here
	}
	if bits.Get(&tdFlags, 6, 1) == 1 {
		index++ // TC2, not used here
	}
	if bits.Get(&tdFlags, 7, 1) == 1 {
		if v, ok := get(index); ok {
			tdNext = v
		}
		index++
	}

	for tdNext >= 0x10 {
		tdNow := tdNext
		tdNext = 0
		ifscTmp, bwiTmp, cwiTmp := uint8(DefaultIFSC), uint8(DefaultBWI), uint8(DefaultCWI)

		flags := uint32(tdNow)
		if bits.Get(&flags, 4, 1) == 1 {
			if v, ok := get(index); ok {
				ifscTmp = v
			}
			index++
		}
		if bits.Get(&flags, 5, 1) == 1 {
			if v, ok := get(index); ok {
				bwiTmp = v >> 4
				cwiTmp = v & 0x0F
			}
			index++
		}
		if bits.Get(&flags, 6, 1) == 1 {
			index++ // TC, not used here
		}
		if bits.Get(&flags, 7, 1) == 1 {
			if v, ok := get(index); ok {
				tdNext = v
			}
			index++
			if tdNext&0x0F <= 1 {
				a.IFSC, a.BWI, a.CWI = ifscTmp, bwiTmp, cwiTmp
			}
		} else if tdNow&0x0F <= 1 {
			a.IFSC, a.BWI, a.CWI = ifscTmp, bwiTmp, cwiTmp
		}
	}

	a.retime(clockHz)
	return a
}

func (a *ATR) retime(clockHz float64) {
	d := float64(a.D)
	f := float64(a.F)
	a.WorkETU = (1 / d) * (f / clockHz)
	a.BWTus = (pow2(int(a.BWI))*960*f/clockHz + a.WorkETU) * 1e6
	a.CWTus = (pow2(int(a.CWI)) + 11) * a.WorkETU * 1e6
}

func pow2(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}

// ConvertF applies the TA1 upper-nibble -> F conversion table to an
// arbitrary byte. Exported for the T=1 PPS read path,
// which derives F/D from the PPS1 byte using the same tables.
func ConvertF(b byte) int { return convertF(b) }

// ConvertD applies the TA1 lower-nibble -> D conversion table to an
// arbitrary byte, for the same PPS use as ConvertF.
func ConvertD(b byte) int { return convertD(b) }

// F conversion table, TA1 upper nibble -> F.
func convertF(ta1 byte) int {
	switch ta1 >> 4 {
	case 2:
		return 558
	case 3:
		return 744
	case 4:
		return 1116
	case 5:
		return 1408
	case 6:
		return 1860
	case 9:
		return 512
	case 10:
		return 768
	case 11:
		return 1024
	case 12:
		return 1536
	case 13:
		return 2048
	default:
		return DefaultF
	}
}

// D conversion table, TA1 lower nibble -> D.
func convertD(ta1 byte) int {
	switch ta1 & 0x0F {
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 4
	case 4:
		return 8
	case 5:
		return 16
	case 6:
		return 32
	case 8:
		return 12
	case 9:
		return 20
	default:
		return DefaultD
	}
}

// Baudrate computes the UART baud rate for the given clock, per
// baud = clock * D / F.
func Baudrate(f, d int, clockHz uint32) uint32 {
	return uint32((uint64(clockHz) * uint64(d)) / uint64(f))
}

// Valid reports whether the ATR was parseable into a known protocol.
func (a *ATR) Valid() bool {
	return a.Protocol == ProtocolT0 || a.Protocol == ProtocolT1
}

func (a *ATR) String() string {
	return fmt.Sprintf("ATR{protocol=%s F=%d D=%d IFSC=%d BWI=%d CWI=%d etu=%.9g}",
		a.Protocol, a.F, a.D, a.IFSC, a.BWI, a.CWI, a.WorkETU)
}
