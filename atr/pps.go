package atr

import "github.com/cardtunnel/relay/bits"

// EarlySpecificModeBaud reports whether the T=1 worker should set the
// card-facing baud rate to a.F/a.D before any PPS exchange, instead of
// waiting for one.
//
// Grounded on prot_t1's pre-loop baud check in
// original_source/pico-tunnel/pico_poc.c: when TA1 moved F/D away from
// their defaults, the worker walks past TA1/TB1/TC1 to the ATR's TD1 byte
// and checks whether TD1's upper nibble (Y2, the presence flags for
// TA2/TB2/TC2/TD2) has its TA2-presence bit set. The original does not
// read TA2's actual value — ISO 7816-3 ties the "specific mode" decision
// to TA2's own content, and this reproduces the firmware's presence-only
// approximation rather than the fuller rule, as a deliberate carry-over
// of the original quirk rather than a silent correction.
func EarlySpecificModeBaud(a *ATR, clockHz uint32) (uint32, bool) {
	if a.F == DefaultF && a.D == DefaultD {
		return 0, false
	}
	if len(a.Payload) < 2 {
		return 0, false
	}

	y1 := uint32(a.Payload[1] >> 4)
	offset := 2 // index of TA1, if present
	if bits.Get(&y1, 0, 1) == 1 {
		offset++
	}
	if bits.Get(&y1, 1, 1) == 1 {
		offset++
	}
	if bits.Get(&y1, 2, 1) == 1 {
		offset++
	}
	if bits.Get(&y1, 3, 1) == 0 {
		return 0, false // no TD1
	}
	if offset >= len(a.Payload) {
		return 0, false
	}
	td1 := uint32(a.Payload[offset])
	if bits.Get(&td1, 4, 1) != 1 {
		return 0, false // TD1's Y2 does not flag TA2 present
	}
	return Baudrate(a.F, a.D, clockHz), true
}
