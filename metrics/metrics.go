// Package metrics formats the per-command latency measurement line that
// hostchannel.SendMeasurement carries as a MEASUREMENT frame. Neither the
// T=0 nor the T=1 worker records a CommandTiming or sends a measurement.
//
// Grounded on write_usb_measurement's call site in prot_t0/prot_t1 in
// original_source/pico-tunnel/pico_poc.c: "%lld, %lld, %lld" of
// (end-start, step1-start, step2-start) microsecond counts.
package metrics

import (
	"fmt"
	"time"
)

// CommandTiming holds the four timestamps the original takes around one
// command: receipt, forwarding to the host, the host's reply, and the
// end of the response transmission.
type CommandTiming struct {
	Start       time.Time
	Forwarded   time.Time
	HostReplied time.Time
	End         time.Time
}

// Format renders the timing as the comma-separated microsecond-count
// line the MEASUREMENT frame carries: total, time-to-forward,
// time-to-host-reply, all relative to Start.
func (t CommandTiming) Format() string {
	return fmt.Sprintf("%d, %d, %d",
		t.End.Sub(t.Start).Microseconds(),
		t.Forwarded.Sub(t.Start).Microseconds(),
		t.HostReplied.Sub(t.Start).Microseconds(),
	)
}
