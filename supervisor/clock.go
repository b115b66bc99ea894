package supervisor

import (
	"github.com/cardtunnel/relay/serialline"
	"github.com/cardtunnel/relay/session"
)

// effectiveClockHz resolves the card clock to use when deriving a baud
// rate for cfg: measured from the line when uart_mode is synchronous and
// the concrete Line supports it, the host-configured clock for
// asynchronous mode, and nominal otherwise.
func effectiveClockHz(line serialline.Line, cfg session.Config, nominal uint32) uint32 {
	if cfg.UARTMode == session.UARTModeSynchronous {
		if m, ok := line.(serialline.ClockMeasurer); ok {
			if hz, ok := m.MeasuredClockHz(); ok && hz > 0 {
				return hz
			}
		}
		return nominal
	}
	if cfg.ConfiguredClockHz > 0 {
		return cfg.ConfiguredClockHz
	}
	return nominal
}
