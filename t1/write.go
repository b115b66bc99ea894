package t1

import "github.com/cardtunnel/relay/serialline"

// WriteBlock serialises b and transmits it over line. The per-byte echo-readback and its mismatch logging live
// in the serialline.Line implementation; this layer only frames.
//
// Grounded on t1_write in original_source/pico-tunnel/util/util.c.
func WriteBlock(line serialline.Line, b Block) error {
	return line.Write(b.Marshal())
}
