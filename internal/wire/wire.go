// Package wire implements the host-channel's 4-byte length encoding.
//
// The original firmware writes/reads the length field as raw memory
// with no documented byte order. This is resolved here as native-endian
// and named explicitly, rather than left as an implicit memcpy: host
// and device must agree on the host architecture's byte order, which in
// practice is little-endian for every target this core ships on.
package wire

import "encoding/binary"

// LengthOrder is the byte order used to encode/decode the host-channel
// frame's 4-byte length field. It is not ISO 7816 wire format — it is
// the USB control-channel framing — and is kept separate from any
// big-endian field within a payload (e.g. SET_UARTMODE's clock value,
// which is explicitly big-endian).
var LengthOrder = binary.LittleEndian
