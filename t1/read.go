package t1

import (
	"errors"
	"time"

	"github.com/cardtunnel/relay/atr"
	"github.com/cardtunnel/relay/serialline"
)

// ReadTimeout is the per-byte read window applied while framing a T=1
// block.
const ReadTimeout = 1200 * time.Millisecond

// ErrChecksumMismatch is returned by ReadBlock when the trailing LRC byte
// does not match the computed checksum.
var ErrChecksumMismatch = errors.New("t1: checksum mismatch")

// ErrPPSDetected is returned by ReadBlock when the frame's NAD byte
// (0xFF) marks it as a PPS request rather than a TPDU. The
// PPS exchange — echoing the four bytes and reconfiguring the line's baud
// rate — has already been performed by the time this is returned; the
// caller should simply read again.
var ErrPPSDetected = errors.New("t1: PPS request handled")

// clockHz is the nominal card clock used to derive the post-PPS baud rate
//, matching atr's nominal default.
const clockHz = 3571200

// ReadBlock reads one T=1 TPDU from line, applying ReadTimeout per byte.
// It returns the line's ReadTimed error (serialline.ErrTimeout, unwrapped)
// on a stalled byte,
// ErrChecksumMismatch on a bad LRC, or ErrPPSDetected after handling an
// inline PPS negotiation.
//
// Grounded on t1_read in original_source/pico-tunnel/util/util.c.
func ReadBlock(line serialline.Line) (Block, error) {
	var head [3]byte
	if err := line.ReadTimed(head[:], ReadTimeout); err != nil {
		return Block{}, err
	}
	nad, pcb, length := head[0], head[1], head[2]

	if nad == 0xFF {
		return Block{}, handlePPS(line, pcb, length)
	}

	inf := make([]byte, length)
	if length > 0 {
		if err := line.ReadTimed(inf, ReadTimeout); err != nil {
			return Block{}, err
		}
	}

	var lrc [1]byte
	if err := line.ReadTimed(lrc[:], ReadTimeout); err != nil {
		return Block{}, err
	}

	b := Block{NAD: nad, PCB: pcb, INF: inf}
	if lrc[0] != b.LRC() {
		return Block{}, ErrChecksumMismatch
	}
	return b, nil
}

// handlePPS echoes the 4-byte PPS request and reconfigures the line's
// baud rate from the PPS1 byte: it echoes the request back to the reader,
// derives (F,D) from the third byte, then sets the card-side UART baud.
// Order matters: the echo happens at the pre-PPS baud.
func handlePPS(line serialline.Line, pcb, pps1 byte) error {
	var fourth [1]byte
	if err := line.ReadTimed(fourth[:], ReadTimeout); err != nil {
		return err
	}

	request := []byte{0xFF, pcb, pps1, fourth[0]}
	if err := line.Write(request); err != nil {
		return err
	}

	f := atr.ConvertF(pps1)
	d := atr.ConvertD(pps1)
	line.WaitTxComplete()
	baud := atr.Baudrate(f, d, clockHz)
	if err := line.SetBaud(baud); err != nil {
		return err
	}
	return ErrPPSDetected
}
