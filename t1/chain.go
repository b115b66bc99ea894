package t1

import (
	"fmt"

	"github.com/cardtunnel/relay/serialline"
)

// mBit marks an I-block as non-final in a chained transfer: PCB bit-5,
// the M-bit, set to indicate more segments follow.
const mBit = 0x20

// DefaultAcceptedSize is used when no IFSD negotiation has taken place.
const DefaultAcceptedSize uint8 = 32

// WriteChained splits buf into I-blocks of at most acceptedSize bytes and
// sends them over line, handling R-block resends and S-block replies
// between segments.
//
// Grounded on t1_write_complete_buffer/t1_handle_response_from_write in
// original_source/pico-tunnel/util/util.c, re-expressed as an explicit
// loop rather than the original's recursive retry.
func WriteChained(line serialline.Line, nad byte, seq *Sequence, buf []byte, acceptedSize uint8) error {
	if acceptedSize == 0 {
		acceptedSize = DefaultAcceptedSize
	}

	segments := splitSegments(buf, int(acceptedSize))
	if len(segments) == 0 {
		segments = [][]byte{nil}
	}

	for i, seg := range segments {
		last := i == len(segments)-1

		basePCB := byte(0)
		if !last {
			basePCB |= mBit
		}
		block := Block{NAD: nad, PCB: seq.Apply(basePCB), INF: seg}

		if err := WriteBlock(line, block); err != nil {
			return fmt.Errorf("t1: write segment %d: %w", i, err)
		}
		seq.Toggle()

		// The original skips reading a response entirely once
		// sent_size == buffer_size: only intermediate segments are
		// acknowledged by the reader before the next is sent.
		if last {
			continue
		}
		if err := awaitContinue(line, block, seq, &acceptedSize); err != nil {
			return err
		}
	}
	return nil
}

// awaitContinue reads the reader's single acknowledgement of an
// intermediate chained I-block: an error R-block resends block and
// keeps waiting, a clean R-block lets the caller proceed, and an
// S-block is dispatched (possibly updating acceptedSize on IFSD/resync)
// before continuing to wait for the real acknowledgement.
func awaitContinue(line serialline.Line, block Block, seq *Sequence, acceptedSize *uint8) error {
	for {
		resp, err := ReadBlock(line)
		if err != nil {
			if err == ErrPPSDetected {
				continue
			}
			return err
		}

		switch resp.Kind() {
		case KindS:
			result := HandleSBlock(resp)
			if result.Respond {
				if err := WriteBlock(line, result.Response); err != nil {
					return err
				}
			}
			if result.ResetSequence {
				seq.Reset()
				*acceptedSize = DefaultAcceptedSize
			}
			if result.HasNewIFSC {
				*acceptedSize = result.NewIFSC
			}
			continue
		case KindR:
			if ClassifyR(resp) == RNoError {
				return nil
			}
			if err := WriteBlock(line, block); err != nil {
				return err
			}
			continue
		default:
			// an I-block here is not expected mid-chain; treat it as
			// the reader accepting the segment and moving on.
			return nil
		}
	}
}

func splitSegments(buf []byte, size int) [][]byte {
	if len(buf) == 0 {
		return nil
	}
	var segs [][]byte
	for off := 0; off < len(buf); off += size {
		end := off + size
		if end > len(buf) {
			end = len(buf)
		}
		segs = append(segs, buf[off:end])
	}
	return segs
}
