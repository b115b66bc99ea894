package t1

import "github.com/cardtunnel/relay/atr"

// S-block PCB values.
const (
	PCBResyncRequest  byte = 0xC0
	PCBResyncResponse byte = 0xE0
	PCBIFSDRequest    byte = 0xC1
	PCBIFSDResponse   byte = 0xE1
	PCBAbortRequest   byte = 0xC2
	PCBAbortResponse  byte = 0xE2
	PCBWTXRequest     byte = 0xC3
	PCBWTXResponse    byte = 0xE3
)

// wtxMultiplier is the fixed INF byte carried by a WTX request.
const wtxMultiplier byte = 0x02

// SResult is the outcome of handling a received S-block. A resync request
// sets Response, ResetSequence and NewIFSC together; an IFSD request sets
// Response and NewIFSC; an abort request sets only Response; a response
// PCB sets only Success.
type SResult struct {
	// Response is the reply block to transmit, when Respond is true.
	Response Block
	Respond  bool

	// ResetSequence is set on a resync request: the caller must reset
	// its Sequence to 0 and its negotiated IFSC back to DefaultIFSC.
	ResetSequence bool

	// NewIFSC is set on an IFSD request: the caller adopts this as the
	// newly negotiated accepted information field size.
	NewIFSC    uint8
	HasNewIFSC bool

	// Success reports that the block was a response (IFSD/abort/WTX)
	// confirming the device's own preceding request succeeded.
	Success bool

	// Unknown reports an S-block PCB this table has no entry for; the
	// caller logs and lets the reader proceed.
	Unknown bool
}

// HandleSBlock computes the response to a received S-block according to
// the S-block response table. It never transmits; callers send Response
// via WriteBlock.
//
// Grounded on t1_handle_s_block in original_source/pico-tunnel/util/util.c.
// That C function assigns tpdu->pcb = 0xD2 then immediately overwrites it
// with 0xE2 for the abort-request case — dead code from an edit that was
// never cleaned up. Only the final value, 0xE2, is meaningful, so it is
// the only one implemented here.
func HandleSBlock(b Block) SResult {
	switch b.PCB {
	case PCBResyncRequest:
		return SResult{
			Respond:       true,
			ResetSequence: true,
			NewIFSC:       atr.DefaultIFSC,
			HasNewIFSC:    true,
			Response: Block{
				NAD: 0x00,
				PCB: PCBResyncResponse,
			},
		}
	case PCBIFSDRequest:
		var ifsc uint8
		if len(b.INF) > 0 {
			ifsc = b.INF[0]
		}
		return SResult{
			Respond:    true,
			NewIFSC:    ifsc,
			HasNewIFSC: true,
			Response: Block{
				NAD: b.NAD,
				PCB: PCBIFSDResponse,
				INF: []byte{ifsc},
			},
		}
	case PCBIFSDResponse:
		return SResult{Success: true}
	case PCBAbortRequest:
		return SResult{
			Respond: true,
			Response: Block{
				NAD: 0x00,
				PCB: PCBAbortResponse,
			},
		}
	case PCBAbortResponse:
		return SResult{Success: true}
	case PCBWTXResponse:
		return SResult{Success: true}
	default:
		return SResult{Unknown: true}
	}
}

// NewWTXRequest builds the S(WTX request) block the BWT alarm sends while
// a host response is pending.
func NewWTXRequest() Block {
	return Block{
		NAD: 0x00,
		PCB: PCBWTXRequest,
		INF: []byte{wtxMultiplier},
	}
}
