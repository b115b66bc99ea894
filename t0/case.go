// Package t0 implements the T=0 byte-transmission protocol: APDU case
// classification, procedure-byte echo, the GET RESPONSE cache used to
// emulate case-4 APDUs over a byte protocol that has no native concept
// of them, and SW1/SW2 status-word framing.
//
// Grounded on prot_t0 in original_source/pico-tunnel/pico_poc.c, which
// classifies each command via an external SIM/UICC command table
// (util/iso7816_t0/class_tables.c, not included in the retrieval pack).
// That table is reproduced here only for the handful of common INS codes
// listed in caseTable; see DetermineCase for the fallback rule used for
// any other INS.
package t0

// Case classifies a command APDU's data-transfer shape.
type Case int

const (
	CaseUnknown Case = iota
	Case1             // P3=0, no command or response data beyond SW
	Case2             // outgoing data, Le = P3 (0 means 256)
	Case3             // incoming data, Lc = P3
	Case4             // incoming data + GET RESPONSE hand-off, case 3 on the wire
)

// Header is the 5-byte T=0 command header: CLA INS P1 P2 P3.
type Header [5]byte

func (h Header) INS() byte { return h[1] }
func (h Header) P3() byte  { return h[4] }

// caseTable maps well-known INS codes to their standard case, mirroring
// the SIM/UICC command table the original firmware consults. Unlisted
// INS codes fall back to DetermineCase's heuristic.
var caseTable = map[byte]Case{
	0xA4: Case4, // SELECT
	0xB0: Case2, // READ BINARY
	0xB2: Case2, // READ RECORD
	0xC0: Case2, // GET RESPONSE
	0xD6: Case3, // UPDATE BINARY
	0xDC: Case3, // UPDATE RECORD
	0x20: Case3, // VERIFY
	0x88: Case4, // RUN GSM ALGORITHM
	0x04: Case1, // INVALIDATE
	0x44: Case1, // REHABILITATE
}

// DetermineCase classifies h. Known INS codes use caseTable; otherwise
// P3==0 is treated as Case1 and P3!=0 as Case2, a reasonable default
// absent the full command table.
func DetermineCase(h Header) Case {
	if c, ok := caseTable[h.INS()]; ok {
		return c
	}
	if h.P3() == 0 {
		return Case1
	}
	return Case2
}

// ExpectedReplyLen returns the expected total response length including
// the trailing SW1/SW2. Case 2 (outgoing data) expects P3+2 bytes
// (P3=0 meaning 256+2); case 1/3/4 commands carry no outgoing data, so
// the expectation is the bare 2-byte SW.
func ExpectedReplyLen(h Header) int {
	if DetermineCase(h) != Case2 {
		return SWLen
	}
	p3 := int(h.P3())
	if p3 == 0 {
		p3 = 256
	}
	return p3 + SWLen
}
