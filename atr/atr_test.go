package atr

import "testing"

// the bootstrap ATR: T0=0x9F flags TA1 and TD1. TA1=0x95 gives F=512
// (upper nibble 9) and D=16 (lower nibble 5); TD1=0x80 has low nibble 0,
// so the protocol is T=0 and the TA1-derived F/D are kept.
func TestParseBootstrapATR(t *testing.T) {
	payload := []byte{0x3B, 0x9F, 0x95, 0x80, 0x1F, 0xC7, 0x80, 0x31}
	a := Parse(payload)
	if a.Protocol != ProtocolT0 {
		t.Fatalf("expected T=0 (TD1 low nibble 0), got %s", a.Protocol)
	}
	if a.F != 512 || a.D != 16 {
		t.Fatalf("expected F=512 D=16 from TA1, got F=%d D=%d", a.F, a.D)
	}
}

func TestParseInvalidTS(t *testing.T) {
	a := Parse([]byte{0x00, 0x01})
	if a.Protocol != ProtocolUnknown {
		t.Fatalf("expected unknown protocol for bad TS, got %s", a.Protocol)
	}
}

func TestParseEmpty(t *testing.T) {
	a := Parse(nil)
	if a.Protocol != ProtocolUnknown {
		t.Fatalf("expected unknown protocol for empty ATR")
	}
}

// ∀ ATR with TS=0x3F: parse(ATR) ≡ parse(invert(ATR) with TS←0x3B).
func TestParseInvertedTS(t *testing.T) {
	direct := []byte{0x3B, 0x00}
	inverted := []byte{0x3F, ^byte(0x00)}

	a := Parse(direct)
	b := Parse(inverted)

	if a.Protocol != b.Protocol || a.F != b.F || a.D != b.D {
		t.Fatalf("inverted ATR parse mismatch: %+v vs %+v", a, b)
	}
}

// ∀ ATR lacking TA1: F=372 ∧ D=1.
func TestParseNoTA1DefaultsFD(t *testing.T) {
	// T0 = 0x00: no TAi/TBi/TCi/TDi at all.
	a := Parse([]byte{0x3B, 0x00})
	if a.F != DefaultF || a.D != DefaultD {
		t.Fatalf("expected default F=%d D=%d, got F=%d D=%d", DefaultF, DefaultD, a.F, a.D)
	}
}

func TestParseT1WithIFSC(t *testing.T) {
	// TS=3B T0=0x94: bit4 (TA1) and bit7 (TD1) set.
	// TA1=0x98: upper nibble 9 -> F=512, lower nibble 8 -> D=12.
	// TD1=0x81: low nibble 1 -> protocol T=1, bit7 set -> TD2 follows.
	// TD2=0x11: bit4 set -> TAi (IFSC) follows, bit7 clear -> terminal,
	// low nibble 1 -> commit this group's IFSC/BWI/CWI.
	payload := []byte{
		0x3B, 0x94,
		0x98,                   // TA1
		0x81,                   // TD1
		0x11,                   // TD2
		0xFE,                   // TAi under TD2: IFSC=254
		0x01, 0x02, 0x03, 0x04, // historical bytes
	}
	a := Parse(payload)
	if a.Protocol != ProtocolT1 {
		t.Fatalf("expected T=1, got %s", a.Protocol)
	}
	if a.F != 512 || a.D != 12 {
		t.Fatalf("expected F=512 D=12, got F=%d D=%d", a.F, a.D)
	}
	if a.IFSC != 0xFE {
		t.Fatalf("expected IFSC=0xFE, got %d", a.IFSC)
	}
}

func TestBaudrate(t *testing.T) {
	br := Baudrate(372, 1, 3571200)
	if br == 0 {
		t.Fatalf("expected nonzero baudrate")
	}
}
