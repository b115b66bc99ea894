package t1

import (
	"testing"
	"time"

	"github.com/cardtunnel/relay/alarm"
	"github.com/cardtunnel/relay/serialline"
)

// ∀ valid T=1 block B: LRC(B) = XOR of all bytes before LRC.
func TestBlockLRCInvariant(t *testing.T) {
	b := Block{NAD: 0x00, PCB: 0x00, INF: []byte{1, 2, 3, 4, 5}}
	wire := b.Marshal()
	lrc := wire[len(wire)-1]

	want := byte(0)
	for _, c := range wire[:len(wire)-1] {
		want ^= c
	}
	if lrc != want {
		t.Fatalf("LRC %02X, want %02X", lrc, want)
	}
}

func TestBlockKindClassification(t *testing.T) {
	cases := []struct {
		pcb  byte
		want Kind
	}{
		{0x00, KindI},
		{0x40, KindI},
		{0x80, KindR},
		{0x92, KindR},
		{0xC0, KindS},
		{0xE3, KindS},
	}
	for _, c := range cases {
		if got := (Block{PCB: c.pcb}).Kind(); got != c.want {
			t.Fatalf("PCB %02X: kind %s, want %s", c.pcb, got, c.want)
		}
	}
}

// ∀ I-block pairs (I_n, I_{n+1}) on the same session: PCB.bit6 toggles
// exactly once.
func TestSequenceTogglesExactlyOnce(t *testing.T) {
	var seq Sequence
	first := seq.Apply(0)
	seq.Toggle()
	second := seq.Apply(0)
	seq.Toggle()
	third := seq.Apply(0)

	if first&0x40 != 0 {
		t.Fatalf("expected bit6 clear on first block")
	}
	if second&0x40 == 0 {
		t.Fatalf("expected bit6 set on second block")
	}
	if third&0x40 != 0 {
		t.Fatalf("expected bit6 clear again on third block")
	}
}

func TestWriteBlockRoundTrip(t *testing.T) {
	line := serialline.NewSim()
	b := Block{NAD: 0x00, PCB: 0x00, INF: []byte{0xAA, 0xBB}}
	if err := WriteBlock(line, b); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if got := line.Sent(); string(got) != string(b.Marshal()) {
		t.Fatalf("sent %X, want %X", got, b.Marshal())
	}
}

func feedBlock(sim *serialline.Sim, b Block) {
	sim.Feed(b.Marshal())
}

func TestReadBlockOk(t *testing.T) {
	sim := serialline.NewSim()
	want := Block{NAD: 0x00, PCB: 0x00, INF: []byte{1, 2, 3}}
	feedBlock(sim, want)

	got, err := ReadBlock(sim)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got.NAD != want.NAD || got.PCB != want.PCB || string(got.INF) != string(want.INF) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadBlockChecksumMismatch(t *testing.T) {
	sim := serialline.NewSim()
	wire := Block{NAD: 0x00, PCB: 0x00, INF: []byte{1, 2, 3}}.Marshal()
	wire[len(wire)-1] ^= 0xFF // corrupt the LRC
	sim.Feed(wire)

	_, err := ReadBlock(sim)
	if err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestReadBlockTimeout(t *testing.T) {
	sim := serialline.NewSim()
	_, err := ReadBlock(sim)
	if err != serialline.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// PPS detection in the T=1 read path.
func TestReadBlockPPSDetected(t *testing.T) {
	sim := serialline.NewSim()
	// 0xFF marker in the NAD position, PPS0=0x10, PPS1 (here 0x00) selects
	// F=372,D=1 via the conversion tables' default branch, last byte
	// arbitrary.
	sim.Feed([]byte{0xFF, 0x10, 0x00, 0x11})

	_, err := ReadBlock(sim)
	if err != ErrPPSDetected {
		t.Fatalf("expected ErrPPSDetected, got %v", err)
	}
	if got := sim.Sent(); string(got) != string([]byte{0xFF, 0x10, 0x00, 0x11}) {
		t.Fatalf("expected PPS echo, got %X", got)
	}
	if sim.Baud() == 0 {
		t.Fatalf("expected baud to be reconfigured")
	}
}

func TestClassifyR(t *testing.T) {
	cases := []struct {
		pcb  byte
		want RStatus
	}{
		{0x80, RNoError},
		{0x90, RNoError},
		{0x81, RError},
		{0x92, RError},
		{0xFF, RMalformed},
	}
	for _, c := range cases {
		if got := ClassifyR(Block{PCB: c.pcb}); got != c.want {
			t.Fatalf("PCB %02X: %v, want %v", c.pcb, got, c.want)
		}
	}
}

func TestHandleSBlockResyncResetsSequenceAndIFSC(t *testing.T) {
	result := HandleSBlock(Block{PCB: PCBResyncRequest})
	if !result.Respond || result.Response.PCB != PCBResyncResponse {
		t.Fatalf("expected resync response, got %+v", result)
	}
	if !result.ResetSequence {
		t.Fatalf("expected ResetSequence")
	}
	if !result.HasNewIFSC || result.NewIFSC != 32 {
		t.Fatalf("expected IFSC reset to 32, got %+v", result)
	}
}

func TestHandleSBlockIFSDEchoesRequestedSize(t *testing.T) {
	result := HandleSBlock(Block{PCB: PCBIFSDRequest, INF: []byte{200}})
	if result.Response.PCB != PCBIFSDResponse || result.Response.INF[0] != 200 {
		t.Fatalf("unexpected IFSD response: %+v", result)
	}
	if !result.HasNewIFSC || result.NewIFSC != 200 {
		t.Fatalf("expected negotiated IFSC 200, got %+v", result)
	}
}

// the abort request's reply must be 0xE2, the final assignment in the
// original, not the discarded intermediate 0xD2.
func TestHandleSBlockAbortRepliesE2(t *testing.T) {
	result := HandleSBlock(Block{PCB: PCBAbortRequest})
	if result.Response.PCB != PCBAbortResponse {
		t.Fatalf("expected abort response PCB 0xE2, got %02X", result.Response.PCB)
	}
}

func TestHandleSBlockUnknownIgnored(t *testing.T) {
	result := HandleSBlock(Block{PCB: 0xCF})
	if !result.Unknown || result.Respond {
		t.Fatalf("expected unknown/no-response, got %+v", result)
	}
}

// a chained send of an 80-byte buffer at accepted_size=32 yields
// I-blocks of length 32, 32, 16 with the M-bit set on the first two.
func TestWriteChainedSegmentsAndMBit(t *testing.T) {
	sim := serialline.NewSim()
	// The reader acknowledges each intermediate segment with a clean
	// R-block matching the sequence bit the device is about to send.
	go func() {
		sim.Feed([]byte{0x00, 0x80, 0x00, 0x80})
		sim.Feed([]byte{0x00, 0x90, 0x00, 0x90})
	}()

	buf := make([]byte, 80)
	for i := range buf {
		buf[i] = byte(i)
	}

	var seq Sequence
	if err := WriteChained(sim, 0x00, &seq, buf, 32); err != nil {
		t.Fatalf("WriteChained: %v", err)
	}

	sent := sim.Sent()
	var blocks []Block
	pos := 0
	for pos < len(sent) {
		length := int(sent[pos+2])
		blocks = append(blocks, Block{NAD: sent[pos], PCB: sent[pos+1], INF: sent[pos+3 : pos+3+length]})
		pos += 3 + length + 1
	}

	if len(blocks) != 3 {
		t.Fatalf("expected 3 I-blocks, got %d", len(blocks))
	}
	wantLens := []int{32, 32, 16}
	for i, b := range blocks {
		if len(b.INF) != wantLens[i] {
			t.Fatalf("segment %d: length %d, want %d", i, len(b.INF), wantLens[i])
		}
		wantM := i != len(blocks)-1
		gotM := b.PCB&mBit != 0
		if gotM != wantM {
			t.Fatalf("segment %d: M-bit %v, want %v", i, gotM, wantM)
		}
	}
	if blocks[0].PCB&0x40 == blocks[1].PCB&0x40 {
		t.Fatalf("expected sequence bit to toggle between segments")
	}
}

// a WTX cycle sends an S(C3,01,02) request and consumes the reader's
// S(E3) response without error.
func TestSendWTXRequestsAndConsumesResponse(t *testing.T) {
	sim := serialline.NewSim()
	sim.Feed(Block{NAD: 0x00, PCB: PCBWTXResponse}.Marshal())

	sendWTX(sim)

	sent := sim.Sent()
	if len(sent) == 0 || sent[1] != PCBWTXRequest {
		t.Fatalf("expected WTX request PCB 0xC3, got %X", sent)
	}
}

// ArmWTX must be safely cancellable without deadlocking, regardless of
// whether it has fired yet.
func TestArmWTXCancel(t *testing.T) {
	sim := serialline.NewSim()
	a := ArmWTX(alarm.NewScheduler(), sim, time.Hour)
	a.Cancel()
	a.Cancel()
}
