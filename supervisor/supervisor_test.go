package supervisor

import (
	"bytes"
	"context"
	"testing"

	"github.com/cardtunnel/relay/atr"
	"github.com/cardtunnel/relay/gpioreset"
	"github.com/cardtunnel/relay/hostchannel"
	"github.com/cardtunnel/relay/internal/wire"
	"github.com/cardtunnel/relay/serialline"
	"github.com/cardtunnel/relay/session"
)

// pipe is an in-memory io.ReadWriter: reads come from in, writes land in
// out, mirroring hostchannel's own test helper.
type pipe struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (p *pipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func frame(op hostchannel.Opcode, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(op))
	var lenBuf [4]byte
	wire.LengthOrder.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
	return buf.Bytes()
}

func newTestSupervisor(in []byte) (*Supervisor, *pipe) {
	p := &pipe{in: bytes.NewBuffer(in), out: &bytes.Buffer{}}
	s := New(p, gpioreset.NewSim(), serialline.NewSim(), 0x00, 3571200)
	return s, p
}

// bootstrap ATR request.
func TestAcquireInitialATRSendsRequestAndParsesReply(t *testing.T) {
	atrPayload := []byte{0x3B, 0x9F, 0x95, 0x80, 0x1F, 0xC7, 0x80, 0x31}
	s, p := newTestSupervisor(frame(hostchannel.OpSendATR, atrPayload))

	if err := s.acquireInitialATR(context.Background()); err != nil {
		t.Fatalf("acquireInitialATR: %v", err)
	}
	if s.atr == nil {
		t.Fatalf("expected atr to be set")
	}

	sent := frame(hostchannel.OpSendATR, nil)
	if !bytes.HasPrefix(p.out.Bytes(), sent) {
		t.Fatalf("expected SENDATR request with len=0, got %X", p.out.Bytes())
	}
}

// an ATR that fails to parse (bad TS) must not end the NEED_ATR loop;
// the supervisor keeps requesting until a parseable one arrives.
func TestAcquireInitialATRRetriesOnInvalidATR(t *testing.T) {
	s, _ := newTestSupervisor(append(
		frame(hostchannel.OpSendATR, []byte{0x00, 0x00}),
		frame(hostchannel.OpSendATR, []byte{0x3B, 0x80, 0x00})..., // TD1=0x00 selects T=0
	))

	if err := s.acquireInitialATR(context.Background()); err != nil {
		t.Fatalf("acquireInitialATR: %v", err)
	}
	if !s.atr.Valid() {
		t.Fatalf("expected the second, valid ATR to win")
	}
}

// a SET_UARTMODE switch to asynchronous with a
// zero clock field keeps the previously configured clock.
func TestDrainUpdatesKeepsClockOnZero(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.clockHz = 7_000_000

	s.channel.UARTModeUpdates.TryAdd(hostchannel.UARTModeUpdate{
		Mode:    byte(session.UARTModeAsynchronous),
		ClockHz: 0,
	})
	s.drainUpdates()

	if s.clockHz != 7_000_000 {
		t.Fatalf("clock changed to %d, want unchanged 7000000", s.clockHz)
	}
}

func TestDrainUpdatesAppliesNonZeroClock(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.clockHz = 7_000_000

	s.channel.UARTModeUpdates.TryAdd(hostchannel.UARTModeUpdate{
		Mode:    byte(session.UARTModeAsynchronous),
		ClockHz: 4_000_000,
	})
	s.drainUpdates()

	if s.clockHz != 4_000_000 {
		t.Fatalf("clock = %d, want 4000000", s.clockHz)
	}
}

func TestHandleResetEdgeSkipsUnknownProtocol(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.atr = atr.Parse([]byte{0x00, 0x00}) // bad TS -> ProtocolUnknown
	s.handleResetEdge()

	if _, ok := s.mailbox.TryRemove(); !ok {
		t.Fatalf("expected a config to have been enqueued even for an unknown protocol")
	}
}
