package t0

import (
	"testing"

	"github.com/cardtunnel/relay/serialline"
)

// fakeHost is a Host that replays one canned response after one poll
// returning ok=false, modelling a single "not yet arrived" cycle before
// the real answer.
type fakeHost struct {
	sent      []byte
	responses [][]byte
	polls     int
}

func (h *fakeHost) ForwardAPDU(apdu []byte) error {
	h.sent = append([]byte(nil), apdu...)
	return nil
}

func (h *fakeHost) AwaitResponse() ([]byte, bool, error) {
	h.polls++
	if h.polls == 1 {
		return nil, false, nil
	}
	if len(h.responses) == 0 {
		return nil, false, nil
	}
	r := h.responses[0]
	h.responses = h.responses[1:]
	return r, true, nil
}

// a T=0 case-2 read.
func TestHandleCommandCase2Read(t *testing.T) {
	sim := serialline.NewSim()
	sim.Feed([]byte{0x00, 0xB0, 0x00, 0x00, 0x08})

	host := &fakeHost{responses: [][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8, 0x90, 0x00},
	}}
	cache := &Cache{}

	if err := HandleCommand(sim, host, cache); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}

	if string(host.sent) != string([]byte{0x00, 0xB0, 0x00, 0x00, 0x08}) {
		t.Fatalf("forwarded %X, want header only", host.sent)
	}

	want := []byte{0xB0, 1, 2, 3, 4, 5, 6, 7, 8, 0x90, 0x00}
	if got := sim.Sent(); string(got) != string(want) {
		t.Fatalf("wrote %X, want %X (procedure byte + 10-byte response)", got, want)
	}
}

// a T=0 case-4 oversize GET RESPONSE. The SELECT carries Lc=2, so the
// device echoes the procedure byte 0xA4 before reading the data. The host's
// 30-byte response (28 data bytes + SW) exceeds the bare-SW and
// expected-Le cases, so it is cached and announced via SW1=0x61; the
// reader's follow-up GET RESPONSE is served from the cache with no
// second host round-trip.
func TestHandleCommandCase4OversizeThenGetResponse(t *testing.T) {
	sim := serialline.NewSim()
	sim.Feed([]byte{0x00, 0xA4, 0x00, 0x00, 0x02, 0x3F, 0x00})

	body := make([]byte, 28)
	for i := range body {
		body[i] = byte(i + 1)
	}
	full := append(append([]byte(nil), body...), 0x90, 0x00)

	host := &fakeHost{responses: [][]byte{full}}
	cache := &Cache{}

	if err := HandleCommand(sim, host, cache); err != nil {
		t.Fatalf("HandleCommand (SELECT): %v", err)
	}
	if string(host.sent) != string([]byte{0x00, 0xA4, 0x00, 0x00, 0x02, 0x3F, 0x00}) {
		t.Fatalf("forwarded %X, want SELECT with Lc data", host.sent)
	}
	if got := sim.Sent(); string(got) != string([]byte{0xA4, 0x61, 0x1C}) {
		t.Fatalf("wrote %X, want procedure byte A4 then SW 61 1C announcing 28 pending bytes", got)
	}
	cached, ok := cache.Body()
	if !ok || string(cached) != string(full) {
		t.Fatalf("expected full 30-byte response cached, got %X", cached)
	}

	sim.Feed([]byte{0x00, 0xC0, 0x00, 0x00, 0x1C})
	if err := HandleCommand(sim, host, cache); err != nil {
		t.Fatalf("HandleCommand (GET RESPONSE): %v", err)
	}
	want := append([]byte{0xA4, 0x61, 0x1C, 0xC0}, full...)
	if got := sim.Sent(); string(got) != string(want) {
		t.Fatalf("GET RESPONSE wrote %X, want %X (no second host round-trip)", got, want)
	}
	if host.polls != 2 {
		t.Fatalf("expected exactly one host round-trip (2 polls for the SELECT), got %d polls", host.polls)
	}
}

func TestDetermineCase(t *testing.T) {
	cases := []struct {
		h    Header
		want Case
	}{
		{Header{0x00, 0xA4, 0x00, 0x00, 0x02}, Case4},
		{Header{0x00, 0xB0, 0x00, 0x00, 0x08}, Case2},
		{Header{0x00, 0x20, 0x00, 0x00, 0x08}, Case3},
		{Header{0x00, 0x04, 0x00, 0x00, 0x00}, Case1},
	}
	for _, c := range cases {
		if got := DetermineCase(c.h); got != c.want {
			t.Fatalf("header %X: case %v, want %v", c.h, got, c.want)
		}
	}
}

func TestCacheClearOnNonGetResponse(t *testing.T) {
	sim := serialline.NewSim()
	sim.Feed([]byte{0x00, 0xB0, 0x00, 0x00, 0x02})

	cache := &Cache{}
	cache.Set([]byte{1, 2, 3})

	host := &fakeHost{responses: [][]byte{{0x90, 0x00}}}
	if err := HandleCommand(sim, host, cache); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if _, ok := cache.Body(); ok {
		t.Fatalf("expected cache cleared by non-GET-RESPONSE command")
	}
}
