package serialline

import (
	"sync"
	"time"
)

// Sim is an in-memory Line used by tests and by the simulated card-clock
// echo. Bytes written by the protocol layers are recorded; bytes "sent
// by the reader" are injected with Feed and consumed by Read/ReadTimed.
type Sim struct {
	mu   sync.Mutex
	sent []byte
	baud uint32

	in chan byte

	// Echo overrides the byte read back after each transmitted byte;
	// by default it is a perfect echo. Tests use this to simulate line
	// collisions/noise.
	Echo func(sent byte) byte

	// OnEchoMismatch is called whenever the (possibly overridden) echo
	// does not match the transmitted byte.
	OnEchoMismatch EchoMismatchFunc
}

// NewSim returns a ready-to-use simulated line.
func NewSim() *Sim {
	return &Sim{
		in:   make(chan byte, 4096),
		baud: 9600,
		Echo: func(sent byte) byte { return sent },
	}
}

// Feed injects bytes as if sent by the reader, available to Read/ReadTimed.
func (s *Sim) Feed(buf []byte) {
	for _, c := range buf {
		s.in <- c
	}
}

// Sent returns every byte transmitted so far, in order.
func (s *Sim) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Baud returns the currently configured baud rate.
func (s *Sim) Baud() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

// Write records buf as transmitted. It does not drain pending input: the
// simulated echo never enters the receive queue, so every fed byte stays
// available to the next Read/ReadTimed.
func (s *Sim) Write(buf []byte) error {
	for i, c := range buf {
		s.mu.Lock()
		s.sent = append(s.sent, c)
		s.mu.Unlock()

		got := s.Echo(c)
		if got != c && s.OnEchoMismatch != nil {
			s.OnEchoMismatch(i, c, got)
		}
	}
	return nil
}

func (s *Sim) Read(buf []byte) error {
	for i := range buf {
		buf[i] = <-s.in
	}
	return nil
}

func (s *Sim) ReadTimed(buf []byte, timeout time.Duration) error {
	for i := range buf {
		select {
		case c := <-s.in:
			buf[i] = c
		case <-time.After(timeout):
			return ErrTimeout
		}
	}
	return nil
}

func (s *Sim) Drain() {
	for {
		select {
		case <-s.in:
		default:
			return
		}
	}
}

func (s *Sim) SetBaud(baud uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baud = baud
	return nil
}

func (s *Sim) WaitTxComplete() {}
