// Package supervisor implements the two-core relay dispatcher: one
// logical core watches the reset line and the host configuration
// queues, while the other runs exactly one of {waiting,
// T=0 loop, T=1 loop}. On each reset edge the supervisor tears down and
// relaunches the worker with the current configuration.
//
// Grounded on main()/prot_waiting/prot_t0/prot_t1 in
// original_source/pico-tunnel/pico_poc.c. The two "cores" are modelled as
// goroutines: the Supervisor's own Run loop plays core0, and each
// worker-mode function (runWaiting/runT0/runT1) is launched on its own
// goroutine to play core1. A real reset of core1 discards every
// worker-local allocation instantaneously; a goroutine cannot be killed
// from outside, so "resetting" the worker here means the supervisor
// stops waiting on it and hands the next session a disjoint set of
// resources (a fresh t0.Cache, t1.Worker, and session.Config) — the
// abandoned goroutine exits on its own the next time its blocking I/O
// call fails or returns, which happens as soon as the reset has torn
// down the physical line underneath it. See DESIGN.md for the full
// rationale.
package supervisor

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/cardtunnel/relay/alarm"
	"github.com/cardtunnel/relay/atr"
	"github.com/cardtunnel/relay/gpioreset"
	"github.com/cardtunnel/relay/hostchannel"
	"github.com/cardtunnel/relay/internal/logx"
	"github.com/cardtunnel/relay/internal/queue"
	"github.com/cardtunnel/relay/serialline"
	"github.com/cardtunnel/relay/session"
)

// resetPollInterval bounds how often the supervisor samples the reset
// line and the update queues; 100µs keeps reset-edge latency well
// under a card's worst-case ATR timing budget.
const resetPollInterval = 100 * time.Microsecond

// Supervisor is the relay core's top-level dispatcher.
type Supervisor struct {
	channel   *hostchannel.Channel
	resetLine gpioreset.Line
	cardLine  serialline.Line
	nad       byte
	nominalHz uint32

	scheduler *alarm.Scheduler
	mailbox   *queue.Queue[session.Config]

	atr      *atr.ATR
	uartMode session.UARTMode
	clockHz  uint32

	state atomic.Int32
}

// New constructs a Supervisor. hostPipe is the USB control channel
// byte pipe; resetLine and cardLine are the reset-line
// GPIO and card-facing UART the worker owns; nad is the
// T=1 node address this device answers to; nominalClockHz is the
// default card clock.
func New(hostPipe io.ReadWriter, resetLine gpioreset.Line, cardLine serialline.Line, nad byte, nominalClockHz uint32) *Supervisor {
	s := &Supervisor{
		resetLine: resetLine,
		cardLine:  cardLine,
		nad:       nad,
		nominalHz: nominalClockHz,
		scheduler: alarm.NewScheduler(),
		mailbox:   queue.New[session.Config](session.MailboxCapacity),
		clockHz:   nominalClockHz,
	}
	s.channel = hostchannel.New(hostPipe, s.stateByte)
	return s
}

// Channel exposes the host channel for callers that need to install a
// logx sink (DEBUGMSG forwarding) before Run starts.
func (s *Supervisor) Channel() *hostchannel.Channel {
	return s.channel
}

func (s *Supervisor) stateByte() byte {
	return byte(s.state.Load())
}

// Run executes the supervisor's boot sequence and main poll loop until
// ctx is cancelled or an unrecoverable host-channel error occurs.
func (s *Supervisor) Run(ctx context.Context) error {
	s.state.Store(int32(session.StateNeedATR))
	if err := s.acquireInitialATR(ctx); err != nil {
		return err
	}
	s.state.Store(int32(session.StateRDYToRelay))

	go runWaiting(s.channel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.resetLine.High() {
			s.handleResetEdge()
			for s.resetLine.High() {
				time.Sleep(resetPollInterval)
			}
			time.Sleep(resetPollInterval)
			continue
		}

		s.drainUpdates()
		time.Sleep(resetPollInterval)
	}
}

// acquireInitialATR implements the NEED_ATR state: loop sending
// SENDATR requests to the host until one returns a parseable ATR.
func (s *Supervisor) acquireInitialATR(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		log.Debug("requesting first ATR")
		if err := s.channel.SendATRRequest(); err != nil {
			return err
		}
		a, err := s.channel.AwaitATR()
		if err != nil {
			return err
		}
		if !a.Valid() {
			log.Info("bootstrap ATR did not parse, retrying")
			continue
		}
		s.atr = a
		return nil
	}
}

// handleResetEdge tears down the current worker and launches the one
// matching the current ATR's protocol.
func (s *Supervisor) handleResetEdge() {
	log.Info("trigger detected: reset worker")

	s.mailbox.Drain()
	s.mailbox.AddBlocking(s.currentConfig())

	switch s.atr.Protocol {
	case atr.ProtocolT1:
		log.Info("launch t1")
		go runT1(s.cardLine, s.channel, s.mailbox, s.nad, s.nominalHz)
	case atr.ProtocolT0:
		log.Info("launch t0")
		go runT0(s.cardLine, s.channel, s.mailbox, s.nominalHz)
	default:
		log.Info("atr parsing failed, not launching a worker")
	}
}

// currentConfig snapshots the supervisor-local state into a value-typed
// session.Config for handover.
func (s *Supervisor) currentConfig() session.Config {
	a := *s.atr
	a.Payload = append([]byte(nil), s.atr.Payload...)
	return session.Config{
		ATR:               &a,
		Scheduler:         s.scheduler,
		UARTMode:          s.uartMode,
		ConfiguredClockHz: s.clockHz,
		LogLevel:          logx.CurrentLevel(),
	}
}

// drainUpdates applies any pending ATR/UART-mode/log-level updates to
// supervisor-local state so the next reset edge picks them up.
func (s *Supervisor) drainUpdates() {
	if u, ok := s.channel.ATRUpdates.TryRemove(); ok {
		s.atr = u.ATR
		log.Debug("new atr installed, protocol=%s", u.ATR.Protocol)
	}
	if u, ok := s.channel.UARTModeUpdates.TryRemove(); ok {
		s.uartMode = session.UARTMode(u.Mode)
		if s.uartMode == session.UARTModeAsynchronous {
			// a zero clock field keeps the previously configured clock
			// rather than zeroing it.
			if u.ClockHz > 0 {
				s.clockHz = u.ClockHz
			}
			log.Debug("new uart mode %s with clock %d", s.uartMode, s.clockHz)
		} else {
			log.Debug("new uart mode %s", s.uartMode)
		}
	}
	if _, ok := s.channel.LogLevelUpdates.TryRemove(); ok {
		log.Debug("new log level %s", logx.CurrentLevel())
	}
}
