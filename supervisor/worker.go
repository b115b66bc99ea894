package supervisor

import (
	"github.com/cardtunnel/relay/atr"
	"github.com/cardtunnel/relay/hostchannel"
	"github.com/cardtunnel/relay/internal/logx"
	"github.com/cardtunnel/relay/internal/queue"
	"github.com/cardtunnel/relay/serialline"
	"github.com/cardtunnel/relay/session"
	"github.com/cardtunnel/relay/t0"
	"github.com/cardtunnel/relay/t1"
)

var log = logx.New("supervisor")

// initialBaud is the card UART's baud rate before any ATR/PPS exchange
// has set a protocol-specific rate.
const initialBaud uint32 = 9600

// ppsByte marks the first byte of a T=0 PPS request.
const ppsByte byte = 0xFF

// ppsLen is the length of a T=0 PPS request/response (PPSS, PPS0, PPS1,
// PCK), grounded on PPS_LEN in original_source/pico-tunnel/util/util.h.
const ppsLen = 4

// runWaiting is the worker's idle mode: it processes host-channel
// control-plane frames (ATR/UART-mode/log-level updates, state queries)
// without a card session, so the host can configure the device before
// the first reset. It never touches the mailbox,
// mirroring prot_waiting in original_source/pico-tunnel/pico_poc.c,
// which never dequeues relay_config_queue.
func runWaiting(channel *hostchannel.Channel) {
	log.Trace("wait for config")
	for {
		if _, err := channel.AwaitAPDU(); err != nil {
			log.Debug("waiting loop ended: %v", err)
			return
		}
	}
}

// runT0 drives one T=0 relay session: ATR, an optional PPS exchange, then
// HandleCommand in a loop until the channel or line fails. It returns when the session ends; the supervisor does not join
// it — the worker is torn down by the next reset edge regardless of
// whether this goroutine has returned.
//
// Grounded on prot_t0 in original_source/pico-tunnel/pico_poc.c.
func runT0(line serialline.Line, channel *hostchannel.Channel, mailbox *queue.Queue[session.Config], nominalClockHz uint32) {
	cfg := mailbox.RemoveBlocking()
	a := cfg.ATR

	if err := line.SetBaud(atr.Baudrate(atr.DefaultF, atr.DefaultD, nominalClockHz)); err != nil {
		log.Debug("t0: set initial baud: %v", err)
	}
	log.Debug("t0: send ATR")
	if err := line.Write(a.Payload); err != nil {
		log.Debug("t0: write atr: %v", err)
		return
	}

	negotiatePPS(line, a, cfg, nominalClockHz)

	cache := &t0.Cache{}
	for {
		if err := t0.HandleCommand(line, channel, cache); err != nil {
			log.Debug("t0: session ended: %v", err)
			return
		}
	}
}

// negotiatePPS performs T=0's standalone post-ATR PPS exchange: read the
// 4-byte request, echo it, and derive the new baud from PPS1.
func negotiatePPS(line serialline.Line, a *atr.ATR, cfg session.Config, nominalClockHz uint32) {
	var pps [ppsLen]byte
	if err := line.Read(pps[:]); err != nil {
		log.Debug("t0: read pps: %v", err)
		return
	}
	if pps[0] != ppsByte {
		log.Info("t0: error receiving pps")
		return
	}
	if err := line.Write(pps[:]); err != nil {
		log.Debug("t0: echo pps: %v", err)
		return
	}
	f := atr.ConvertF(pps[2])
	d := atr.ConvertD(pps[2])
	line.WaitTxComplete()
	clk := effectiveClockHz(line, cfg, nominalClockHz)
	baud := atr.Baudrate(f, d, clk)
	if err := line.SetBaud(baud); err != nil {
		log.Debug("t0: set pps baud: %v", err)
		return
	}
	log.Info("t0: set baudrate=%d", baud)
}

// runT1 drives one T=1 relay session: ATR, an optional early
// specific-mode baud switch, then Worker.HandleCommand in a loop.
//
// Grounded on prot_t1 in original_source/pico-tunnel/pico_poc.c.
func runT1(line serialline.Line, channel *hostchannel.Channel, mailbox *queue.Queue[session.Config], nad byte, nominalClockHz uint32) {
	cfg := mailbox.RemoveBlocking()
	a := cfg.ATR

	if err := line.SetBaud(initialBaud); err != nil {
		log.Debug("t1: set initial baud: %v", err)
	}
	log.Info("t1: send ATR")
	if err := line.Write(a.Payload); err != nil {
		log.Debug("t1: write atr: %v", err)
		return
	}

	clk := effectiveClockHz(line, cfg, nominalClockHz)
	if baud, ok := atr.EarlySpecificModeBaud(a, clk); ok {
		line.WaitTxComplete()
		if err := line.SetBaud(baud); err != nil {
			log.Debug("t1: set early baud: %v", err)
		} else {
			log.Info("t1: set early baudrate=%d", baud)
		}
	}

	worker := t1.NewWorker(nad)
	worker.AcceptedSize = a.IFSC

	for {
		if err := worker.HandleCommand(line, channel, cfg.Scheduler, a.BWTus); err != nil {
			log.Debug("t1: session ended: %v", err)
			return
		}
	}
}
