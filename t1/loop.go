package t1

import (
	"github.com/cardtunnel/relay/alarm"
	"github.com/cardtunnel/relay/internal/logx"
	"github.com/cardtunnel/relay/serialline"
)

var loopLog = logx.New("t1")

// Host is the worker's view of the host channel, mirroring t0.Host.
// Defined again here rather than imported from t0: the two protocol
// loops do not otherwise depend on each other.
type Host interface {
	ForwardAPDU(apdu []byte) error
	AwaitResponse() (resp []byte, ok bool, err error)
}

// Worker holds the per-session state a T=1 command loop threads across
// iterations: the externally tracked sequence bit, the negotiated IFSC,
// and the last block transmitted (needed to resend on an error R-block
// that arrives outside a chained write).
//
// Grounded on the seq/accepted_size/response_tpdu locals threaded through
// prot_t1's while loop in original_source/pico-tunnel/pico_poc.c.
type Worker struct {
	NAD          byte
	Seq          Sequence
	AcceptedSize uint8

	last    Block
	hasLast bool
}

// NewWorker returns a Worker ready to run a T=1 session, with the
// sequence bit seeded to its initial (cleared) state.
func NewWorker(nad byte) *Worker {
	return &Worker{NAD: nad, AcceptedSize: DefaultAcceptedSize}
}

// HandleCommand services one iteration of the T=1 command loop: it reads
// one block and, depending on its kind, handles it inline (R/S) or
// forwards an I-block's APDU to the host under a WTX alarm and writes the
// chained response back. A read timeout or a completed PPS is logged and
// returns nil; a checksum error is answered with a parity-error R-block.
//
// Grounded on the body of prot_t1's while(true) loop in
// original_source/pico-tunnel/pico_poc.c.
func (w *Worker) HandleCommand(line serialline.Line, host Host, scheduler *alarm.Scheduler, bwtUs float64) error {
	block, err := ReadBlock(line)
	switch err {
	case ErrPPSDetected:
		loopLog.Info("PPS completed")
		return nil
	case serialline.ErrTimeout:
		loopLog.Debug("reading timeout")
		return nil
	case ErrChecksumMismatch:
		loopLog.Info("checksum mismatch")
		return w.sendErrorR(line)
	case nil:
	default:
		return err
	}

	switch block.Kind() {
	case KindS:
		return w.handleS(line, block)
	case KindR:
		return w.handleR(line, block)
	default:
		return w.handleI(line, host, scheduler, bwtUs, block)
	}
}

// sendErrorR replies to a checksum failure with an R-block carrying a
// parity-error PCB matching the current sequence bit.
func (w *Worker) sendErrorR(line serialline.Line) error {
	pcb := byte(0x81)
	if w.Seq.Bit() == 1 {
		pcb = 0x91
	}
	r := Block{NAD: w.NAD, PCB: pcb}
	w.remember(r)
	return WriteBlock(line, r)
}

func (w *Worker) handleS(line serialline.Line, block Block) error {
	result := HandleSBlock(block)
	if result.ResetSequence {
		w.Seq.Reset()
	}
	if result.HasNewIFSC {
		w.AcceptedSize = result.NewIFSC
	}
	if result.Respond {
		w.remember(result.Response)
		return WriteBlock(line, result.Response)
	}
	return nil
}

// handleR resends the last block on an error response; a clean R-block
// (or one this layer cannot classify) is a no-op acknowledgement.
func (w *Worker) handleR(line serialline.Line, block Block) error {
	if ClassifyR(block) == RNoError {
		return nil
	}
	if !w.hasLast {
		return nil
	}
	return WriteBlock(line, w.last)
}

func (w *Worker) handleI(line serialline.Line, host Host, scheduler *alarm.Scheduler, bwtUs float64, command Block) error {
	interval := WTXInterval(bwtUs)
	wtx := ArmWTX(scheduler, line, interval)

	if err := host.ForwardAPDU(command.INF); err != nil {
		wtx.Cancel()
		return err
	}

	var resp []byte
	for {
		r, ok, err := host.AwaitResponse()
		if err != nil {
			wtx.Cancel()
			return err
		}
		if ok {
			resp = r
			break
		}
	}
	wtx.Cancel()

	err := WriteChained(line, w.NAD, &w.Seq, resp, w.AcceptedSize)
	if err == nil {
		w.hasLast = false
	}
	return err
}

func (w *Worker) remember(b Block) {
	w.last = b
	w.hasLast = true
}
