package t1

import (
	"time"

	"github.com/cardtunnel/relay/alarm"
	"github.com/cardtunnel/relay/internal/logx"
	"github.com/cardtunnel/relay/serialline"
)

var wtxLog = logx.New("t1.wtx")

// WTXIntervalNumerator and WTXIntervalDenominator give the BWT alarm's
// rearm interval as a fraction of BWT, matching prot_t1's
// bwt_interval = (entry.atr.BWT_us * 3) / 4.
const (
	WTXIntervalNumerator   = 3
	WTXIntervalDenominator = 4
)

// WTXInterval computes the BWT alarm interval from a BWT in microseconds.
func WTXInterval(bwtUs float64) time.Duration {
	return time.Duration(bwtUs*WTXIntervalNumerator/WTXIntervalDenominator) * time.Microsecond
}

// ArmWTX schedules the block-waiting-time extension alarm on scheduler:
// while a host response is pending, it fires every interval, sends an
// S(WTX request) block over line, and reads back the S(WTX response).
// The caller cancels the returned alarm once the real response arrives.
//
// Grounded on t1_timer_block_waiting_extension in
// original_source/pico-tunnel/util/util.c.
func ArmWTX(scheduler *alarm.Scheduler, line serialline.Line, interval time.Duration) *alarm.Alarm {
	return scheduler.Schedule(interval, func() bool {
		sendWTX(line)
		return true
	})
}

func sendWTX(line serialline.Line) {
	if err := WriteBlock(line, NewWTXRequest()); err != nil {
		wtxLog.Debug("WTX write failed: %v", err)
		return
	}
	resp, err := ReadBlock(line)
	switch {
	case err == ErrPPSDetected:
	case err != nil:
		wtxLog.Debug("WTX response error: %v", err)
	case resp.PCB == PCBWTXResponse:
		wtxLog.Trace("WTX response ok")
	default:
		wtxLog.Debug("unexpected WTX response: %s", resp)
	}
}
