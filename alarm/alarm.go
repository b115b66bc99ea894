// Package alarm abstracts the rearmable one-shot timer used by the T=1
// block-waiting-time extension mechanism. The concrete
// timer hardware is an external collaborator out of scope for this core
//; here it is a goroutine/time.Timer-backed scheduler, standing
// in for the interrupt-context alarm callback the original firmware arms on
// its worker core.
package alarm

import "time"

// Func is invoked when an alarm fires. Returning true rearms the alarm for
// the same interval.
type Func func() (rearm bool)

// Alarm is a cancellable, rearmable one-shot timer.
type Alarm struct {
	timer    *time.Timer
	interval time.Duration
	fn       Func
	stop     chan struct{}
}

// Schedule arms an alarm that calls fn after interval, rearming per fn's
// return value until Cancel is called.
func Schedule(interval time.Duration, fn Func) *Alarm {
	a := &Alarm{
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
	}
	a.timer = time.AfterFunc(interval, a.fire)
	return a
}

func (a *Alarm) fire() {
	select {
	case <-a.stop:
		return
	default:
	}
	if a.fn() {
		a.timer.Reset(a.interval)
	}
}

// Cancel stops the alarm. Safe to call more than once, and safe to call
// concurrently with a firing callback.
func (a *Alarm) Cancel() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
	a.timer.Stop()
}

// Scheduler is the handle the supervisor hands a worker session through
// session.Config, standing in for the pico SDK's alarm_pool_t. The original firmware
// constructs its pool once, on the worker core, by briefly launching it to
// run a pool-creation stub and retrieving the handle back over the
// relay_config_queue before the core is reset; a time.Timer needs no such
// dance, so Scheduler is built once at supervisor boot and copied by
// reference into every session.Config that follows.
type Scheduler struct{}

// NewScheduler returns a ready-to-use alarm scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule arms an alarm on this scheduler. See Schedule for semantics.
func (s *Scheduler) Schedule(interval time.Duration, fn Func) *Alarm {
	return Schedule(interval, fn)
}
