package corelogic

import (
	"context"
	"fmt"
	"time"
)

// ErrShutdown unwinds Run once a Shutdown command is processed. It is a
// sentinel, not a failure: callers (e.g. runtime.Runtime.Run) should treat
// it as a clean stop request rather than an engine fault.
var ErrShutdown = fmt.Errorf("corelogic: shutdown requested")

// TimerIntervals tunes how often the background scheduler feeds each timer
// kind into the single Core Logic task (§4.3, §4.6, §4.9 all name their own
// sweep cadence; this just drives them).
type TimerIntervals struct {
	RekeySweep     time.Duration
	SessionSweep   time.Duration
	DeliveryRetry  time.Duration
	FragmentExpire time.Duration
	RouterDrain    time.Duration
}

// DefaultTimerIntervals picks cadences finer than the events they check for
// (e.g. rekey/session sweeps run more often than the shortest configured
// timeout) without busy-spinning.
func DefaultTimerIntervals() TimerIntervals {
	return TimerIntervals{
		RekeySweep:     5 * time.Second,
		SessionSweep:   5 * time.Second,
		DeliveryRetry:  time.Second,
		FragmentExpire: 10 * time.Second,
		RouterDrain:    time.Second,
	}
}

// Run drives the single Core Logic task until ctx is cancelled or a
// Shutdown command is processed. Each tick drains a bounded number of
// commands, then every currently queued event, then every currently queued
// timer tick, in that fixed order (§4.10); all session/delivery/store/
// identity/connection mutation happens here and nowhere else.
func (c *Core) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.appEvents)

	stopTimers := c.startTimerScheduler(ctx, DefaultTimerIntervals())
	defer stopTimers()

	for {
		if err := c.drainCommands(); err != nil {
			return err
		}
		c.drainEvents()
		c.drainTimers()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.commands:
			if err := c.handleCommand(cmd); err != nil {
				return err
			}
		case ev := <-c.events:
			c.handleEvent(ev)
		case t := <-c.timers:
			c.handleTimer(t)
		}
	}
}

func (c *Core) drainCommands() error {
	for i := 0; i < c.cfg.MaxCommandsPerTick; i++ {
		select {
		case cmd := <-c.commands:
			if err := c.handleCommand(cmd); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (c *Core) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		default:
			return
		}
	}
}

func (c *Core) drainTimers() {
	for {
		select {
		case t := <-c.timers:
			c.handleTimer(t)
		default:
			return
		}
	}
}

// startTimerScheduler runs a background goroutine translating wall-clock
// ticks into timerTick values on c.timers; it never touches Core state
// itself, preserving the single-writer invariant (§4.10, §5).
func (c *Core) startTimerScheduler(ctx context.Context, iv TimerIntervals) (stop func()) {
	done := make(chan struct{})
	schedule := func(d time.Duration, kind timerKind) {
		ticker := time.NewTicker(d)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					select {
					case c.timers <- timerTick{kind: kind}:
					default:
					}
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}()
	}
	schedule(iv.RekeySweep, timerRekeySweep)
	schedule(iv.SessionSweep, timerSessionSweep)
	schedule(iv.DeliveryRetry, timerDeliveryRetry)
	schedule(iv.FragmentExpire, timerFragmentExpire)
	schedule(iv.RouterDrain, timerRouterDrain)
	return func() { close(done) }
}
