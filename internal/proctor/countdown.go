// Package proctor holds the two per-attempt cores of a live exam: the
// countdown that time-boxes the attempt and the fullscreen watchdog that
// forfeits it. Neither touches the network or storage; callers are notified
// through callbacks only.
package proctor

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickInterval is the wall-clock period between two countdown reports.
const TickInterval = time.Second

// Severity thresholds in seconds.
const (
	CriticalBelow = 5 * 60
	WarningBelow  = 15 * 60
)

// Severity is a presentation hint for the remaining time. It never drives
// control flow.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Tick returns the value following remaining: one second less, floored at 0.
func Tick(remaining int) int {
	if remaining <= 1 {
		return 0
	}
	return remaining - 1
}

// FormatClock renders seconds as HH:MM:SS. Hours are not capped, so 100 hours
// renders as "100:00:00".
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// SeverityOf classifies the remaining seconds.
func SeverityOf(seconds int) Severity {
	switch {
	case seconds < CriticalBelow:
		return SeverityCritical
	case seconds < WarningBelow:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// Countdown is a running, cancellable session timer. It is created by
// StartCountdown and must be released with Stop by whoever started it.
type Countdown struct {
	ticker clockwork.Ticker
	report func(int)

	mu        sync.Mutex
	remaining int
	stopped   bool

	quit   chan struct{}
	exited chan struct{}
}

// StartCountdown begins reporting Tick(remaining) through report once per
// TickInterval of clock time. Reports continue at 0 once time is exhausted;
// ending the attempt is the caller's decision.
//
// report runs on the countdown goroutine and must not call Stop.
func StartCountdown(clock clockwork.Clock, remaining int, report func(int)) *Countdown {
	if remaining < 0 {
		remaining = 0
	}
	if report == nil {
		report = func(int) {}
	}

	c := &Countdown{
		ticker:    clock.NewTicker(TickInterval),
		report:    report,
		remaining: remaining,
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Countdown) run() {
	defer close(c.exited)

	for {
		select {
		case <-c.quit:
			return
		case <-c.ticker.Chan():
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			c.remaining = Tick(c.remaining)
			next := c.remaining
			c.mu.Unlock()

			c.report(next)
		}
	}
}

// Remaining returns the last value reported (or the starting value before
// the first tick).
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Stop cancels the repeating tick. Once Stop returns no further report is
// delivered. Safe to call more than once.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.ticker.Stop()
	close(c.quit)
	<-c.exited
}
