package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestTick(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{in: 0, want: 0},
		{in: 1, want: 0},
		{in: 2, want: 1},
		{in: 2700, want: 2699},
		{in: -4, want: 0},
	}

	for _, tc := range tests {
		if got := Tick(tc.in); got != tc.want {
			t.Errorf("Tick(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestTick_StaysAtZero(t *testing.T) {
	v := 0
	for i := 0; i < 100; i++ {
		v = Tick(v)
		if v != 0 {
			t.Fatalf("tick %d from zero produced %d", i, v)
		}
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{60, "00:01:00"},
		{3661, "01:01:01"},
		{45 * 60, "00:45:00"},
		{360000, "100:00:00"},
		{-1, "00:00:00"},
	}

	for _, tc := range tests {
		if got := FormatClock(tc.seconds); got != tc.want {
			t.Errorf("FormatClock(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		seconds int
		want    Severity
	}{
		{0, SeverityCritical},
		{290, SeverityCritical},
		{299, SeverityCritical},
		{300, SeverityWarning},
		{890, SeverityWarning},
		{899, SeverityWarning},
		{900, SeverityNormal},
		{901, SeverityNormal},
	}

	for _, tc := range tests {
		if got := SeverityOf(tc.seconds); got != tc.want {
			t.Errorf("SeverityOf(%d) = %s, want %s", tc.seconds, got, tc.want)
		}
	}
}

// fakeClock is the part of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

func advanceOneTick(t *testing.T, fc fakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker never registered: %v", err)
	}
	fc.Advance(TickInterval)
}

func TestCountdown_ReportsEverySecondAndFloorsAtZero(t *testing.T) {
	fc := clockwork.NewFakeClock()
	reports := make(chan int, 16)

	cd := StartCountdown(fc, 3, func(v int) { reports <- v })
	defer cd.Stop()

	for _, want := range []int{2, 1, 0, 0, 0} {
		advanceOneTick(t, fc)
		select {
		case got := <-reports:
			if got != want {
				t.Fatalf("report = %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no report for expected value %d", want)
		}
	}

	if got := cd.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestCountdown_NegativeStartIsClamped(t *testing.T) {
	fc := clockwork.NewFakeClock()
	cd := StartCountdown(fc, -10, nil)
	defer cd.Stop()

	if got := cd.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestCountdown_NoReportAfterStop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	reports := make(chan int, 16)

	cd := StartCountdown(fc, 60, func(v int) { reports <- v })

	advanceOneTick(t, fc)
	select {
	case <-reports:
	case <-time.After(time.Second):
		t.Fatal("expected one report before stop")
	}

	cd.Stop()
	cd.Stop()

	fc.Advance(10 * TickInterval)

	select {
	case v := <-reports:
		t.Fatalf("report %d delivered after Stop", v)
	case <-time.After(50 * time.Millisecond):
	}

	if got := cd.Remaining(); got != 59 {
		t.Errorf("Remaining() = %d, want 59", got)
	}
}
