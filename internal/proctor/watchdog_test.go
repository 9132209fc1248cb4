package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// fakeScreen is an in-memory Fullscreen platform.
type fakeScreen struct {
	mu      sync.Mutex
	active  bool
	denyErr error
	subs    map[int]func()
	nextID  int
	exits   int

	// gate, when set, holds Request until it is closed. requested is
	// signalled once Request is waiting on it.
	gate      chan struct{}
	requested chan struct{}
	// dropOnGrant loses fullscreen silently right after granting it.
	dropOnGrant bool
}

func newFakeScreen() *fakeScreen {
	return &fakeScreen{subs: map[int]func(){}, requested: make(chan struct{}, 1)}
}

func (f *fakeScreen) Request(context.Context) error {
	f.mu.Lock()
	if f.denyErr != nil {
		err := f.denyErr
		f.mu.Unlock()
		return err
	}
	gate, drop := f.gate, f.dropOnGrant
	f.mu.Unlock()

	if gate != nil {
		select {
		case f.requested <- struct{}{}:
		default:
		}
		<-gate
	}
	f.set(true)
	if drop {
		f.setSilently(false)
	}
	return nil
}

func (f *fakeScreen) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeScreen) Exit(context.Context) error {
	f.mu.Lock()
	f.exits++
	f.mu.Unlock()
	f.set(false)
	return nil
}

func (f *fakeScreen) Subscribe(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// set changes the fullscreen flag and fires a change notification.
func (f *fakeScreen) set(active bool) {
	f.mu.Lock()
	f.active = active
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// setSilently changes the flag without notifying listeners.
func (f *fakeScreen) setSilently(active bool) {
	f.mu.Lock()
	f.active = active
	f.mu.Unlock()
}

func (f *fakeScreen) exitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exits
}

func (f *fakeScreen) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type forfeitCounter struct {
	mu    sync.Mutex
	count int
	fired chan struct{}
}

func newForfeitCounter() *forfeitCounter {
	return &forfeitCounter{fired: make(chan struct{}, 8)}
}

func (c *forfeitCounter) onForfeit() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	c.fired <- struct{}{}
}

func (c *forfeitCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func waitForState(t *testing.T, w *Watchdog, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", w.State(), want)
}

func startedWatchdog(t *testing.T) (*Watchdog, *fakeScreen, *forfeitCounter, fakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	screen := newFakeScreen()
	counter := newForfeitCounter()

	w := NewWatchdog(screen, counter.onForfeit, WithClock(fc))
	t.Cleanup(w.Close)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := w.State(); got != Active {
		t.Fatalf("state after start = %s, want active", got)
	}
	return w, screen, counter, fc
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from   State
		sig    Signal
		to     State
		effect Effect
	}{
		{NotStarted, SignalStartGranted, Active, EffectNone},
		{NotStarted, SignalStartDenied, NotStarted, EffectWarnDenied},
		{NotStarted, SignalFullscreenLost, NotStarted, EffectNone},
		{NotStarted, SignalFullscreenRegained, NotStarted, EffectNone},
		{NotStarted, SignalGraceExpired, NotStarted, EffectNone},

		{Active, SignalStartGranted, Active, EffectNone},
		{Active, SignalStartDenied, Active, EffectNone},
		{Active, SignalFullscreenLost, ExitedPendingForfeit, EffectStartGrace},
		{Active, SignalFullscreenRegained, Active, EffectNone},
		{Active, SignalGraceExpired, Active, EffectNone},

		{ExitedPendingForfeit, SignalStartGranted, ExitedPendingForfeit, EffectNone},
		{ExitedPendingForfeit, SignalStartDenied, ExitedPendingForfeit, EffectNone},
		{ExitedPendingForfeit, SignalFullscreenLost, ExitedPendingForfeit, EffectNone},
		{ExitedPendingForfeit, SignalFullscreenRegained, Active, EffectCancelGrace},
		{ExitedPendingForfeit, SignalGraceExpired, Forfeited, EffectForfeit},

		{Forfeited, SignalStartGranted, Forfeited, EffectNone},
		{Forfeited, SignalStartDenied, Forfeited, EffectNone},
		{Forfeited, SignalFullscreenLost, Forfeited, EffectNone},
		{Forfeited, SignalFullscreenRegained, Forfeited, EffectNone},
		{Forfeited, SignalGraceExpired, Forfeited, EffectNone},
	}

	for _, tc := range tests {
		t.Run(tc.from.String()+"/"+tc.sig.String(), func(t *testing.T) {
			to, eff := Transition(tc.from, tc.sig)
			if to != tc.to || eff != tc.effect {
				t.Errorf("Transition(%s, %s) = (%s, %d), want (%s, %d)", tc.from, tc.sig, to, eff, tc.to, tc.effect)
			}
		})
	}
}

func TestWatchdog_ChangesBeforeStartNeverForfeit(t *testing.T) {
	fc := clockwork.NewFakeClock()
	screen := newFakeScreen()
	counter := newForfeitCounter()

	w := NewWatchdog(screen, counter.onForfeit, WithClock(fc))
	defer w.Close()

	screen.set(true)
	screen.set(false)
	fc.Advance(10 * DefaultGracePeriod)

	select {
	case <-counter.fired:
		t.Fatal("forfeit fired before the candidate started")
	case <-time.After(50 * time.Millisecond):
	}
	if got := w.State(); got != NotStarted {
		t.Errorf("state = %s, want not_started", got)
	}
}

func TestWatchdog_StartDeniedStaysNotStartedAndCanRetry(t *testing.T) {
	fc := clockwork.NewFakeClock()
	screen := newFakeScreen()
	screen.denyErr = errors.New("permission denied")

	var warnings []Warning
	w := NewWatchdog(screen, nil, WithClock(fc), WithWarnings(func(wn Warning) {
		warnings = append(warnings, wn)
	}))
	defer w.Close()

	err := w.Start(context.Background())
	if !errors.Is(err, ErrFullscreenDenied) {
		t.Fatalf("Start error = %v, want ErrFullscreenDenied", err)
	}
	if got := w.State(); got != NotStarted {
		t.Fatalf("state = %s, want not_started", got)
	}
	if len(warnings) != 1 || warnings[0].Kind != WarningFullscreenRequired {
		t.Fatalf("warnings = %+v, want one fullscreen_required", warnings)
	}

	screen.mu.Lock()
	screen.denyErr = nil
	screen.mu.Unlock()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if got := w.State(); got != Active {
		t.Errorf("state after retry = %s, want active", got)
	}
}

func TestWatchdog_RegainWithinGraceKeepsAttempt(t *testing.T) {
	w, screen, counter, fc := startedWatchdog(t)

	screen.set(false)
	if got := w.State(); got != ExitedPendingForfeit {
		t.Fatalf("state after exit = %s, want exited_pending_forfeit", got)
	}

	fc.Advance(DefaultGracePeriod - time.Second)
	screen.set(true)
	fc.Advance(10 * DefaultGracePeriod)

	select {
	case <-counter.fired:
		t.Fatal("forfeit fired although fullscreen was regained")
	case <-time.After(50 * time.Millisecond):
	}
	if got := w.State(); got != Active {
		t.Errorf("state = %s, want active", got)
	}
}

func TestWatchdog_GraceExpiryForfeitsExactlyOnce(t *testing.T) {
	var warnings []WarningKind
	var mu sync.Mutex

	fc := clockwork.NewFakeClock()
	screen := newFakeScreen()
	counter := newForfeitCounter()
	w := NewWatchdog(screen, counter.onForfeit, WithClock(fc), WithWarnings(func(wn Warning) {
		mu.Lock()
		warnings = append(warnings, wn.Kind)
		mu.Unlock()
	}))
	defer w.Close()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	screen.set(false)
	fc.Advance(DefaultGracePeriod)

	select {
	case <-counter.fired:
	case <-time.After(time.Second):
		t.Fatal("forfeit did not fire after the grace period")
	}
	if got := w.State(); got != Forfeited {
		t.Fatalf("state = %s, want forfeited", got)
	}

	screen.set(true)
	screen.set(false)
	fc.Advance(10 * DefaultGracePeriod)
	time.Sleep(50 * time.Millisecond)

	if got := counter.total(); got != 1 {
		t.Errorf("forfeit fired %d times, want 1", got)
	}
	if got := w.State(); got != Forfeited {
		t.Errorf("state = %s, want forfeited", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 1 || warnings[0] != WarningFullscreenExited {
		t.Errorf("warnings = %v, want one fullscreen_exited", warnings)
	}
}

func TestWatchdog_GraceExpiryRechecksFullscreen(t *testing.T) {
	w, screen, counter, fc := startedWatchdog(t)

	screen.set(false)
	// Regain without the change notification reaching the watchdog.
	screen.setSilently(true)
	fc.Advance(DefaultGracePeriod)

	waitForState(t, w, Active)
	if got := counter.total(); got != 0 {
		t.Errorf("forfeit fired %d times, want 0", got)
	}
}

func TestWatchdog_CustomGracePeriod(t *testing.T) {
	fc := clockwork.NewFakeClock()
	screen := newFakeScreen()
	counter := newForfeitCounter()
	w := NewWatchdog(screen, counter.onForfeit, WithClock(fc), WithGracePeriod(2*time.Second))
	defer w.Close()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	screen.set(false)

	fc.Advance(time.Second)
	select {
	case <-counter.fired:
		t.Fatal("forfeit fired before the custom grace period elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Advance(time.Second)
	select {
	case <-counter.fired:
	case <-time.After(time.Second):
		t.Fatal("forfeit did not fire after the custom grace period")
	}
}

func TestWatchdog_CloseCancelsPendingGrace(t *testing.T) {
	fc := clockwork.NewFakeClock()
	screen := newFakeScreen()
	counter := newForfeitCounter()
	w := NewWatchdog(screen, counter.onForfeit, WithClock(fc))

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	screen.set(false)

	w.Close()
	w.Close()
	fc.Advance(10 * DefaultGracePeriod)

	select {
	case <-counter.fired:
		t.Fatal("forfeit fired after Close")
	case <-time.After(50 * time.Millisecond):
	}
	if got := screen.subscribers(); got != 0 {
		t.Errorf("subscribers after Close = %d, want 0", got)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrWatchdogClosed) {
		t.Errorf("Start after Close = %v, want ErrWatchdogClosed", err)
	}
}

func TestWatchdog_CloseExitsFullscreen(t *testing.T) {
	fc := clockwork.NewFakeClock()
	screen := newFakeScreen()
	w := NewWatchdog(screen, nil, WithClock(fc))

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Close()

	screen.mu.Lock()
	exits := screen.exits
	screen.mu.Unlock()
	if exits != 1 {
		t.Errorf("exit requests = %d, want 1", exits)
	}
	if screen.Active() {
		t.Error("screen still fullscreen after Close")
	}
}

func TestWatchdog_CloseDuringStartExitsGrantedFullscreen(t *testing.T) {
	screen := newFakeScreen()
	screen.gate = make(chan struct{})
	w := NewWatchdog(screen, nil, WithClock(clockwork.NewFakeClock()))

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	select {
	case <-screen.requested:
	case <-time.After(time.Second):
		t.Fatal("Start never requested fullscreen")
	}

	// Nothing to exit yet: the request is still pending.
	w.Close()
	if got := screen.exitCount(); got != 0 {
		t.Fatalf("exit requests before grant = %d, want 0", got)
	}

	close(screen.gate)
	select {
	case err := <-done:
		if !errors.Is(err, ErrWatchdogClosed) {
			t.Errorf("Start = %v, want ErrWatchdogClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}

	if got := screen.exitCount(); got != 1 {
		t.Errorf("exit requests = %d, want 1", got)
	}
	if screen.Active() {
		t.Error("screen left in fullscreen after Close")
	}
	if got := w.State(); got != NotStarted {
		t.Errorf("state = %s, want not_started", got)
	}
}

type transitionLog struct {
	mu      sync.Mutex
	changes []string
}

func (l *transitionLog) record(from, to State) {
	l.mu.Lock()
	l.changes = append(l.changes, from.String()+">"+to.String())
	l.mu.Unlock()
}

func (l *transitionLog) waitFor(t *testing.T, want []string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		l.mu.Lock()
		got := append([]string(nil), l.changes...)
		l.mu.Unlock()
		if len(got) >= len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("transitions = %v, want %v", got, want)
				}
			}
			if len(got) > len(want) {
				t.Fatalf("transitions = %v, want %v", got, want)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatchdog_ReportsEveryTransition(t *testing.T) {
	t.Run("loss, silent regain found at grace expiry", func(t *testing.T) {
		fc := clockwork.NewFakeClock()
		screen := newFakeScreen()
		rec := &transitionLog{}
		w := NewWatchdog(screen, nil, WithClock(fc), WithTransitions(rec.record))
		defer w.Close()

		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		screen.set(false)
		screen.setSilently(true)
		fc.Advance(DefaultGracePeriod)

		rec.waitFor(t, []string{
			"not_started>active",
			"active>exited_pending_forfeit",
			"exited_pending_forfeit>active",
		})
	})

	t.Run("fullscreen lost right after start", func(t *testing.T) {
		fc := clockwork.NewFakeClock()
		screen := newFakeScreen()
		screen.dropOnGrant = true
		rec := &transitionLog{}
		w := NewWatchdog(screen, nil, WithClock(fc), WithTransitions(rec.record))
		defer w.Close()

		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		rec.waitFor(t, []string{
			"not_started>active",
			"active>exited_pending_forfeit",
		})
	})

	t.Run("forfeit", func(t *testing.T) {
		w, screen, counter, fc := startedWatchdog(t)
		rec := &transitionLog{}
		w.onChange = rec.record

		screen.set(false)
		fc.Advance(DefaultGracePeriod)
		select {
		case <-counter.fired:
		case <-time.After(time.Second):
			t.Fatal("forfeit did not fire")
		}

		rec.waitFor(t, []string{
			"active>exited_pending_forfeit",
			"exited_pending_forfeit>forfeited",
		})
	})
}
