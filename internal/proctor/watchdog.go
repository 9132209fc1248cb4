package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultGracePeriod is how long a candidate may stay out of fullscreen
// before the attempt is forfeited.
const DefaultGracePeriod = 5 * time.Second

// exitTimeout bounds the best-effort fullscreen exit during Close.
const exitTimeout = 2 * time.Second

var (
	// ErrFullscreenDenied is returned by Start when the platform refused to
	// enter fullscreen. The watchdog stays in NotStarted.
	ErrFullscreenDenied = errors.New("fullscreen request denied")
	// ErrWatchdogClosed is returned by Start after Close.
	ErrWatchdogClosed = errors.New("watchdog closed")
)

// Fullscreen is the platform capability the watchdog depends on. Any
// implementation that can enter, query, leave and observe fullscreen works.
type Fullscreen interface {
	// Request asks the platform to enter fullscreen. It may fail.
	Request(ctx context.Context) error
	// Active reports whether the platform is currently fullscreen.
	Active() bool
	// Exit asks the platform to leave fullscreen.
	Exit(ctx context.Context) error
	// Subscribe registers fn for fullscreen-change notifications and returns
	// a function that removes it. fn must not be called while the platform
	// holds a lock that Active also needs.
	Subscribe(fn func()) (unsubscribe func())
}

// WarningKind identifies a user-visible warning.
type WarningKind string

const (
	WarningFullscreenRequired WarningKind = "fullscreen_required"
	WarningFullscreenExited   WarningKind = "fullscreen_exited"
)

// Warning is a dismissible message for the candidate.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClock replaces the real clock, typically with a fake one in tests.
func WithClock(c clockwork.Clock) Option {
	return func(w *Watchdog) { w.clock = c }
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.grace = d
		}
	}
}

// WithWarnings sets the callback that receives candidate warnings.
func WithWarnings(fn func(Warning)) Option {
	return func(w *Watchdog) { w.warn = fn }
}

// WithTransitions sets the callback that receives every state change. It runs
// outside the watchdog's lock, before the forfeit callback.
func WithTransitions(fn func(from, to State)) Option {
	return func(w *Watchdog) { w.onChange = fn }
}

// WithLogger attaches a logger for state transitions.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Watchdog) { w.log = log }
}

// Watchdog enforces fullscreen for one exam attempt and forfeits it when the
// candidate stays out of fullscreen past the grace period.
type Watchdog struct {
	fs        Fullscreen
	onForfeit func()
	clock     clockwork.Clock
	grace     time.Duration
	warn      func(Warning)
	onChange  func(from, to State)
	log       zerolog.Logger

	mu          sync.Mutex
	state       State
	graceTimer  clockwork.Timer
	graceQuit   chan struct{}
	unsubscribe func()
	forfeitSent bool
	closed      bool
	changes     []change
}

type change struct{ from, to State }

// NewWatchdog creates a watchdog in NotStarted and subscribes it to
// fullscreen changes. onForfeit is invoked at most once.
func NewWatchdog(fs Fullscreen, onForfeit func(), opts ...Option) *Watchdog {
	w := &Watchdog{
		fs:        fs,
		onForfeit: onForfeit,
		clock:     clockwork.NewRealClock(),
		grace:     DefaultGracePeriod,
		warn:      func(Warning) {},
		onChange:  func(State, State) {},
		log:       zerolog.Nop(),
		state:     NotStarted,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.onForfeit == nil {
		w.onForfeit = func() {}
	}
	w.unsubscribe = fs.Subscribe(w.handleChange)
	return w
}

// State returns the current state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// GracePeriod returns the configured grace window.
func (w *Watchdog) GracePeriod() time.Duration {
	return w.grace
}

// Start is the candidate's explicit "start in fullscreen" action. A refused
// request leaves the watchdog in NotStarted, emits a warning and returns an
// error wrapping ErrFullscreenDenied; the candidate may try again.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatchdogClosed
	}
	if w.state != NotStarted {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	reqErr := w.fs.Request(ctx)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		// Close may have run while the request was pending and found
		// nothing to exit.
		if reqErr == nil {
			w.exitFullscreen()
		}
		return ErrWatchdogClosed
	}
	sig := SignalStartGranted
	if reqErr != nil {
		sig = SignalStartDenied
	}
	eff := w.apply(sig)

	// Fullscreen may already be gone again by the time the grant is applied.
	if reqErr == nil && w.state == Active && !w.fs.Active() {
		eff = w.apply(SignalFullscreenLost)
	}
	w.mu.Unlock()
	w.notify()

	switch eff {
	case EffectWarnDenied:
		w.warn(Warning{
			Kind:    WarningFullscreenRequired,
			Title:   "Fullscreen Required",
			Message: "Please allow fullscreen mode to continue the test",
		})
		return fmt.Errorf("%w: %v", ErrFullscreenDenied, reqErr)
	case EffectStartGrace:
		w.warnExited()
	}
	return nil
}

// handleChange is the fullscreen-change listener.
func (w *Watchdog) handleChange() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	sig := SignalFullscreenLost
	if w.fs.Active() {
		sig = SignalFullscreenRegained
	}
	eff := w.apply(sig)
	w.mu.Unlock()
	w.notify()

	if eff == EffectStartGrace {
		w.warnExited()
	}
}

func (w *Watchdog) warnExited() {
	w.warn(Warning{
		Kind:  WarningFullscreenExited,
		Title: "Fullscreen Exited",
		Message: fmt.Sprintf(
			"You have exited fullscreen mode. The test will be forfeited in %d seconds unless you return to fullscreen.",
			int(w.grace/time.Second),
		),
	})
}

// apply runs one transition and its timer effects. w.mu must be held.
func (w *Watchdog) apply(sig Signal) Effect {
	prev := w.state
	next, eff := Transition(prev, sig)
	w.state = next

	switch eff {
	case EffectStartGrace:
		w.armGrace()
	case EffectCancelGrace, EffectForfeit:
		w.disarmGrace()
	}

	if prev != next {
		w.changes = append(w.changes, change{prev, next})
		w.log.Debug().
			Str("from", prev.String()).
			Str("to", next.String()).
			Str("signal", sig.String()).
			Msg("proctor state changed")
	}
	return eff
}

// notify delivers the state changes recorded by apply. w.mu must not be held.
func (w *Watchdog) notify() {
	w.mu.Lock()
	changes := w.changes
	w.changes = nil
	w.mu.Unlock()

	for _, c := range changes {
		w.onChange(c.from, c.to)
	}
}

// armGrace starts the single-shot grace timer. w.mu must be held.
func (w *Watchdog) armGrace() {
	w.disarmGrace()

	t := w.clock.NewTimer(w.grace)
	quit := make(chan struct{})
	w.graceTimer = t
	w.graceQuit = quit

	go func() {
		select {
		case <-t.Chan():
			w.graceExpired(t)
		case <-quit:
		}
	}()
}

// disarmGrace cancels a pending grace timer. w.mu must be held.
func (w *Watchdog) disarmGrace() {
	if w.graceTimer == nil {
		return
	}
	if !w.graceTimer.Stop() {
		select {
		case <-w.graceTimer.Chan():
		default:
		}
	}
	close(w.graceQuit)
	w.graceTimer = nil
	w.graceQuit = nil
}

func (w *Watchdog) graceExpired(t clockwork.Timer) {
	w.mu.Lock()
	if w.closed || w.graceTimer != t {
		w.mu.Unlock()
		return
	}
	w.graceTimer = nil
	w.graceQuit = nil

	// Re-check instead of trusting the state: a regain may not have been
	// delivered yet.
	sig := SignalGraceExpired
	if w.fs.Active() {
		sig = SignalFullscreenRegained
	}
	eff := w.apply(sig)

	fire := eff == EffectForfeit && !w.forfeitSent
	if fire {
		w.forfeitSent = true
	}
	w.mu.Unlock()
	w.notify()

	if fire {
		w.log.Info().Dur("grace", w.grace).Msg("attempt forfeited after leaving fullscreen")
		w.onForfeit()
	}
}

// Close removes the fullscreen listener, cancels any pending grace timer and,
// if the platform is still fullscreen, asks it to exit. Exit failures are
// ignored. Safe to call more than once.
func (w *Watchdog) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.disarmGrace()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	w.exitFullscreen()
}

// exitFullscreen asks the platform to leave fullscreen if it is still in it.
// Failures are logged and otherwise ignored.
func (w *Watchdog) exitFullscreen() {
	if !w.fs.Active() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), exitTimeout)
	defer cancel()
	if err := w.fs.Exit(ctx); err != nil {
		w.log.Debug().Err(err).Msg("exit fullscreen failed")
	}
}
