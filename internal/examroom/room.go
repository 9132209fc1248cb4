package examroom

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/proctor"
)

// Hooks let the owning service react to room events. Nil hooks are skipped.
type Hooks struct {
	// Checkpoint receives the remaining seconds every CheckpointEvery ticks
	// and once more when time runs out.
	Checkpoint func(remaining int)
	// Forfeit runs once when the watchdog forfeits the attempt.
	Forfeit func()
	// TimeUp runs once when the countdown first reaches zero.
	TimeUp func()
	// Event receives monitor-worthy transitions such as "started" with the
	// remaining seconds at that moment.
	Event func(kind string, remaining int)
	// Evicted runs once when a newer connection takes over the attempt. The
	// owner should drop the old client connection.
	Evicted func()
}

type Options struct {
	Clock           clockwork.Clock
	Remaining       int
	GracePeriod     time.Duration
	CheckpointEvery int
	RequestTimeout  time.Duration
	Log             zerolog.Logger
}

type TickPayload struct {
	Remaining int              `json:"remaining"`
	Clock     string           `json:"clock"`
	Severity  proctor.Severity `json:"severity"`
}

type StatePayload struct {
	State     string           `json:"state"`
	Remaining int              `json:"remaining"`
	Clock     string           `json:"clock"`
	Severity  proctor.Severity `json:"severity"`
	Grace     int              `json:"grace_seconds"`
}

// Room owns the countdown and watchdog of one attempt. Both are created
// together and disposed together by Close.
type Room struct {
	sink      Sink
	hooks     Hooks
	log       zerolog.Logger
	every     int
	display   *RemoteDisplay
	watchdog  *proctor.Watchdog
	countdown *proctor.Countdown

	mu        sync.Mutex
	ticks     int
	timeUp    bool
	closeOnce sync.Once
	evictOnce sync.Once
}

// Open starts the countdown immediately and arms the watchdog listener. The
// watchdog stays NotStarted until Start is called.
func Open(sink Sink, opts Options, hooks Hooks) *Room {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = proctor.DefaultGracePeriod
	}

	r := &Room{
		sink:    sink,
		hooks:   hooks,
		log:     opts.Log,
		every:   opts.CheckpointEvery,
		display: NewRemoteDisplay(sink, opts.RequestTimeout),
	}

	r.watchdog = proctor.NewWatchdog(r.display, r.forfeited,
		proctor.WithClock(opts.Clock),
		proctor.WithGracePeriod(opts.GracePeriod),
		proctor.WithWarnings(r.warn),
		proctor.WithTransitions(r.transitioned),
		proctor.WithLogger(opts.Log),
	)
	r.countdown = proctor.StartCountdown(opts.Clock, opts.Remaining, r.tick)
	return r
}

// Start runs the gesture-gated fullscreen request. When the client already
// requested fullscreen inside its click handler, granted carries that result.
func (r *Room) Start(ctx context.Context, granted *bool, reason string) error {
	if granted != nil {
		r.display.Prime(*granted, reason)
	}
	err := r.watchdog.Start(ctx)
	r.sendState()
	return err
}

// ResolveFullscreen answers an outstanding request_fullscreen.
func (r *Room) ResolveFullscreen(granted bool, reason string) {
	r.display.Resolve(granted, reason)
}

// ReportFullscreen forwards a client fullscreenchange event.
func (r *Room) ReportFullscreen(active bool) {
	r.display.Report(active)
}

func (r *Room) State() proctor.State {
	return r.watchdog.State()
}

func (r *Room) Remaining() int {
	return r.countdown.Remaining()
}

// Snapshot is the payload of the "state" event.
func (r *Room) Snapshot() StatePayload {
	rem := r.countdown.Remaining()
	return StatePayload{
		State:     r.watchdog.State().String(),
		Remaining: rem,
		Clock:     proctor.FormatClock(rem),
		Severity:  proctor.SeverityOf(rem),
		Grace:     int(r.watchdog.GracePeriod() / time.Second),
	}
}

// Close stops the countdown and the watchdog. Safe to call more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.countdown.Stop()
		r.watchdog.Close()
	})
}

// Evict closes the room because another connection replaced it.
func (r *Room) Evict() {
	r.Close()
	r.evictOnce.Do(func() {
		if r.hooks.Evicted != nil {
			r.hooks.Evicted()
		}
	})
}

func (r *Room) tick(remaining int) {
	r.send(EventTick, TickPayload{
		Remaining: remaining,
		Clock:     proctor.FormatClock(remaining),
		Severity:  proctor.SeverityOf(remaining),
	})

	r.mu.Lock()
	r.ticks++
	checkpoint := r.every > 0 && r.ticks%r.every == 0
	firstZero := remaining == 0 && !r.timeUp
	if firstZero {
		r.timeUp = true
	}
	r.mu.Unlock()

	if (checkpoint || firstZero) && r.hooks.Checkpoint != nil {
		r.hooks.Checkpoint(remaining)
	}
	if firstZero {
		r.send(EventTimeUp, nil)
		if r.hooks.TimeUp != nil {
			r.hooks.TimeUp()
		}
		r.emit("time_up", 0)
	}
}

func (r *Room) warn(w proctor.Warning) {
	r.send(EventWarning, w)
}

// transitioned reports watchdog state changes to the monitor. Forfeiture is
// reported by forfeited once the hook has run.
func (r *Room) transitioned(from, to proctor.State) {
	var kind string
	switch {
	case from == proctor.NotStarted && to == proctor.Active:
		kind = "started"
	case to == proctor.ExitedPendingForfeit:
		kind = "fullscreen_lost"
	case from == proctor.ExitedPendingForfeit && to == proctor.Active:
		kind = "fullscreen_regained"
	default:
		return
	}
	r.emit(kind, r.countdown.Remaining())
}

func (r *Room) forfeited() {
	if r.hooks.Forfeit != nil {
		r.hooks.Forfeit()
	}
	r.send(EventForfeited, map[string]string{
		"message": "You exited fullscreen mode. Test forfeited.",
	})
	r.emit("forfeited", r.countdown.Remaining())
}

func (r *Room) sendState() {
	r.send(EventState, r.Snapshot())
}

func (r *Room) send(event string, data any) {
	if err := r.sink.Send(event, data); err != nil {
		r.log.Debug().Err(err).Str("event", event).Msg("send to client failed")
	}
}

func (r *Room) emit(kind string, remaining int) {
	if r.hooks.Event != nil {
		r.hooks.Event(kind, remaining)
	}
}
