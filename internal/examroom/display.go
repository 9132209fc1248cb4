// Package examroom hosts one live exam attempt on the server: the countdown
// and the fullscreen watchdog, driven by what the student's browser reports
// over the proctoring WebSocket.
package examroom

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Sink delivers server events to the connected client.
type Sink interface {
	Send(event string, data any) error
}

// Server events written to the Sink.
const (
	EventState             = "state"
	EventTick              = "tick"
	EventWarning           = "warning"
	EventRequestFullscreen = "request_fullscreen"
	EventExitFullscreen    = "exit_fullscreen"
	EventForfeited         = "forfeited"
	EventTimeUp            = "time_up"
)

// DefaultRequestTimeout bounds how long Request waits for the client's answer.
const DefaultRequestTimeout = 10 * time.Second

var (
	ErrRequestTimeout = errors.New("fullscreen request timed out")
	ErrGestureDenied  = errors.New("fullscreen denied by browser")
)

type outcome struct {
	granted bool
	reason  string
}

func (o outcome) err() error {
	if o.granted {
		return nil
	}
	if o.reason == "" {
		return ErrGestureDenied
	}
	return errors.Join(ErrGestureDenied, errors.New(o.reason))
}

// RemoteDisplay is the browser's fullscreen state as last reported by the
// client. It satisfies proctor.Fullscreen.
type RemoteDisplay struct {
	sink    Sink
	timeout time.Duration

	mu      sync.Mutex
	active  bool
	primed  *outcome
	answers chan outcome
	subs    map[int]func()
	nextSub int
}

func NewRemoteDisplay(sink Sink, timeout time.Duration) *RemoteDisplay {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &RemoteDisplay{
		sink:    sink,
		timeout: timeout,
		answers: make(chan outcome, 1),
		subs:    make(map[int]func()),
	}
}

// Prime records the outcome of a fullscreen request the client already made
// inside its click handler. The next Request consumes it instead of asking.
func (d *RemoteDisplay) Prime(granted bool, reason string) {
	d.mu.Lock()
	d.primed = &outcome{granted: granted, reason: reason}
	d.mu.Unlock()
}

// Resolve answers a Request that is waiting on the client.
func (d *RemoteDisplay) Resolve(granted bool, reason string) {
	select {
	case d.answers <- outcome{granted: granted, reason: reason}:
	default:
	}
}

func (d *RemoteDisplay) Request(ctx context.Context) error {
	d.mu.Lock()
	primed := d.primed
	d.primed = nil
	d.mu.Unlock()

	var res outcome
	if primed != nil {
		res = *primed
	} else {
		// Drop any stale answer from an earlier, abandoned request.
		select {
		case <-d.answers:
		default:
		}
		if err := d.sink.Send(EventRequestFullscreen, nil); err != nil {
			return err
		}

		timer := time.NewTimer(d.timeout)
		defer timer.Stop()
		select {
		case res = <-d.answers:
		case <-timer.C:
			return ErrRequestTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := res.err(); err != nil {
		return err
	}
	d.Report(true)
	return nil
}

func (d *RemoteDisplay) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Report updates the fullscreen flag from a client fullscreenchange event.
// Subscribers run only when the flag actually changes.
func (d *RemoteDisplay) Report(active bool) {
	d.mu.Lock()
	if d.active == active {
		d.mu.Unlock()
		return
	}
	d.active = active
	listeners := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		listeners = append(listeners, fn)
	}
	d.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (d *RemoteDisplay) Exit(_ context.Context) error {
	if err := d.sink.Send(EventExitFullscreen, nil); err != nil {
		return err
	}
	d.Report(false)
	return nil
}

func (d *RemoteDisplay) Subscribe(onChange func()) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = onChange
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}
