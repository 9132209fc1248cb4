package examroom

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRemoteDisplay_PrimedRequestDoesNotAskClient(t *testing.T) {
	sink := &recordingSink{}
	d := NewRemoteDisplay(sink, time.Second)

	d.Prime(true, "")
	if err := d.Request(context.Background()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !d.Active() {
		t.Error("display should be active after a granted request")
	}
	if n := sink.count(EventRequestFullscreen); n != 0 {
		t.Errorf("request_fullscreen sent %d times, want 0", n)
	}
}

func TestRemoteDisplay_PrimedDenialIsConsumedOnce(t *testing.T) {
	sink := &recordingSink{}
	d := NewRemoteDisplay(sink, 20*time.Millisecond)

	d.Prime(false, "NotAllowedError")
	if err := d.Request(context.Background()); !errors.Is(err, ErrGestureDenied) {
		t.Fatalf("Request error = %v, want ErrGestureDenied", err)
	}
	// No primed outcome left: the next request asks the client and times out.
	if err := d.Request(context.Background()); !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("second Request error = %v, want ErrRequestTimeout", err)
	}
	if n := sink.count(EventRequestFullscreen); n != 1 {
		t.Errorf("request_fullscreen sent %d times, want 1", n)
	}
}

func TestRemoteDisplay_RequestWaitsForClientAnswer(t *testing.T) {
	tests := []struct {
		name    string
		granted bool
		wantErr error
	}{
		{"granted", true, nil},
		{"denied", false, ErrGestureDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			d := NewRemoteDisplay(sink, time.Second)

			done := make(chan error, 1)
			go func() { done <- d.Request(context.Background()) }()

			waitForCount(t, sink, EventRequestFullscreen, 1)
			d.Resolve(tt.granted, "")

			select {
			case err := <-done:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Request error = %v, want %v", err, tt.wantErr)
				}
			case <-time.After(time.Second):
				t.Fatal("Request did not return")
			}
			if d.Active() != tt.granted {
				t.Errorf("Active = %v, want %v", d.Active(), tt.granted)
			}
		})
	}
}

func TestRemoteDisplay_RequestHonoursContext(t *testing.T) {
	d := NewRemoteDisplay(&recordingSink{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Request(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Request error = %v, want context.Canceled", err)
	}
}

func TestRemoteDisplay_ReportNotifiesOnlyOnChange(t *testing.T) {
	d := NewRemoteDisplay(&recordingSink{}, time.Second)

	calls := 0
	unsubscribe := d.Subscribe(func() { calls++ })

	d.Report(false) // unchanged
	d.Report(true)
	d.Report(true) // unchanged
	d.Report(false)
	if calls != 2 {
		t.Errorf("listener ran %d times, want 2", calls)
	}

	unsubscribe()
	unsubscribe()
	d.Report(true)
	if calls != 2 {
		t.Errorf("listener ran after unsubscribe: %d", calls)
	}
}

func TestRemoteDisplay_ExitSendsCommand(t *testing.T) {
	sink := &recordingSink{}
	d := NewRemoteDisplay(sink, time.Second)
	d.Report(true)

	if err := d.Exit(context.Background()); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if d.Active() {
		t.Error("display still active after Exit")
	}
	if n := sink.count(EventExitFullscreen); n != 1 {
		t.Errorf("exit_fullscreen sent %d times, want 1", n)
	}
}
