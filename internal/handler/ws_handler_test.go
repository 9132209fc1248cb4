package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/examroom"
	"github.com/ctech/ctech-exam/internal/middleware"
	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/service"
	ws "github.com/ctech/ctech-exam/internal/websocket"
)

// fakeProctored records what the proctoring stream asks of the submission
// service.
type fakeProctored struct {
	mu        sync.Mutex
	autosaves []string
	forfeits  int
	events    []model.ProctorEventKind
}

func (f *fakeProctored) RequireInProgress(_ context.Context, studentID int, id uuid.UUID) (*model.Submission, error) {
	return &model.Submission{ID: id, StudentID: studentID, Status: model.SubmissionInProgress}, nil
}

func (f *fakeProctored) Remaining(context.Context, *model.Submission) (int, error) {
	return 600, nil
}

func (f *fakeProctored) Autosave(_ context.Context, _ uuid.UUID, code, _ string) error {
	f.mu.Lock()
	f.autosaves = append(f.autosaves, code)
	f.mu.Unlock()
	return nil
}

func (f *fakeProctored) Checkpoint(context.Context, uuid.UUID, int) error {
	return nil
}

func (f *fakeProctored) ForfeitByProctor(context.Context, *model.Submission, int) error {
	f.mu.Lock()
	f.forfeits++
	f.mu.Unlock()
	return nil
}

func (f *fakeProctored) RecordEvent(_ context.Context, _ *model.Submission, kind model.ProctorEventKind, _ int) {
	f.mu.Lock()
	f.events = append(f.events, kind)
	f.mu.Unlock()
}

func (f *fakeProctored) snapshot() (autosaves []string, forfeits int, events []model.ProctorEventKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.autosaves...), f.forfeits, append([]model.ProctorEventKind(nil), f.events...)
}

type proctorServer struct {
	url   string
	clock *clockwork.FakeClock
	subs  *fakeProctored
}

func newProctorServer(t *testing.T) *proctorServer {
	t.Helper()
	fc := clockwork.NewFakeClock()
	subs := &fakeProctored{}

	h := NewWSHandler(&config.Config{GracePeriod: 5 * time.Second}, subs, examroom.NewRegistry(), zerolog.Nop())
	h.clock = fc

	r := gin.New()
	r.GET("/tests/:id/proctor", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 5})
	}, h.ProctorStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &proctorServer{url: "ws" + strings.TrimPrefix(srv.URL, "http"), clock: fc, subs: subs}
}

func (p *proctorServer) dial(t *testing.T, id uuid.UUID) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(p.url+"/tests/"+id.String()+"/proctor", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type serverEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readUntil skips events until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) serverEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg serverEvent
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if msg.Event == event {
			return msg
		}
	}
}

// readUntilClosed skips events until the server closes the connection.
func readUntilClosed(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg serverEvent
		err := conn.ReadJSON(&msg)
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("read error = %v, want a close frame", err)
		}
		return ce
	}
}

func sendAction(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %v: %v", msg["action"], err)
	}
}

func stateOf(t *testing.T, ev serverEvent) string {
	t.Helper()
	var payload examroom.StatePayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return payload.State
}

func TestProctorStream_StartThenForfeitClosesSocket(t *testing.T) {
	p := newProctorServer(t)
	conn := p.dial(t, uuid.New())

	if got := stateOf(t, readUntil(t, conn, examroom.EventState)); got != "not_started" {
		t.Fatalf("initial state = %s, want not_started", got)
	}

	// start blocks on the client's answer, which comes back through the same
	// read loop.
	sendAction(t, conn, map[string]any{"action": ws.ActionStart})
	readUntil(t, conn, examroom.EventRequestFullscreen)
	sendAction(t, conn, map[string]any{"action": ws.ActionFullscreenResult, "granted": true})
	if got := stateOf(t, readUntil(t, conn, examroom.EventState)); got != "active" {
		t.Fatalf("state after grant = %s, want active", got)
	}

	sendAction(t, conn, map[string]any{"action": ws.ActionAutosave, "code": "print(1)", "language": "python"})
	readUntil(t, conn, string(ws.EventSuccess))

	sendAction(t, conn, map[string]any{"action": ws.ActionFullscreenChange, "active": false})
	readUntil(t, conn, examroom.EventWarning)

	// countdown ticker + grace timer
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatalf("grace timer not armed: %v", err)
	}
	p.clock.Advance(5 * time.Second)

	readUntil(t, conn, examroom.EventForfeited)
	ce := readUntilClosed(t, conn)
	if ce.Code != websocket.CloseNormalClosure || ce.Text != "forfeited" {
		t.Errorf("close = %d %q, want %d forfeited", ce.Code, ce.Text, websocket.CloseNormalClosure)
	}

	autosaves, forfeits, events := p.subs.snapshot()
	if len(autosaves) != 1 || autosaves[0] != "print(1)" {
		t.Errorf("autosaves = %v", autosaves)
	}
	if forfeits != 1 {
		t.Errorf("forfeits recorded = %d, want 1", forfeits)
	}
	want := []model.ProctorEventKind{model.ProctorStarted, model.ProctorFullscreenLost}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestProctorStream_FullscreenChangeRequiresActive(t *testing.T) {
	p := newProctorServer(t)
	conn := p.dial(t, uuid.New())
	readUntil(t, conn, examroom.EventState)

	sendAction(t, conn, map[string]any{"action": ws.ActionFullscreenChange})
	ev := readUntil(t, conn, string(ws.EventError))
	if !strings.Contains(string(ev.Data), "active is required") {
		t.Errorf("error = %s", ev.Data)
	}

	sendAction(t, conn, map[string]any{"action": ws.ActionPing})
	readUntil(t, conn, string(ws.EventPong))
}

func TestProctorStream_ReconnectClosesStaleSocket(t *testing.T) {
	p := newProctorServer(t)
	id := uuid.New()

	stale := p.dial(t, id)
	readUntil(t, stale, examroom.EventState)

	fresh := p.dial(t, id)
	readUntil(t, fresh, examroom.EventState)

	ce := readUntilClosed(t, stale)
	if ce.Code != websocket.CloseGoingAway || ce.Text != "replaced" {
		t.Errorf("close = %d %q, want %d replaced", ce.Code, ce.Text, websocket.CloseGoingAway)
	}

	// The newer connection keeps working.
	sendAction(t, fresh, map[string]any{"action": ws.ActionAutosave, "code": "x = 1", "language": "python"})
	readUntil(t, fresh, string(ws.EventSuccess))
	if autosaves, _, _ := p.subs.snapshot(); len(autosaves) != 1 {
		t.Errorf("autosaves = %v, want only the fresh connection's", autosaves)
	}
}
