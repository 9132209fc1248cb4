package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Sink serialises writes to a connection. gorilla/websocket allows only one
// concurrent writer, and the countdown, watchdog and read loop all write.
type Sink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSink(conn *websocket.Conn) *Sink {
	return &Sink{conn: conn}
}

// Send writes a ServerMessage.
func (s *Sink) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ServerMessage{Event: event, Data: data})
}

// Error sends a typed ErrorResponse.
func (s *Sink) Error(errMsg string) error {
	return s.Send(string(EventError), ErrorResponse{Error: errMsg})
}

// CloseWith sends a close frame. The read loop then returns an error.
func (s *Sink) CloseWith(code int, reason string) error {
	return s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
