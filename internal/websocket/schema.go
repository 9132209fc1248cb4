package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	// ActionStart begins proctoring. Granted carries the result of the
	// fullscreen request the client made inside the click handler, if any.
	ActionStart            Action = "start"
	ActionFullscreenResult Action = "fullscreen_result"
	ActionFullscreenChange Action = "fullscreen_change"
	ActionAutosave         Action = "autosave"
	ActionPing             Action = "ping"
)

// ClientMessage is every message the client sends; fields unused by an
// action are left empty.
type ClientMessage struct {
	Action   Action `json:"action"`
	Granted  *bool  `json:"granted,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Active   *bool  `json:"active,omitempty"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

// Events specific to the socket. Proctoring events (state, tick, warning,
// request_fullscreen, exit_fullscreen, forfeited, time_up) are named by the
// exam room.
const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventPong    Event = "pong"
)

// ServerMessage wraps every event written to the client.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type AutosaveResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
