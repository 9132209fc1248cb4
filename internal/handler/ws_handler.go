package handler

import (
	"context"
	"net/http"
	"strings"
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
	"github.com/ctech/ctech-exam/internal/response"
	ws "github.com/ctech/ctech-exam/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ProctoredAttempts is the submission service as seen by the proctoring stream.
type ProctoredAttempts interface {
	AttemptChecker
	Remaining(ctx context.Context, sub *model.Submission) (int, error)
	Autosave(ctx context.Context, id uuid.UUID, code, language string) error
	Checkpoint(ctx context.Context, id uuid.UUID, remaining int) error
	ForfeitByProctor(ctx context.Context, sub *model.Submission, remaining int) error
	RecordEvent(ctx context.Context, sub *model.Submission, kind model.ProctorEventKind, remaining int)
}

// WSHandler hosts the proctoring stream of an attempt: countdown ticks,
// fullscreen watchdog and code autosave.
type WSHandler struct {
	cfg        *config.Config
	subService ProctoredAttempts
	rooms      *examroom.Registry
	clock      clockwork.Clock
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(cfg *config.Config, subService ProctoredAttempts, rooms *examroom.Registry, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		cfg:        cfg,
		subService: subService,
		rooms:      rooms,
		clock:      clockwork.NewRealClock(),
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(cfg.AllowedOrigins),
	}
}

// forfeitSink closes the socket once the forfeited event has been written.
type forfeitSink struct {
	*ws.Sink
}

func (s forfeitSink) Send(event string, data any) error {
	err := s.Sink.Send(event, data)
	if event == examroom.EventForfeited {
		_ = s.CloseWith(websocket.CloseNormalClosure, "forfeited")
	}
	return err
}

// ProctorStream godoc
// WS /ws/v1/student/tests/:id/proctor?token=...
// Upgrades to WebSocket and runs the attempt's countdown and fullscreen watchdog.
func (h *WSHandler) ProctorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// SECURITY: only the owner of an in-progress attempt may proctor it.
	sub, err := h.subService.RequireInProgress(c.Request.Context(), claims.UserID, id)
	if err != nil {
		failSubmission(c, err)
		return
	}

	remaining, err := h.subService.Remaining(c.Request.Context(), sub)
	if err != nil {
		h.log.Error().Err(err).Str("submission_id", id.String()).Msg("Remaining time lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("submission_id", id.String()).
		Logger()

	// The connection outlives the upgrade request's context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := ws.NewSink(conn)

	var room *examroom.Room
	room = examroom.Open(forfeitSink{sink}, examroom.Options{
		Clock:           h.clock,
		Remaining:       remaining,
		GracePeriod:     h.cfg.GracePeriod,
		CheckpointEvery: h.cfg.CheckpointEvery,
		Log:             wsLog,
	}, examroom.Hooks{
		Checkpoint: func(rem int) {
			if err := h.subService.Checkpoint(ctx, id, rem); err != nil {
				wsLog.Warn().Err(err).Msg("Checkpoint failed")
			}
		},
		Forfeit: func() {
			if err := h.subService.ForfeitByProctor(ctx, sub, room.Remaining()); err != nil {
				wsLog.Error().Err(err).Msg("Recording forfeit failed")
			}
		},
		TimeUp: func() {
			wsLog.Info().Msg("Time is up")
		},
		Event: func(kind string, rem int) {
			// forfeited is published by the service once persisted
			if kind == string(model.ProctorForfeited) {
				return
			}
			h.subService.RecordEvent(ctx, sub, model.ProctorEventKind(kind), rem)
		},
		Evicted: func() {
			wsLog.Info().Msg("Replaced by a newer connection")
			_ = sink.CloseWith(websocket.CloseGoingAway, "replaced")
			conn.Close()
		},
	})

	key := id.String()
	h.rooms.Add(key, room)
	defer func() {
		h.rooms.Remove(key, room)
		room.Close()
	}()

	wsLog.Info().Int("remaining", remaining).Msg("Student connected to proctor stream")

	if err := sink.Send(examroom.EventState, room.Snapshot()); err != nil {
		return
	}

	for {
		var msg ws.ClientMessage
		err := ws.ReadJSON(conn, &msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionStart:
			// Start blocks until the client answers request_fullscreen, which
			// arrives through this loop.
			go func(granted *bool, reason string) {
				startCtx, cancelStart := context.WithTimeout(ctx, time.Minute)
				defer cancelStart()
				if err := room.Start(startCtx, granted, reason); err != nil {
					wsLog.Debug().Err(err).Msg("Proctoring not started")
				}
			}(msg.Granted, msg.Reason)

		case ws.ActionFullscreenResult:
			room.ResolveFullscreen(msg.Granted != nil && *msg.Granted, msg.Reason)

		case ws.ActionFullscreenChange:
			if msg.Active == nil {
				sink.Error("active is required")
				continue
			}
			room.ReportFullscreen(*msg.Active)

		case ws.ActionAutosave:
			h.handleAutosave(ctx, sink, wsLog, id, &msg)

		case ws.ActionPing:
			sink.Send(string(ws.EventPong), nil)

		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			sink.Error("unknown action: " + string(msg.Action))
		}
	}
}

// handleAutosave caches the editor content and queues it for persistence.
func (h *WSHandler) handleAutosave(ctx context.Context, sink *ws.Sink, wsLog zerolog.Logger, id uuid.UUID, msg *ws.ClientMessage) {
	if len(msg.Code) > maxAutosaveBytes {
		sink.Error("code too large")
		return
	}

	if err := h.subService.Autosave(ctx, id, msg.Code, strings.ToLower(msg.Language)); err != nil {
		wsLog.Error().Err(err).Msg("Autosave Redis error")
		sink.Error("save failed")
		return
	}

	sink.Send(string(ws.EventSuccess), ws.AutosaveResponse{Status: "saved"})
}

const maxAutosaveBytes = 64 << 10
