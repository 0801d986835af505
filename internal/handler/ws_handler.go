package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/service"
	"github.com/examily/examily-backend/internal/store"
	ws "github.com/examily/examily-backend/internal/websocket"
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

// WSHandler runs a live attempt over a WebSocket. The connection owns one
// attempt controller for its lifetime: the controller keeps the countdown,
// autosaves on its own schedule and submits itself when time runs out.
type WSHandler struct {
	attemptService *service.AttemptService
	cfg            attempt.Config
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, cfg attempt.Config, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		cfg:            cfg,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream?token=
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	sess, ok := sessionOf(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	// Open before upgrading so failures still get an HTTP status.
	ctrl, err := h.attemptService.Controller(c.Request.Context(), sess, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_id", sess.UserID.String()).
		Str("exam_id", examID.String()).
		Str("attempt_id", ctrl.Attempt().ID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Attempt: ctrl.Snapshot()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return h.push(gctx, conn, ctrl) })

	h.readLoop(ctx, conn, ctrl, wsLog)

	// Persist whatever the student typed since the last autosave.
	ctrl.Autosave(context.Background())
	ctrl.Flush()

	cancel()
	ctrl.Close()
	if err := g.Wait(); err != nil {
		wsLog.Warn().Err(err).Msg("Attempt stream stopped with error")
	}
	wsLog.Info().Msg("Student disconnected")
}

// push streams countdown ticks, the time-up notice and the final grade.
func (h *WSHandler) push(ctx context.Context, conn *ws.Conn, ctrl *attempt.Controller) error {
	ticker := time.NewTicker(h.cfg.TickInterval)
	defer ticker.Stop()

	timeUpSent := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ctrl.Done():
			if r := ctrl.Result(); r != nil {
				_ = conn.WriteTyped(ws.GradedResponse{
					Event:        ws.EventGraded,
					Status:       "completed",
					Score:        r.Score,
					EarnedPoints: r.EarnedPoints,
					TotalPoints:  r.TotalPoints,
				})
			}
			return nil

		case <-ticker.C:
			view := ctrl.Snapshot()
			if err := conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, Remaining: view.RemainingSeconds}); err != nil {
				return nil
			}
			if view.TimeUp && !timeUpSent {
				timeUpSent = true
				_ = conn.WriteTyped(ws.TimeUpResponse{
					Event:        ws.EventTimeUp,
					GraceSeconds: int(h.cfg.GracePeriod / time.Second),
				})
			}
		}
	}
}

// readLoop handles client actions until the connection closes.
func (h *WSHandler) readLoop(ctx context.Context, conn *ws.Conn, ctrl *attempt.Controller, wsLog zerolog.Logger) {
	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(ctx, conn, ctrl, &msg)
		case ws.ActionNext:
			ctrl.Next(ctx)
			h.sendState(conn, ctrl)
		case ws.ActionPrev:
			ctrl.Prev(ctx)
			h.sendState(conn, ctrl)
		case ws.ActionGoTo:
			if msg.Index == nil {
				_ = conn.WriteError(string(response.ErrInvalidPayload), "index is required")
				continue
			}
			ctrl.GoTo(ctx, *msg.Index)
			h.sendState(conn, ctrl)
		case ws.ActionSubmit:
			// The grade itself is pushed once the controller completes.
			if _, err := ctrl.Submit(ctx, attempt.ReasonManual); err != nil {
				writeActionError(conn, err)
			}
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, conn *ws.Conn, ctrl *attempt.Controller, msg *ws.Request) {
	if msg.Answer == nil {
		_ = conn.WriteError(string(response.ErrInvalidPayload), "ans is required")
		return
	}

	var err error
	if msg.QID == "" {
		err = ctrl.AnswerCurrent(*msg.Answer)
	} else {
		err = ctrl.SetAnswer(msg.QID, *msg.Answer)
	}
	if err != nil {
		writeActionError(conn, err)
		return
	}

	ctrl.Autosave(ctx)
	_ = conn.WriteTyped(ws.SavedResponse{
		Event:    ws.EventSaved,
		Status:   "saved",
		Answered: store.CountAnswered(ctrl.Snapshot().Answers),
	})
}

func (h *WSHandler) sendState(conn *ws.Conn, ctrl *attempt.Controller) {
	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Attempt: ctrl.Snapshot()})
}

func writeActionError(conn *ws.Conn, err error) {
	_, code := errorStatus(err)
	_ = conn.WriteError(string(code), response.GetMessage(code))
}
