package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/middleware"
	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/response"
	"github.com/examily/examily-backend/internal/service"
	"github.com/examily/examily-backend/internal/store"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second
)

// MonitorHandler streams live attempt events of an exam to its author.
type MonitorHandler struct {
	monitor        *store.Monitor
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	monitor *store.Monitor,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		monitor:        monitor,
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/teacher/exams/:id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	exam, err := h.examService.GetForAuthor(reqCtx, claims.UserID, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.monitor.Subscribe(reqCtx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendSnapshot(c, reqCtx, exam, "snapshot")

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	monLog := h.log.With().Str("exam_id", examID.String()).Logger()
	monLog.Info().Msg("Teacher attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			monLog.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward as is.
			writeSSE(c, []byte(msg.Payload))

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, exam, "refresh")

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

// sendSnapshot gathers progress and writes it as one SSE event.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parent context.Context, exam *model.Exam, kind string) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitorService.GetProgress(ctx, exam)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to fetch attempt progress")
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type": kind,
		"data": snap,
	})
	if err != nil {
		return
	}
	writeSSE(c, payload)
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
