package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examily/examily-backend/internal/config"
)

// MonitorEventType names what happened to an attempt.
type MonitorEventType string

const (
	EventOpened    MonitorEventType = "opened"
	EventAutosaved MonitorEventType = "autosaved"
	EventSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is published on an exam's monitor channel.
type MonitorEvent struct {
	Type          MonitorEventType `json:"type"`
	AttemptID     uuid.UUID        `json:"attempt_id"`
	StudentID     uuid.UUID        `json:"student_id"`
	AnsweredCount int              `json:"answered_count"`
	Score         *int             `json:"score,omitempty"`
	At            time.Time        `json:"at"`
}

// Monitor publishes attempt events for teachers watching an exam live.
type Monitor struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitor creates a new Monitor.
func NewMonitor(rdb *redis.Client, log zerolog.Logger) *Monitor {
	return &Monitor{rdb: rdb, log: log.With().Str("component", "monitor").Logger()}
}

// Publish sends an event. Failures are logged and dropped.
func (m *Monitor) Publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := m.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err(); err != nil {
		m.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Monitor publish failed")
	}
}

// Subscribe opens a subscription to an exam's monitor channel.
func (m *Monitor) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return m.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
