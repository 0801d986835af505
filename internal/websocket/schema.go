package websocket

import (
	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionNext   Action = "next"
	ActionPrev   Action = "prev"
	ActionGoTo   Action = "goto"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// Request is any client message. Fields are used by the actions that need them.
type Request struct {
	Action Action        `json:"action"`
	QID    string        `json:"q_id,omitempty"`  // answer; empty means the current question
	Answer *model.Answer `json:"ans,omitempty"`   // answer
	Index  *int          `json:"index,omitempty"` // goto
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState  Event = "state"
	EventTick   Event = "tick"
	EventSaved  Event = "saved"
	EventTimeUp Event = "time_up"
	EventGraded Event = "graded"
	EventPong   Event = "pong"
	EventError  Event = "error"
)

type StateResponse struct {
	Event   Event        `json:"event"`
	Attempt attempt.View `json:"attempt"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

type SavedResponse struct {
	Event    Event  `json:"event"`
	Status   string `json:"status"`
	Answered int    `json:"answered"`
}

type TimeUpResponse struct {
	Event        Event `json:"event"`
	GraceSeconds int   `json:"grace_seconds"`
}

type GradedResponse struct {
	Event        Event   `json:"event"`
	Status       string  `json:"status"`
	Score        int     `json:"score"`
	EarnedPoints float64 `json:"earned_points"`
	TotalPoints  float64 `json:"total_points"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
