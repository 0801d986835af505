package attempt

import (
	"errors"
	"fmt"
)

// ErrNotFound is the base for every lookup miss.
var ErrNotFound = errors.New("not found")

var (
	ErrExamNotFound    = fmt.Errorf("exam %w", ErrNotFound)
	ErrAttemptNotFound = fmt.Errorf("attempt %w", ErrNotFound)

	ErrUnauthenticated = errors.New("no authenticated user")
	ErrForbidden       = errors.New("only students can take exams")

	ErrCompleted       = errors.New("attempt is already completed")
	ErrNotActive       = errors.New("attempt is not active")
	ErrTimeUp          = errors.New("time is up, answers can no longer change")
	ErrUnknownQuestion = errors.New("question does not belong to this exam")
	ErrPersistence     = errors.New("attempt could not be persisted")
	ErrAlreadyRunning  = errors.New("controller is already running")
)
