package app

import (
	"time"

	"cmslake/internal/lake"
)

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI command. Its ID tags every log line the command
// writes.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewOperation creates a running operation with a fresh ID.
func NewOperation(name, parameters string, ids lake.IDGenerator, clock lake.Clock) *Operation {
	return &Operation{
		ID:         ids.New(),
		Name:       name,
		Parameters: parameters,
		Status:     StatusRunning,
		StartedAt:  clock.Now(),
	}
}

// Finish records the outcome. Only the first call counts.
func (op *Operation) Finish(err error, at time.Time) {
	if op.Finished() {
		return
	}
	op.Status = StatusSuccess
	if err != nil {
		op.Status = StatusError
	}
	op.FinishedAt = at
}

// Finished reports whether Finish was called.
func (op *Operation) Finished() bool {
	return op.Status != StatusRunning
}

// Duration is the time between start and finish, zero while running.
func (op *Operation) Duration() time.Duration {
	if !op.Finished() {
		return 0
	}
	return op.FinishedAt.Sub(op.StartedAt)
}
