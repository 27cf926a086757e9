package app

import "time"

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI command. Its ID tags every log line the command
// writes.
type Operation struct {
	ID         string
	Name       string
	Status     string // "success" or "error"
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewOperation creates an operation started at now.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Name:      name,
		Status:    StatusSuccess,
		StartedAt: now,
	}
}

// Fail records err and marks the operation failed. A nil err is ignored.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.Status = StatusError
	op.Err = err
}

// Finish stamps the end time once.
func (op *Operation) Finish(now time.Time) {
	if op.FinishedAt.IsZero() {
		op.FinishedAt = now
	}
}

// Duration returns the elapsed time, or zero while the operation runs.
func (op *Operation) Duration() time.Duration {
	if op.FinishedAt.IsZero() {
		return 0
	}
	return op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond)
}
