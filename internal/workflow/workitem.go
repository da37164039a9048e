package workflow

import (
	"time"

	"github.com/wesleyorama2/flowload/internal/graphql"
)

// Outcome classifies how an iteration ended.
type Outcome string

const (
	OutcomeAborted     Outcome = "ABORTED"
	OutcomeCompleted   Outcome = "COMPLETED"
	OutcomeFailed      Outcome = "FAILED"
	OutcomeTimedOut    Outcome = "TIMED_OUT"
	OutcomeInterrupted Outcome = "INTERRUPTED"
)

// WorkItem is the state of one iteration. It is owned by the virtual user
// that ran it and is never shared.
type WorkItem struct {
	ID          string
	Name        string
	SubmittedAt time.Time

	// Status is the last status observed, from the create response or a poll.
	Status string

	// TimedOut is set when the poll deadline passed before a terminal status.
	TimedOut bool

	// Interrupted is set when the run cancelled the iteration mid-poll.
	Interrupted bool

	// Err is the create failure that aborted the iteration, if any.
	Err error

	Polls          int
	CreateDuration time.Duration
	PollDuration   time.Duration
	Total          time.Duration
}

// Outcome returns the terminal classification of the iteration.
func (w *WorkItem) Outcome() Outcome {
	switch {
	case w.Err != nil:
		return OutcomeAborted
	case w.Interrupted:
		return OutcomeInterrupted
	case w.TimedOut:
		return OutcomeTimedOut
	case w.Status == graphql.StatusFailed:
		return OutcomeFailed
	default:
		return OutcomeCompleted
	}
}
