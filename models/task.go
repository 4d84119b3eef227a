package models

import "time"

// Phase identifies which side of the shuffle a task runs on.
type Phase string

const (
	PhaseMap    Phase = "map"
	PhaseReduce Phase = "reduce"
)

// Task attempt statuses.
const (
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
)

// Job statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// TaskAttempt describes one execution of a map or reduce task.
type TaskAttempt struct {
	JobID    string
	Phase    Phase
	Task     int // split index for map, partition for reduce
	Attempt  int // 1-based
	Location string
	Status   string
	Error    string
	Started  time.Time
	Finished time.Time
}
