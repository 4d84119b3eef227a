package mapreduce

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtnitsch/wcmr/models"
)

var (
	// ErrTaskFailed marks a single failed attempt of a map or reduce task.
	// It is retried and only surfaces wrapped in ErrRetryLimitExceeded.
	ErrTaskFailed = errors.New("task execution failure")

	// ErrRetryLimitExceeded is returned when a task fails more often than the job allows.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrCancelled is returned when the job context is cancelled before completion.
	ErrCancelled = errors.New("job cancelled")
)

// TaskError describes one failed attempt.
type TaskError struct {
	Phase    models.Phase
	Task     int
	Attempt  int
	Location string // split descriptor or output partition
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task %d attempt %d (%s): %v", e.Phase, e.Task, e.Attempt, e.Location, e.Err)
}

// Unwrap exposes both ErrTaskFailed and the underlying cause to errors.Is.
func (e *TaskError) Unwrap() []error {
	return []error{ErrTaskFailed, e.Err}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Status maps the error returned by Run to a job status.
func Status(err error) string {
	switch {
	case err == nil:
		return models.JobSucceeded
	case errors.Is(err, ErrCancelled):
		return models.JobCancelled
	default:
		return models.JobFailed
	}
}
