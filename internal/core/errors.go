package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Match them with errors.Is; the typed errors below carry the
// details.
var (
	ErrSubmission       = errors.New("job submission failed")
	ErrTaskFailed       = errors.New("task failed")
	ErrPollTimeout      = errors.New("timed out waiting for tasks")
	ErrIncompleteOutput = errors.New("incomplete output set")
	ErrRestoredJob      = errors.New("client restored from saved data cannot run or extend the job")
	ErrAlreadySubmitted = errors.New("job already submitted")
)

// SubmissionError is a fabric rejection of the pool, job or task
// registration.
type SubmissionError struct {
	Stage string
	JobID string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s of job %s: %v", e.Stage, e.JobID, e.Err)
}

func (e *SubmissionError) Unwrap() []error { return []error{ErrSubmission, e.Err} }

// TaskFailure is one task that exited with a nonzero code.
type TaskFailure struct {
	Index    int
	TaskID   string
	ExitCode int
}

// TaskFailureError lists every task observed failing on the same poll tick.
type TaskFailureError struct {
	JobID    string
	Failures []TaskFailure
}

func (e *TaskFailureError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (index %d) exited with %d", f.TaskID, f.Index, f.ExitCode))
	}
	return fmt.Sprintf("job %s: %d task(s) failed: %s", e.JobID, len(e.Failures), strings.Join(parts, "; "))
}

func (e *TaskFailureError) Unwrap() error { return ErrTaskFailed }

// PollTimeoutError is returned when the deadline passes with tasks still
// running and none failed.
type PollTimeoutError struct {
	JobID     string
	Timeout   time.Duration
	Completed int
	Total     int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s: tasks did not complete within %s (%d/%d complete)", e.JobID, e.Timeout, e.Completed, e.Total)
}

func (e *PollTimeoutError) Unwrap() error { return ErrPollTimeout }

// IncompleteOutputError names the first declared output missing from the
// store.
type IncompleteOutputError struct {
	Path string
}

func (e *IncompleteOutputError) Error() string {
	return fmt.Sprintf("incomplete output set: missing blob %s", e.Path)
}

func (e *IncompleteOutputError) Unwrap() error { return ErrIncompleteOutput }
