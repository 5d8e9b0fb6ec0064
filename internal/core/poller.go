package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// PollResult is the job-level view of one list call.
type PollResult struct {
	Total     int
	Completed int
	Failures  []TaskFailure
}

// Done reports whether every listed task has completed.
func (r PollResult) Done() bool { return r.Completed == r.Total }

func evaluate(tasks []fabric.TaskStatus) PollResult {
	res := PollResult{Total: len(tasks)}
	for i, t := range tasks {
		if t.State == fabric.TaskCompleted {
			res.Completed++
		}
		// Every task is checked, not only the ones that just completed.
		if t.Failed() {
			res.Failures = append(res.Failures, TaskFailure{Index: i, TaskID: t.ID, ExitCode: *t.ExitCode})
		}
	}
	return res
}

// waitForTasks polls the job until every task completes, any task fails or
// the poll timeout elapses. A failure is reported on the tick it is first
// observed.
func (c *Client) waitForTasks(ctx context.Context, quiet bool) (PollResult, error) {
	jobID := c.cfg.JobID
	start := c.now()
	deadline := start.Add(c.cfg.PollTimeout)
	var res PollResult
	printed := false
	defer func() {
		if printed {
			fmt.Fprintln(c.out)
		}
	}()

	for c.now().Before(deadline) {
		tasks, err := c.listTasks(ctx, jobID, deadline)
		if errors.Is(err, errPollDeadline) {
			break
		}
		if err != nil {
			c.metrics.Counter("poll.list_errors", 1)
			return res, fmt.Errorf("list tasks of job %s: %w", jobID, err)
		}
		res = evaluate(tasks)
		c.metrics.Counter("poll.ticks", 1)
		c.metrics.Gauge("poll.completed", float64(res.Completed))
		log.Debug().Str("job", jobID).Int("completed", res.Completed).Int("total", res.Total).Msg("Poll tick")

		if len(res.Failures) > 0 {
			return res, &TaskFailureError{JobID: jobID, Failures: res.Failures}
		}
		if !quiet {
			fmt.Fprintf(c.out, "\r%d/%d tasks complete, elapsed %s", res.Completed, res.Total, c.now().Sub(start).Round(time.Second))
			printed = true
		}
		if res.Done() {
			c.metrics.Since("poll.duration", start)
			return res, nil
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return res, err
		}
	}
	return res, &PollTimeoutError{JobID: jobID, Timeout: c.cfg.PollTimeout, Completed: res.Completed, Total: res.Total}
}

// errPollDeadline reports that retrying a list call ran into the poll
// deadline.
var errPollDeadline = errors.New("poll deadline reached while retrying")

// listTasks lists once, or retries transient failures with exponential
// backoff when poll_retry_max_elapsed is set. Retries never outlive the poll
// deadline.
func (c *Client) listTasks(ctx context.Context, jobID string, deadline time.Time) ([]fabric.TaskStatus, error) {
	if c.cfg.PollRetryMaxElapsed <= 0 {
		return c.fabric.ListTasks(ctx, jobID)
	}
	remaining := deadline.Sub(c.now())
	if remaining <= 0 {
		return nil, errPollDeadline
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.PollInterval
	b.MaxElapsedTime = min(c.cfg.PollRetryMaxElapsed, remaining)
	capped := remaining < c.cfg.PollRetryMaxElapsed
	rctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	var tasks []fabric.TaskStatus
	op := func() error {
		var err error
		tasks, err = c.fabric.ListTasks(rctx, jobID)
		if err != nil && !fabric.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.metrics.Counter("poll.list_retries", 1)
		log.Warn().Err(err).Str("job", jobID).Dur("retry_in", next).Msg("Transient list failure, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, rctx), notify); err != nil {
		if ctx.Err() == nil && (rctx.Err() != nil || (capped && fabric.IsTransient(err))) {
			log.Warn().Err(err).Str("job", jobID).Msg("Poll deadline reached while retrying")
			return nil, errPollDeadline
		}
		return nil, err
	}
	return tasks, nil
}
