// Package core submits a job of tasks to the execution fabric, waits for it
// to finish and collects the declared outputs.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superbatch-dev/superbatch/internal/blobstore"
	"github.com/superbatch-dev/superbatch/internal/config"
	"github.com/superbatch-dev/superbatch/internal/fabric"
	"github.com/superbatch-dev/superbatch/internal/telemetry"
)

// Client is one job: its configuration, the tasks accumulated before
// submission and the outputs they declare. It is not safe for concurrent use.
type Client struct {
	cfg     config.Config
	fabric  fabric.Client
	store   blobstore.Store
	out     io.Writer
	quiet   bool
	metrics *telemetry.Collector

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	tasks       []fabric.TaskSpec
	outputFiles []string
	restored    bool
	submitted   bool
}

// Option customises a Client.
type Option func(*Client)

// WithOutput sends progress lines to w instead of stdout.
func WithOutput(w io.Writer) Option { return func(c *Client) { c.out = w } }

// WithQuiet suppresses progress lines during Run.
func WithQuiet() Option { return func(c *Client) { c.quiet = true } }

// WithMetrics records run metrics into m.
func WithMetrics(m *telemetry.Collector) Option { return func(c *Client) { c.metrics = m } }

func withClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

// New returns a Client for cfg and makes sure the storage container exists.
// cfg must come from config.Load or config.New.
func New(ctx context.Context, cfg config.Config, fc fabric.Client, store blobstore.Store, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		fabric:  fc,
		store:   store,
		out:     os.Stdout,
		metrics: telemetry.Global(),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := store.EnsureContainer(ctx); err != nil {
		return nil, fmt.Errorf("ensure container %s: %w", cfg.BlobContainerName, err)
	}
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// Tasks returns a copy of the accumulated task list.
func (c *Client) Tasks() []fabric.TaskSpec {
	return append([]fabric.TaskSpec(nil), c.tasks...)
}

// OutputFiles returns the declared output paths in declaration order.
func (c *Client) OutputFiles() []string {
	return append([]string(nil), c.outputFiles...)
}

// AddTask appends a task with the next Task_<n> id. An empty commandLine
// falls back to the configured default.
func (c *Client) AddTask(inputs []fabric.ResourceFile, outputs []fabric.OutputFile, commandLine string) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	if commandLine == "" {
		commandLine = c.cfg.CommandLine
	}
	if commandLine == "" {
		return fmt.Errorf("add task: no command line given and command_line is not configured")
	}
	c.tasks = append(c.tasks, fabric.TaskSpec{
		ID:             fmt.Sprintf("Task_%d", len(c.tasks)),
		CommandLine:    commandLine,
		ContainerImage: c.cfg.DockerImage,
		ResourceFiles:  inputs,
		OutputFiles:    outputs,
	})
	return nil
}

func (c *Client) checkMutable() error {
	if c.restored {
		return ErrRestoredJob
	}
	if c.submitted {
		return ErrAlreadySubmitted
	}
	return nil
}

// Run submits the job. With wait it then blocks until every task completes,
// collects the outputs and finally tears down whatever the configuration asks
// for, whether or not the earlier steps succeeded.
func (c *Client) Run(ctx context.Context, wait bool) (err error) {
	if err := c.checkMutable(); err != nil {
		return err
	}
	if wait {
		defer func() {
			if rerr := c.Reclaim(context.WithoutCancel(ctx)); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}()
	}
	if err := c.submit(ctx); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return c.LoadResults(ctx, c.quiet)
}

// LoadResults waits for the job's tasks and then collects the outputs. Unless
// quiet it prints the job id with start and end times around the wait.
func (c *Client) LoadResults(ctx context.Context, quiet bool) error {
	start := c.now()
	if !quiet {
		fmt.Fprintf(c.out, "Job: %s\nStart time: %s\n", c.cfg.JobID, start.Format(time.DateTime))
		defer func() {
			fmt.Fprintf(c.out, "End time: %s\n", c.now().Format(time.DateTime))
		}()
	}
	if _, err := c.waitForTasks(ctx, quiet); err != nil {
		log.Error().Err(err).Str("job", c.cfg.JobID).Msg("Job did not complete")
		return err
	}
	return c.Collect(ctx)
}

func (c *Client) printf(format string, args ...any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, format, args...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
