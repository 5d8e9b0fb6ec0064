package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// submit registers the pool (when asked to create one), the job and the
// whole task list. Each step is fatal on failure.
func (c *Client) submit(ctx context.Context) error {
	start := time.Now()
	defer c.metrics.Since("submit.duration", start)

	if err := c.preparePool(ctx); err != nil {
		return err
	}

	c.submitted = true
	job := fabric.JobSpec{ID: c.cfg.JobID, PoolID: c.cfg.PoolID}
	if err := c.fabric.AddJob(ctx, job); err != nil {
		return c.submissionError("job", err)
	}
	c.printf("Created job: %s\n", job.ID)

	if err := c.fabric.AddTasks(ctx, job.ID, c.tasks); err != nil {
		return c.submissionError("tasks", err)
	}
	c.metrics.Gauge("submit.tasks", float64(len(c.tasks)))
	log.Info().Str("job", job.ID).Str("pool", job.PoolID).Int("tasks", len(c.tasks)).Msg("Job submitted")
	return nil
}

func (c *Client) preparePool(ctx context.Context) error {
	id := c.cfg.PoolID
	if !c.cfg.CreatesPool() {
		if c.cfg.VerifyExistingPool {
			info, err := c.fabric.GetPool(ctx, id)
			if err != nil {
				return c.submissionError("pool", err)
			}
			log.Debug().Str("pool", info.ID).Str("state", info.State).Msg("Existing pool found")
		}
		c.printf("Using existing pool: %s\n", id)
		return nil
	}

	spec := c.poolSpec()
	if spec.Registry != nil {
		c.printf("Using a private registry: %s\n", spec.Registry.Server)
	}
	err := c.fabric.AddPool(ctx, spec)
	switch {
	case err == nil:
		c.printf("Created pool: %s\n", id)
	case fabric.IsAlreadyExists(err):
		log.Info().Str("pool", id).Msg("Pool already exists, reusing it")
		c.printf("Using pool: %s\n", id)
	default:
		return c.submissionError("pool", err)
	}
	return nil
}

func (c *Client) poolSpec() fabric.PoolSpec {
	return fabric.PoolSpec{
		ID:                     c.cfg.PoolID,
		VMSize:                 c.cfg.PoolVMSize,
		Image:                  c.cfg.Image,
		NodeAgentSKUID:         c.cfg.NodeAgentSKUID,
		ContainerImages:        []string{c.cfg.DockerImage},
		Registry:               c.cfg.Registry(),
		SubnetID:               c.cfg.SubnetID,
		TargetDedicatedNodes:   c.cfg.PoolNodeCount,
		TargetLowPriorityNodes: c.cfg.PoolLowPriorityNodeCount,
	}
}

// submissionError logs the fabric error with every structured detail and
// wraps it as a SubmissionError.
func (c *Client) submissionError(stage string, err error) error {
	var fe *fabric.Error
	if errors.As(err, &fe) {
		log.Error().Str("stage", stage).Str("code", fe.Code).Int("status", fe.StatusCode).Msg(fe.Describe())
	} else {
		log.Error().Str("stage", stage).Err(err).Msg("Submission failed")
	}
	c.metrics.Counter("submit.errors", 1)
	return &SubmissionError{Stage: stage, JobID: c.cfg.JobID, Err: err}
}
