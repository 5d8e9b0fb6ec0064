package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/superbatch-dev/superbatch/internal/blobstore"
	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// Reclaim deletes the pool, job and storage container the configuration
// marks for deletion. Every deletion is attempted; failures are joined into
// the returned error. A resource that is already gone counts as deleted.
func (c *Client) Reclaim(ctx context.Context) error {
	var errs []error
	attempt := func(kind, id string, del func() error) {
		err := del()
		switch {
		case err == nil:
			c.printf("Deleted %s: %s\n", kind, id)
		case fabric.IsNotFound(err) || errors.Is(err, blobstore.ErrNotFound):
			log.Debug().Str(kind, id).Msg("Already deleted")
		default:
			log.Warn().Err(err).Str(kind, id).Msg("Teardown failed")
			c.metrics.Counter("reclaim.errors", 1)
			errs = append(errs, fmt.Errorf("delete %s %s: %w", kind, id, err))
		}
	}
	if c.cfg.DeletePoolWhenDone {
		attempt("pool", c.cfg.PoolID, func() error { return c.fabric.DeletePool(ctx, c.cfg.PoolID) })
	}
	if c.cfg.DeleteJobWhenDone {
		attempt("job", c.cfg.JobID, func() error { return c.fabric.DeleteJob(ctx, c.cfg.JobID) })
	}
	if c.cfg.DeleteContainerWhenDone {
		attempt("container", c.cfg.BlobContainerName, func() error { return c.store.DeleteContainer(ctx) })
	}
	return errors.Join(errs...)
}
