package core

import (
	"context"
	"fmt"

	"github.com/superbatch-dev/superbatch/internal/blobstore"
	"github.com/superbatch-dev/superbatch/internal/config"
	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// Data is what a job persists for collecting its results later: the
// configuration without secrets and the declared outputs.
type Data struct {
	Config      config.Config `json:"config"`
	OutputFiles []string      `json:"output_files"`
}

// Data returns the persistable view of the job.
func (c *Client) Data() Data {
	return Data{Config: c.cfg.Clean(), OutputFiles: c.OutputFiles()}
}

// Restore rebuilds a read-only client from saved data. data.Config must have
// its credentials filled again, e.g. with Config.WithSecrets. The result can
// wait for and collect results, but Run, AddTask and AddOutputArtifact fail
// with ErrRestoredJob.
func Restore(ctx context.Context, data Data, fc fabric.Client, store blobstore.Store, opts ...Option) (*Client, error) {
	cfg, err := config.New(data.Config)
	if err != nil {
		return nil, fmt.Errorf("restore job %s: %w", data.Config.JobID, err)
	}
	c, err := New(ctx, cfg, fc, store, opts...)
	if err != nil {
		return nil, err
	}
	c.outputFiles = append([]string(nil), data.OutputFiles...)
	c.restored = true
	return c, nil
}
