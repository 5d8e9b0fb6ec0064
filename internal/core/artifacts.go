package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superbatch-dev/superbatch/internal/blobstore"
	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// DefaultReadDuration is how long an input artifact's read URL stays valid.
const DefaultReadDuration = 24 * time.Hour

type inputOptions struct {
	readDuration time.Duration
}

// InputOption customises AddInputArtifact.
type InputOption func(*inputOptions)

// WithReadDuration overrides how long the input's read URL stays valid.
func WithReadDuration(d time.Duration) InputOption {
	return func(o *inputOptions) { o.readDuration = d }
}

// AddInputArtifact uploads localPath, relative to the batch directory unless
// absolute, under its base name and returns a resource file that materialises
// it at containerPath inside the task. Any blob already stored under that
// name is replaced.
func (c *Client) AddInputArtifact(ctx context.Context, localPath, containerPath string, opts ...InputOption) (fabric.ResourceFile, error) {
	if err := c.checkMutable(); err != nil {
		return fabric.ResourceFile{}, err
	}
	o := inputOptions{readDuration: DefaultReadDuration}
	for _, opt := range opts {
		opt(&o)
	}
	name := filepath.Base(localPath)
	src := localPath
	if !filepath.IsAbs(src) {
		src = filepath.Join(c.cfg.BatchDirectory, localPath)
	}

	if err := c.store.Delete(ctx, name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return fabric.ResourceFile{}, fmt.Errorf("replace input %s: %w", name, err)
	}
	f, err := os.Open(src)
	if err != nil {
		return fabric.ResourceFile{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fabric.ResourceFile{}, fmt.Errorf("stat input: %w", err)
	}
	if err := c.store.Upload(ctx, name, f, st.Size()); err != nil {
		return fabric.ResourceFile{}, fmt.Errorf("upload input: %w", err)
	}
	c.metrics.Counter("artifacts.uploaded_bytes", float64(st.Size()))

	url, err := c.store.ReadURL(ctx, name, o.readDuration)
	if err != nil {
		return fabric.ResourceFile{}, fmt.Errorf("sign input %s: %w", name, err)
	}
	log.Debug().Str("blob", name).Int64("size", st.Size()).Str("path", containerPath).Msg("Uploaded input artifact")
	return fabric.ResourceFile{HTTPURL: url, FilePath: containerPath}, nil
}

// AddOutputArtifact declares that files matching pattern are uploaded to
// containerPath once the task succeeds. Nothing is uploaded now; the path is
// recorded so Collect can verify and fetch it.
func (c *Client) AddOutputArtifact(ctx context.Context, pattern, containerPath string) (fabric.OutputFile, error) {
	if err := c.checkMutable(); err != nil {
		return fabric.OutputFile{}, err
	}
	url, err := c.store.ContainerURL(ctx, c.cfg.StorageAccessDuration())
	if err != nil {
		return fabric.OutputFile{}, fmt.Errorf("sign output container: %w", err)
	}
	c.outputFiles = append(c.outputFiles, containerPath)
	return fabric.OutputFile{
		Pattern:         pattern,
		ContainerURL:    url,
		Path:            containerPath,
		UploadCondition: fabric.UploadOnSuccess,
	}, nil
}
