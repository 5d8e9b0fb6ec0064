package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Collect downloads every declared output into the batch directory,
// overwriting local files. Presence of all outputs is verified before the
// first download, so a missing one fails without touching local files.
func (c *Client) Collect(ctx context.Context) error {
	dir := c.cfg.BatchDirectory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create batch directory: %w", err)
	}
	objects, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list container %s: %w", c.cfg.BlobContainerName, err)
	}
	present := make(map[string]bool, len(objects))
	for _, o := range objects {
		present[o.Name] = true
	}
	for _, name := range c.outputFiles {
		if !present[name] {
			return &IncompleteOutputError{Path: name}
		}
	}

	var total int64
	for _, name := range c.outputFiles {
		n, err := c.download(ctx, name, filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			return err
		}
		total += n
	}
	c.metrics.Counter("collect.bytes", float64(total))
	log.Info().Int("files", len(c.outputFiles)).Str("size", humanize.Bytes(uint64(total))).Str("dir", dir).Msg("Collected outputs")
	return nil
}

func (c *Client) download(ctx context.Context, name, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", name, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := c.store.Download(ctx, name, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("download %s: %w", name, err)
	}
	log.Debug().Str("blob", name).Str("size", humanize.Bytes(uint64(n))).Msg("Downloaded output")
	return n, nil
}
