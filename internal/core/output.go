package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/ianaindex"
)

// StdoutFile is the task file PrintTaskOutput reads.
const StdoutFile = "stdout.txt"

// PrintTaskOutput writes the node and standard output of every task of the
// job to w. A non-empty encoding names the IANA charset stdout is decoded
// from; empty copies the bytes as they are.
func (c *Client) PrintTaskOutput(ctx context.Context, w io.Writer, encoding string) error {
	decode := func(r io.Reader) io.Reader { return r }
	if encoding != "" {
		enc, err := ianaindex.IANA.Encoding(encoding)
		if err != nil {
			return fmt.Errorf("encoding %q: %w", encoding, err)
		}
		if enc == nil {
			return fmt.Errorf("encoding %q is not supported", encoding)
		}
		decode = func(r io.Reader) io.Reader { return enc.NewDecoder().Reader(r) }
	}

	tasks, err := c.fabric.ListTasks(ctx, c.cfg.JobID)
	if err != nil {
		return fmt.Errorf("list tasks of job %s: %w", c.cfg.JobID, err)
	}
	fmt.Fprintln(w, "Printing task output...")
	for _, t := range tasks {
		node, err := c.fabric.TaskNode(ctx, c.cfg.JobID, t.ID)
		if err != nil {
			return fmt.Errorf("get task %s: %w", t.ID, err)
		}
		fmt.Fprintf(w, "Task: %s\nNode: %s\nStandard output:\n", t.ID, node)

		rc, err := c.fabric.TaskFile(ctx, c.cfg.JobID, t.ID, StdoutFile)
		if err != nil {
			log.Warn().Err(err).Str("task", t.ID).Msg("No standard output")
			fmt.Fprintf(w, "(unavailable: %v)\n", err)
			continue
		}
		var b strings.Builder
		_, err = io.Copy(&b, decode(rc))
		rc.Close()
		if err != nil {
			return fmt.Errorf("read %s of %s: %w", StdoutFile, t.ID, err)
		}
		out := b.String()
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		io.WriteString(w, out)
	}
	return nil
}
