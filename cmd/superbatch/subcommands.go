package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/superbatch-dev/superbatch/internal/blobstore/azure"
	"github.com/superbatch-dev/superbatch/internal/config"
	"github.com/superbatch-dev/superbatch/internal/core"
	"github.com/superbatch-dev/superbatch/internal/fabric"
	"github.com/superbatch-dev/superbatch/internal/fabric/azbatch"
	"github.com/superbatch-dev/superbatch/internal/ledger"
	"github.com/superbatch-dev/superbatch/pkg/api"
)

// Load the configuration named by --config
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return config.Load(cfgPath)
}

// Open the ledger named by --ledger
func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	path, _ := cmd.Flags().GetString("ledger")
	if path == "" {
		path = filepath.Join(config.Dir(), "ledger.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	l, err := ledger.Open(path)
	if err != nil {
		return nil, err
	}
	if err := l.Ping(cmd.Context()); err != nil {
		l.Close()
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	return l, nil
}

// Build the Azure Batch and Blob backends for cfg
func backends(cfg config.Config) (*azbatch.Client, *azure.Store, error) {
	fc, err := azbatch.New(azbatch.Options{
		AccountURL:  cfg.BatchAccountURL,
		AccountName: cfg.BatchAccountName,
		AccountKey:  cfg.BatchAccountKey,
	})
	if err != nil {
		return nil, nil, err
	}
	store, err := azure.New(azure.Options{
		ConnectionString: cfg.StorageAccountConnectionString,
		AccountName:      cfg.StorageAccountName,
		AccountKey:       cfg.StorageAccountKey,
		Container:        cfg.BlobContainerName,
	})
	if err != nil {
		return nil, nil, err
	}
	return fc, store, nil
}

// Restore a read-only client from saved job data
func restoreClient(ctx context.Context, data core.Data) (*core.Client, error) {
	// Derived fields are not persisted; finalise before building backends.
	cfg, err := config.New(data.Config)
	if err != nil {
		return nil, err
	}
	fc, store, err := backends(cfg)
	if err != nil {
		return nil, err
	}
	data.Config = cfg
	return core.Restore(ctx, data, fc, store)
}

// Map a run outcome to its ledger state
func runState(err error, waited bool) ledger.State {
	switch {
	case err == nil && waited:
		return ledger.StateSucceeded
	case err == nil:
		return ledger.StateSubmitted
	case errors.Is(err, core.ErrPollTimeout):
		return ledger.StateTimedOut
	default:
		return ledger.StateFailed
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Submit a manifest as a job
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit the tasks of a manifest as one job and wait for the outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, _ := cmd.Flags().GetString("manifest")
			noWait, _ := cmd.Flags().GetBool("no-wait")
			statePath, _ := cmd.Flags().GetString("state")
			suffix, _ := cmd.Flags().GetBool("job-suffix")
			ctx := cmd.Context()

			m, err := api.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if m.JobID != "" {
				cfg.JobID = m.JobID
			}
			if suffix {
				cfg.JobID += "-" + time.Now().UTC().Format("20060102-150405")
			}
			if cfg, err = config.New(cfg); err != nil {
				return err
			}

			fc, store, err := backends(cfg)
			if err != nil {
				return err
			}
			client, err := core.New(ctx, cfg, fc, store)
			if err != nil {
				return err
			}
			for i, t := range m.Tasks {
				if err := addManifestTask(ctx, client, t); err != nil {
					return fmt.Errorf("task %d: %w", i, err)
				}
			}

			data, err := json.Marshal(client.Data())
			if err != nil {
				return fmt.Errorf("encode job data: %w", err)
			}
			if statePath != "" {
				if err := os.WriteFile(statePath, data, 0o600); err != nil {
					return fmt.Errorf("write state: %w", err)
				}
			}
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer l.Close()
			runID, err := l.Begin(ctx, cfg.JobID, cfg.PoolID, data)
			if err != nil {
				return err
			}
			log.Debug().Str("run", runID).Str("job", cfg.JobID).Msg("Run recorded")

			runErr := client.Run(ctx, !noWait)
			if err := l.Finish(context.WithoutCancel(ctx), runID, runState(runErr, !noWait), errorText(runErr)); err != nil {
				log.Warn().Err(err).Str("run", runID).Msg("Could not update ledger")
			}
			return runErr
		},
	}
	cmd.Flags().String("manifest", "", "job manifest (YAML)")
	cmd.Flags().Bool("no-wait", false, "submit and return without waiting for the tasks")
	cmd.Flags().String("state", "", "also write the job data to this file for a later collect")
	cmd.Flags().Bool("job-suffix", false, "append a UTC timestamp to the job id")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func addManifestTask(ctx context.Context, client *core.Client, t api.Task) error {
	inputs := make([]fabric.ResourceFile, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		var opts []core.InputOption
		if in.ReadHours > 0 {
			opts = append(opts, core.WithReadDuration(time.Duration(in.ReadHours)*time.Hour))
		}
		rf, err := client.AddInputArtifact(ctx, in.Local, in.Path, opts...)
		if err != nil {
			return err
		}
		inputs = append(inputs, rf)
	}
	outputs := make([]fabric.OutputFile, 0, len(t.Outputs))
	for _, out := range t.Outputs {
		of, err := client.AddOutputArtifact(ctx, out.Pattern, out.Path)
		if err != nil {
			return err
		}
		outputs = append(outputs, of)
	}
	return client.AddTask(inputs, outputs, t.Command)
}

// Resolve saved job data from --state or the ledger
func loadJobData(cmd *cobra.Command, statePath, jobID string) (core.Data, error) {
	var raw []byte
	switch {
	case statePath != "":
		b, err := os.ReadFile(statePath)
		if err != nil {
			return core.Data{}, fmt.Errorf("read state: %w", err)
		}
		raw = b
	case jobID != "":
		l, err := openLedger(cmd)
		if err != nil {
			return core.Data{}, err
		}
		defer l.Close()
		rec, err := l.Latest(cmd.Context(), jobID)
		if err != nil {
			return core.Data{}, err
		}
		raw = rec.Data
	default:
		return core.Data{}, errors.New("one of --state or --job-id is required")
	}
	var data core.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return core.Data{}, fmt.Errorf("decode job data: %w", err)
	}
	// Credentials come from the local config when there is one, otherwise
	// from secrets.env and the environment.
	if cfg, err := loadConfig(cmd); err == nil {
		data.Config = data.Config.WithSecrets(cfg)
	} else {
		log.Debug().Err(err).Msg("No local config, using environment credentials")
	}
	return data, nil
}

// Collect the outputs of an earlier job
func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Download the outputs of a previously submitted job",
		RunE: func(cmd *cobra.Command, args []string) error {
			statePath, _ := cmd.Flags().GetString("state")
			jobID, _ := cmd.Flags().GetString("job-id")
			wait, _ := cmd.Flags().GetBool("wait")
			ctx := cmd.Context()

			data, err := loadJobData(cmd, statePath, jobID)
			if err != nil {
				return err
			}
			client, err := restoreClient(ctx, data)
			if err != nil {
				return err
			}
			if wait {
				err = client.LoadResults(ctx, false)
			} else {
				err = client.Collect(ctx)
			}
			recordCollect(cmd, data.Config.JobID, wait, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collected %d outputs into %s\n", len(client.OutputFiles()), data.Config.BatchDirectory)
			return nil
		},
	}
	cmd.Flags().String("state", "", "job data file written by run --state")
	cmd.Flags().String("job-id", "", "job id recorded in the ledger")
	cmd.Flags().Bool("wait", false, "wait for the tasks before collecting")
	return cmd
}

// Update the latest ledger run of jobID after a collect
func recordCollect(cmd *cobra.Command, jobID string, waited bool, err error) {
	l, lerr := openLedger(cmd)
	if lerr != nil {
		log.Debug().Err(lerr).Msg("Ledger unavailable")
		return
	}
	defer l.Close()
	ctx := context.WithoutCancel(cmd.Context())
	rec, lerr := l.Latest(ctx, jobID)
	if lerr != nil {
		log.Debug().Err(lerr).Str("job", jobID).Msg("Job not in ledger")
		return
	}
	if !waited && errors.Is(err, core.ErrIncompleteOutput) {
		// Tasks may still be running; leave the run as it was.
		return
	}
	if lerr := l.Finish(ctx, rec.RunID, runState(err, true), errorText(err)); lerr != nil {
		log.Warn().Err(lerr).Str("run", rec.RunID).Msg("Could not update ledger")
	}
}

// Print the standard output of every task of a job
func newTaskOutputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-output",
		Short: "Print the node and standard output of each task of a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString("job-id")
			encoding, _ := cmd.Flags().GetString("encoding")
			data, err := loadJobData(cmd, "", jobID)
			if err != nil {
				return err
			}
			client, err := restoreClient(cmd.Context(), data)
			if err != nil {
				return err
			}
			return client.PrintTaskOutput(cmd.Context(), cmd.OutOrStdout(), encoding)
		},
	}
	cmd.Flags().String("job-id", "", "job id recorded in the ledger")
	cmd.Flags().String("encoding", "", "IANA charset of the task output, e.g. ISO-8859-1")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

// List recorded runs
func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer l.Close()
			runs, err := l.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tPOOL\tSTATE\tSUBMITTED\tUPDATED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.JobID, r.PoolID, r.State,
					humanize.Time(r.CreatedAt), humanize.Time(r.UpdatedAt), r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "maximum runs to show, 0 for all")
	return cmd
}
