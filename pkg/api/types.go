// Package api holds the job manifest format read by the superbatch CLI.
package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML job description the superbatch CLI submits.
//
//	job_id: nightly-sim
//	tasks:
//	  - command: python run.py --seed 1
//	    inputs:
//	      - local: params.json
//	        path: params.json
//	    outputs:
//	      - pattern: result.csv
//	        path: results/1.csv
type Manifest struct {
	// JobID overrides the configured job id when set.
	JobID string `json:"job_id" yaml:"job_id"`
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Task is one command with its input and output artifacts. An empty Command
// runs the configured command_line.
type Task struct {
	Command string   `json:"command" yaml:"command"`
	Inputs  []Input  `json:"inputs" yaml:"inputs"`
	Outputs []Output `json:"outputs" yaml:"outputs"`
}

// Input is a local file, relative to the batch directory, placed at Path in
// the task working directory.
type Input struct {
	Local string `json:"local" yaml:"local"`
	Path  string `json:"path" yaml:"path"`
	// ReadHours overrides how long the input stays readable.
	ReadHours int `json:"read_hours" yaml:"read_hours"`
}

// Output uploads files matching Pattern to Path in the job container.
type Output struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Path    string `json:"path" yaml:"path"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks every task for usable artifacts and rejects outputs that
// share a path. Inputs are stored under their base name, so two distinct
// local files such as a.csv and data/a.csv are rejected too.
func (m Manifest) Validate() error {
	if len(m.Tasks) == 0 {
		return fmt.Errorf("manifest has no tasks")
	}
	type blobOwner struct {
		local string
		task  int
	}
	var problems []string
	seen := map[string]int{}
	blobs := map[string]blobOwner{}
	for i, t := range m.Tasks {
		for _, in := range t.Inputs {
			if in.Local == "" || in.Path == "" {
				problems = append(problems, fmt.Sprintf("task %d: input needs local and path", i))
				continue
			}
			if in.ReadHours < 0 {
				problems = append(problems, fmt.Sprintf("task %d: read_hours must be >= 0", i))
			}
			name := filepath.Base(in.Local)
			local := filepath.Clean(in.Local)
			prev, ok := blobs[name]
			if !ok {
				blobs[name] = blobOwner{local: local, task: i}
			} else if prev.local != local {
				problems = append(problems, fmt.Sprintf("task %d: input %s collides with %s from task %d (same blob name %s)", i, in.Local, prev.local, prev.task, name))
			}
		}
		for _, out := range t.Outputs {
			if out.Pattern == "" || out.Path == "" {
				problems = append(problems, fmt.Sprintf("task %d: output needs pattern and path", i))
				continue
			}
			if prev, ok := seen[out.Path]; ok {
				problems = append(problems, fmt.Sprintf("task %d: output path %s already used by task %d", i, out.Path, prev))
			}
			seen[out.Path] = i
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; "))
	}
	return nil
}
