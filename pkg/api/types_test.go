package api

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	content := `job_id: sim
tasks:
  - command: python run.py --seed 1
    inputs:
      - local: params.json
        path: params.json
        read_hours: 2
    outputs:
      - pattern: result.csv
        path: results/1.csv
  - outputs:
      - pattern: result.csv
        path: results/2.csv
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.JobID != "sim" || len(m.Tasks) != 2 {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if m.Tasks[0].Inputs[0].ReadHours != 2 || m.Tasks[1].Command != "" || m.Tasks[1].Outputs[0].Path != "results/2.csv" {
		t.Fatalf("unexpected tasks %+v", m.Tasks)
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Manifest
		want string
	}{
		{"empty", Manifest{}, "no tasks"},
		{"input without path", Manifest{Tasks: []Task{{Inputs: []Input{{Local: "a"}}}}}, "input needs local and path"},
		{"negative read hours", Manifest{Tasks: []Task{{Inputs: []Input{{Local: "a", Path: "a", ReadHours: -1}}}}}, "read_hours"},
		{"output without pattern", Manifest{Tasks: []Task{{Outputs: []Output{{Path: "x"}}}}}, "output needs pattern and path"},
		{"duplicate output", Manifest{Tasks: []Task{
			{Outputs: []Output{{Pattern: "*", Path: "x"}}},
			{Outputs: []Output{{Pattern: "*", Path: "x"}}},
		}}, "already used by task 0"},
		{"input blob name collision", Manifest{Tasks: []Task{
			{Inputs: []Input{{Local: "a/params.json", Path: "params.json"}}},
			{Inputs: []Input{{Local: "b/params.json", Path: "params.json"}}},
		}}, "collides with a/params.json from task 0"},
		{"collision within a task", Manifest{Tasks: []Task{
			{Inputs: []Input{{Local: "params.json", Path: "p1"}, {Local: "old/params.json", Path: "p2"}}},
		}}, "same blob name params.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
	ok := Manifest{Tasks: []Task{{Command: "true"}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}
	shared := Manifest{Tasks: []Task{
		{Inputs: []Input{{Local: "data/params.json", Path: "params.json"}}},
		{Inputs: []Input{{Local: "data/./params.json", Path: "in/params.json"}}},
	}}
	if err := shared.Validate(); err != nil {
		t.Fatalf("reusing one input file across tasks rejected: %v", err)
	}
}
