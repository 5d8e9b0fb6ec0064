// Package fabrictest provides an in-memory execution fabric for tests.
package fabrictest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// ProgressFunc decides what a list call observes for one task. tick counts
// list calls for the job starting at 1.
type ProgressFunc func(tick int, task fabric.TaskSpec) fabric.TaskStatus

// Fabric is an in-memory fabric.Client. Zero value is ready to use; tasks
// complete with exit code 0 on the first list call unless Progress is set.
type Fabric struct {
	mu sync.Mutex

	Pools map[string]fabric.PoolSpec
	Jobs  map[string]fabric.JobSpec
	Tasks map[string][]fabric.TaskSpec
	// Files maps "job/task/name" to file content.
	Files map[string]string
	Nodes map[string]string

	Progress ProgressFunc

	AddPoolErr    error
	AddJobErr     error
	ListErr       error
	// ListErrs are returned by successive list calls before ListErr applies.
	ListErrs      []error
	DeletePoolErr error
	DeleteJobErr  error

	AddPoolCalls    int
	AddJobCalls     int
	AddTasksCalls   int
	GetPoolCalls    int
	DeletePoolCalls int
	DeleteJobCalls  int
	ticks           map[string]int
}

// New returns an empty fabric.
func New() *Fabric { return &Fabric{} }

func (f *Fabric) init() {
	if f.Pools == nil {
		f.Pools = map[string]fabric.PoolSpec{}
	}
	if f.Jobs == nil {
		f.Jobs = map[string]fabric.JobSpec{}
	}
	if f.Tasks == nil {
		f.Tasks = map[string][]fabric.TaskSpec{}
	}
	if f.ticks == nil {
		f.ticks = map[string]int{}
	}
}

// AddPool fails with AddPoolErr when set, or PoolExists for a known id.
func (f *Fabric) AddPool(ctx context.Context, pool fabric.PoolSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.AddPoolCalls++
	if f.AddPoolErr != nil {
		return f.AddPoolErr
	}
	if _, ok := f.Pools[pool.ID]; ok {
		return &fabric.Error{StatusCode: http.StatusConflict, Code: fabric.CodePoolExists, Message: "The specified pool already exists."}
	}
	f.Pools[pool.ID] = pool
	return nil
}

// GetPool returns the registered pool or PoolNotFound.
func (f *Fabric) GetPool(ctx context.Context, poolID string) (fabric.PoolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.GetPoolCalls++
	if _, ok := f.Pools[poolID]; !ok {
		return fabric.PoolInfo{}, &fabric.Error{StatusCode: http.StatusNotFound, Code: fabric.CodePoolNotFound, Message: "The specified pool does not exist."}
	}
	return fabric.PoolInfo{ID: poolID, State: "active"}, nil
}

// DeletePool removes a registered pool.
func (f *Fabric) DeletePool(ctx context.Context, poolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.DeletePoolCalls++
	if f.DeletePoolErr != nil {
		return f.DeletePoolErr
	}
	delete(f.Pools, poolID)
	return nil
}

// AddJob registers a job, failing with JobExists for a known id.
func (f *Fabric) AddJob(ctx context.Context, job fabric.JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.AddJobCalls++
	if f.AddJobErr != nil {
		return f.AddJobErr
	}
	if _, ok := f.Jobs[job.ID]; ok {
		return &fabric.Error{StatusCode: http.StatusConflict, Code: fabric.CodeJobExists, Message: "The specified job already exists."}
	}
	f.Jobs[job.ID] = job
	return nil
}

// AddTasks rejects the whole collection when any id repeats, within the
// collection or against tasks already registered.
func (f *Fabric) AddTasks(ctx context.Context, jobID string, tasks []fabric.TaskSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.AddTasksCalls++
	if _, ok := f.Jobs[jobID]; !ok {
		return &fabric.Error{StatusCode: http.StatusNotFound, Code: fabric.CodeJobNotFound, Message: "The specified job does not exist."}
	}
	seen := map[string]bool{}
	for _, t := range f.Tasks[jobID] {
		seen[t.ID] = true
	}
	for _, t := range tasks {
		if seen[t.ID] {
			return &fabric.Error{
				StatusCode: http.StatusConflict,
				Code:       fabric.CodeTaskExists,
				Message:    "The specified task already exists.",
				Details:    []fabric.Detail{{Key: "TaskId", Value: t.ID}},
			}
		}
		seen[t.ID] = true
	}
	f.Tasks[jobID] = append(f.Tasks[jobID], tasks...)
	return nil
}

// DeleteJob forgets a registered job. Its tasks stay listable.
func (f *Fabric) DeleteJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.DeleteJobCalls++
	if f.DeleteJobErr != nil {
		return f.DeleteJobErr
	}
	delete(f.Jobs, jobID)
	return nil
}

// ListTasks counts a tick and reports every task through Progress, or as
// completed when Progress is nil. Queued ListErrs come first.
func (f *Fabric) ListTasks(ctx context.Context, jobID string) ([]fabric.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.ticks[jobID]++
	if len(f.ListErrs) > 0 {
		err := f.ListErrs[0]
		f.ListErrs = f.ListErrs[1:]
		return nil, err
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	tick := f.ticks[jobID]
	out := make([]fabric.TaskStatus, 0, len(f.Tasks[jobID]))
	for _, t := range f.Tasks[jobID] {
		if f.Progress != nil {
			out = append(out, f.Progress(tick, t))
			continue
		}
		out = append(out, Completed(t.ID, 0))
	}
	return out, nil
}

// Ticks returns how many list calls were made for jobID.
func (f *Fabric) Ticks(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	return f.ticks[jobID]
}

// TaskNode looks the task up in Nodes, defaulting to tvm-0.
func (f *Fabric) TaskNode(ctx context.Context, jobID, taskID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if node, ok := f.Nodes[taskID]; ok {
		return node, nil
	}
	return "tvm-0", nil
}

// TaskFile serves Files keyed by job/task/name.
func (f *Fabric) TaskFile(ctx context.Context, jobID, taskID, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.Files[jobID+"/"+taskID+"/"+name]
	if !ok {
		return nil, &fabric.Error{StatusCode: http.StatusNotFound, Code: "FileNotFound", Message: fmt.Sprintf("file %s not found", name)}
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

// Completed is a finished task status with the given exit code.
func Completed(id string, exitCode int) fabric.TaskStatus {
	code := exitCode
	return fabric.TaskStatus{ID: id, State: fabric.TaskCompleted, ExitCode: &code}
}

// Running is a task status with no exit code yet.
func Running(id string) fabric.TaskStatus {
	return fabric.TaskStatus{ID: id, State: fabric.TaskRunning}
}

// NeverCompletes keeps every task running forever.
func NeverCompletes(tick int, task fabric.TaskSpec) fabric.TaskStatus {
	return Running(task.ID)
}
