// Package fabric describes the compute service that runs pools, jobs and
// tasks, and the errors it reports.
package fabric

import (
	"context"
	"io"
)

// PoolManager creates, inspects and deletes compute pools.
type PoolManager interface {
	AddPool(ctx context.Context, pool PoolSpec) error
	GetPool(ctx context.Context, poolID string) (PoolInfo, error)
	DeletePool(ctx context.Context, poolID string) error
}

// JobRegistrar registers jobs and their tasks.
type JobRegistrar interface {
	AddJob(ctx context.Context, job JobSpec) error
	// AddTasks registers the whole collection in one call. Either every task
	// is accepted or an error is returned.
	AddTasks(ctx context.Context, jobID string, tasks []TaskSpec) error
	DeleteJob(ctx context.Context, jobID string) error
}

// TaskLister observes task execution state.
type TaskLister interface {
	ListTasks(ctx context.Context, jobID string) ([]TaskStatus, error)
}

// TaskOutputReader reads what a task left behind on its node.
type TaskOutputReader interface {
	TaskNode(ctx context.Context, jobID, taskID string) (string, error)
	TaskFile(ctx context.Context, jobID, taskID, name string) (io.ReadCloser, error)
}

// Client is the full execution fabric surface.
type Client interface {
	PoolManager
	JobRegistrar
	TaskLister
	TaskOutputReader
}
