package fabric

import (
	"fmt"
	"strings"
)

// ImageReference identifies a marketplace VM image.
type ImageReference struct {
	Publisher string `json:"publisher" yaml:"publisher"`
	Offer     string `json:"offer" yaml:"offer"`
	SKU       string `json:"sku" yaml:"sku"`
	Version   string `json:"version" yaml:"version"`
}

// DefaultImage is the container-enabled Ubuntu image pools use unless
// configured otherwise.
var DefaultImage = ImageReference{
	Publisher: "microsoft-azure-batch",
	Offer:     "ubuntu-server-container",
	SKU:       "16-04-lts",
	Version:   "latest",
}

// NodeAgentSKU derives the node agent SKU id for an Ubuntu image sku,
// e.g. "16-04-lts" -> "batch.node.ubuntu 16.04".
func (r ImageReference) NodeAgentSKU() string {
	sku := strings.TrimSuffix(r.SKU, "-lts")
	return fmt.Sprintf("batch.node.ubuntu %s", strings.ReplaceAll(sku, "-", "."))
}

// ContainerRegistry holds private registry credentials.
type ContainerRegistry struct {
	Server   string
	Username string
	Password string
}

// PoolSpec describes a pool to create.
type PoolSpec struct {
	ID                     string
	VMSize                 string
	Image                  ImageReference
	NodeAgentSKUID         string
	ContainerImages        []string
	Registry               *ContainerRegistry
	SubnetID               string
	TargetDedicatedNodes   int
	TargetLowPriorityNodes int
}

// PoolInfo is the observed state of an existing pool.
type PoolInfo struct {
	ID    string
	State string
}

// JobSpec registers a job against a pool.
type JobSpec struct {
	ID     string
	PoolID string
}

// ResourceFile is an input artifact: a read URL materialised at FilePath in
// the task working directory before the command runs.
type ResourceFile struct {
	HTTPURL  string `json:"httpUrl"`
	FilePath string `json:"filePath"`
}

// UploadCondition controls when the fabric uploads a task's output files.
type UploadCondition string

const (
	UploadOnSuccess    UploadCondition = "taskSuccess"
	UploadOnFailure    UploadCondition = "taskFailure"
	UploadOnCompletion UploadCondition = "taskCompletion"
)

// OutputFile is an output artifact: files matching Pattern are uploaded after
// the task runs to Path inside the signed container URL.
type OutputFile struct {
	Pattern         string
	ContainerURL    string
	Path            string
	UploadCondition UploadCondition
}

// TaskSpec is one unit of work registered with a job.
type TaskSpec struct {
	ID             string
	CommandLine    string
	ContainerImage string
	ResourceFiles  []ResourceFile
	OutputFiles    []OutputFile
}

// TaskState is the fabric-reported lifecycle state of a task.
type TaskState string

const (
	TaskActive    TaskState = "active"
	TaskPreparing TaskState = "preparing"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
)

// TaskStatus is one task as observed by a list call.
type TaskStatus struct {
	ID    string
	State TaskState
	// ExitCode is nil until the task process has exited.
	ExitCode *int
}

// Failed reports whether the task exited with a nonzero code.
func (s TaskStatus) Failed() bool {
	return s.ExitCode != nil && *s.ExitCode != 0
}
