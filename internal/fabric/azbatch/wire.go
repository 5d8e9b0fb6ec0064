package azbatch

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

type batchError struct {
	Code    string `json:"code"`
	Message struct {
		Value string `json:"value"`
	} `json:"message"`
	Values []fabric.Detail `json:"values"`
}

func (e *batchError) toFabric(status int) *fabric.Error {
	return &fabric.Error{StatusCode: status, Code: e.Code, Message: e.Message.Value, Details: e.Values}
}

// decodeError turns a raw error body into a fabric.Error, falling back to
// the status text when the body is empty or not JSON.
func decodeError(status int, raw []byte) *fabric.Error {
	var be batchError
	if err := json.Unmarshal(raw, &be); err == nil && (be.Code != "" || be.Message.Value != "") {
		return be.toFabric(status)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &fabric.Error{StatusCode: status, Message: msg}
}

type containerRegistry struct {
	RegistryServer string `json:"registryServer"`
	Username       string `json:"username"`
	Password       string `json:"password"`
}

type containerConfiguration struct {
	Type                string              `json:"type"`
	ContainerImageNames []string            `json:"containerImageNames,omitempty"`
	ContainerRegistries []containerRegistry `json:"containerRegistries,omitempty"`
}

type virtualMachineConfiguration struct {
	ImageReference         fabric.ImageReference   `json:"imageReference"`
	NodeAgentSKUID         string                  `json:"nodeAgentSKUId"`
	ContainerConfiguration *containerConfiguration `json:"containerConfiguration,omitempty"`
}

type networkConfiguration struct {
	SubnetID string `json:"subnetId"`
}

type poolAddParameter struct {
	ID                          string                      `json:"id"`
	VMSize                      string                      `json:"vmSize"`
	VirtualMachineConfiguration virtualMachineConfiguration `json:"virtualMachineConfiguration"`
	TargetDedicatedNodes        int                         `json:"targetDedicatedNodes"`
	TargetLowPriorityNodes      int                         `json:"targetLowPriorityNodes"`
	NetworkConfiguration        *networkConfiguration       `json:"networkConfiguration,omitempty"`
}

func toPoolParameter(p fabric.PoolSpec) poolAddParameter {
	cc := &containerConfiguration{Type: "dockerCompatible", ContainerImageNames: p.ContainerImages}
	if p.Registry != nil {
		cc.ContainerRegistries = []containerRegistry{{
			RegistryServer: p.Registry.Server,
			Username:       p.Registry.Username,
			Password:       p.Registry.Password,
		}}
	}
	out := poolAddParameter{
		ID:     p.ID,
		VMSize: p.VMSize,
		VirtualMachineConfiguration: virtualMachineConfiguration{
			ImageReference:         p.Image,
			NodeAgentSKUID:         p.NodeAgentSKUID,
			ContainerConfiguration: cc,
		},
		TargetDedicatedNodes:   p.TargetDedicatedNodes,
		TargetLowPriorityNodes: p.TargetLowPriorityNodes,
	}
	if p.SubnetID != "" {
		out.NetworkConfiguration = &networkConfiguration{SubnetID: p.SubnetID}
	}
	return out
}

type poolInfo struct {
	PoolID string `json:"poolId"`
}

type jobAddParameter struct {
	ID       string   `json:"id"`
	PoolInfo poolInfo `json:"poolInfo"`
}

type containerSettings struct {
	ImageName string `json:"imageName"`
}

type containerDestination struct {
	ContainerURL string `json:"containerUrl"`
	Path         string `json:"path,omitempty"`
}

type outputFile struct {
	FilePattern string `json:"filePattern"`
	Destination struct {
		Container containerDestination `json:"container"`
	} `json:"destination"`
	UploadOptions struct {
		UploadCondition fabric.UploadCondition `json:"uploadCondition"`
	} `json:"uploadOptions"`
}

type taskAddParameter struct {
	ID                string                `json:"id"`
	CommandLine       string                `json:"commandLine"`
	ContainerSettings *containerSettings    `json:"containerSettings,omitempty"`
	ResourceFiles     []fabric.ResourceFile `json:"resourceFiles,omitempty"`
	OutputFiles       []outputFile          `json:"outputFiles,omitempty"`
}

func toTaskParameter(t fabric.TaskSpec) taskAddParameter {
	out := taskAddParameter{ID: t.ID, CommandLine: t.CommandLine, ResourceFiles: t.ResourceFiles}
	if t.ContainerImage != "" {
		out.ContainerSettings = &containerSettings{ImageName: t.ContainerImage}
	}
	for _, f := range t.OutputFiles {
		var of outputFile
		of.FilePattern = f.Pattern
		of.Destination.Container = containerDestination{ContainerURL: f.ContainerURL, Path: f.Path}
		of.UploadOptions.UploadCondition = f.UploadCondition
		if of.UploadOptions.UploadCondition == "" {
			of.UploadOptions.UploadCondition = fabric.UploadOnSuccess
		}
		out.OutputFiles = append(out.OutputFiles, of)
	}
	return out
}

type taskAddCollection struct {
	Value []taskAddParameter `json:"value"`
}

type taskAddResult struct {
	Status string      `json:"status"`
	TaskID string      `json:"taskId"`
	Error  *batchError `json:"error"`
}

type taskAddCollectionResult struct {
	Value []taskAddResult `json:"value"`
}

type cloudTask struct {
	ID            string           `json:"id"`
	State         fabric.TaskState `json:"state"`
	ExecutionInfo *struct {
		ExitCode *int `json:"exitCode"`
	} `json:"executionInfo"`
	NodeInfo *struct {
		NodeID string `json:"nodeId"`
	} `json:"nodeInfo"`
}

type cloudTaskList struct {
	Value    []cloudTask `json:"value"`
	NextLink string      `json:"odata.nextLink"`
}

type cloudPool struct {
	ID    string `json:"id"`
	State string `json:"state"`
}
