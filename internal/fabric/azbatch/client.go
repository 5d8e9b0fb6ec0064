// Package azbatch is the Azure Batch REST implementation of fabric.Client.
package azbatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// APIVersion is the Batch service REST version every request is pinned to.
const APIVersion = "2023-05-01.17.0"

// maxTasksPerCall is the service cap on one addtaskcollection request.
const maxTasksPerCall = 100

const jsonContentType = "application/json; odata=minimalmetadata"

// Options configures a Client.
type Options struct {
	// AccountURL is the full service URL, e.g. https://acct.region.batch.azure.com.
	AccountURL  string
	AccountName string
	AccountKey  string
	Timeout     time.Duration
}

// Client talks to one Batch account.
type Client struct {
	rest *resty.Client
}

var _ fabric.Client = (*Client)(nil)

// New returns a Client that signs every request with the account key.
func New(opts Options) (*Client, error) {
	if opts.AccountURL == "" || opts.AccountName == "" || opts.AccountKey == "" {
		return nil, fmt.Errorf("batch account url, name and key are required")
	}
	sig, err := newSigner(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	rest := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.AccountURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
			req.Header.Set("client-request-id", uuid.NewString())
			sig.sign(req)
			return nil
		})
	return &Client{rest: rest}, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().
		SetContext(ctx).
		SetQueryParam("api-version", APIVersion).
		SetError(&batchError{})
}

func (c *Client) AddPool(ctx context.Context, pool fabric.PoolSpec) error {
	resp, err := c.request(ctx).
		SetHeader("Content-Type", jsonContentType).
		SetBody(toPoolParameter(pool)).
		Post("/pools")
	log.Debug().Str("pool", pool.ID).Str("vm_size", pool.VMSize).Msg("AddPool")
	return check(resp, err, "add pool "+pool.ID)
}

func (c *Client) GetPool(ctx context.Context, poolID string) (fabric.PoolInfo, error) {
	var out cloudPool
	resp, err := c.request(ctx).
		SetPathParam("poolId", poolID).
		SetQueryParam("$select", "id,state").
		SetResult(&out).
		Get("/pools/{poolId}")
	if err := check(resp, err, "get pool "+poolID); err != nil {
		return fabric.PoolInfo{}, err
	}
	return fabric.PoolInfo{ID: out.ID, State: out.State}, nil
}

func (c *Client) DeletePool(ctx context.Context, poolID string) error {
	resp, err := c.request(ctx).
		SetPathParam("poolId", poolID).
		Delete("/pools/{poolId}")
	return check(resp, err, "delete pool "+poolID)
}

func (c *Client) AddJob(ctx context.Context, job fabric.JobSpec) error {
	resp, err := c.request(ctx).
		SetHeader("Content-Type", jsonContentType).
		SetBody(jobAddParameter{ID: job.ID, PoolInfo: poolInfo{PoolID: job.PoolID}}).
		Post("/jobs")
	log.Debug().Str("job", job.ID).Str("pool", job.PoolID).Msg("AddJob")
	return check(resp, err, "add job "+job.ID)
}

// AddTasks posts the collection in chunks of the service maximum. Any task
// the service does not accept turns the whole call into an error.
func (c *Client) AddTasks(ctx context.Context, jobID string, tasks []fabric.TaskSpec) error {
	if len(tasks) == 0 {
		return nil
	}
	for _, batch := range chunk(tasks, maxTasksPerCall) {
		body := taskAddCollection{Value: make([]taskAddParameter, 0, len(batch))}
		for _, t := range batch {
			body.Value = append(body.Value, toTaskParameter(t))
		}
		var out taskAddCollectionResult
		resp, err := c.request(ctx).
			SetHeader("Content-Type", jsonContentType).
			SetPathParam("jobId", jobID).
			SetBody(body).
			SetResult(&out).
			Post("/jobs/{jobId}/addtaskcollection")
		if err := check(resp, err, "add tasks to "+jobID); err != nil {
			return err
		}
		for _, r := range out.Value {
			if r.Status == "success" {
				continue
			}
			fe := &fabric.Error{StatusCode: http.StatusBadRequest, Code: r.Status}
			if r.Error != nil {
				fe = r.Error.toFabric(http.StatusBadRequest)
				if fe.Code == fabric.CodeTaskExists {
					fe.StatusCode = http.StatusConflict
				}
			}
			fe.Details = append(fe.Details, fabric.Detail{Key: "TaskId", Value: r.TaskID})
			return fmt.Errorf("add tasks to %s: %w", jobID, fe)
		}
		log.Debug().Str("job", jobID).Int("tasks", len(batch)).Msg("AddTasks")
	}
	return nil
}

func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	resp, err := c.request(ctx).
		SetPathParam("jobId", jobID).
		Delete("/jobs/{jobId}")
	return check(resp, err, "delete job "+jobID)
}

// ListTasks follows odata.nextLink until every task of the job is read.
func (c *Client) ListTasks(ctx context.Context, jobID string) ([]fabric.TaskStatus, error) {
	var out []fabric.TaskStatus
	var page cloudTaskList
	resp, err := c.request(ctx).
		SetPathParam("jobId", jobID).
		SetQueryParam("$select", "id,state,executionInfo").
		SetResult(&page).
		Get("/jobs/{jobId}/tasks")
	for {
		if err := check(resp, err, "list tasks of "+jobID); err != nil {
			return nil, err
		}
		for _, t := range page.Value {
			st := fabric.TaskStatus{ID: t.ID, State: t.State}
			if t.ExecutionInfo != nil {
				st.ExitCode = t.ExecutionInfo.ExitCode
			}
			out = append(out, st)
		}
		if page.NextLink == "" {
			return out, nil
		}
		next := page.NextLink
		page = cloudTaskList{}
		// nextLink already carries api-version.
		resp, err = c.rest.R().
			SetContext(ctx).
			SetError(&batchError{}).
			SetResult(&page).
			Get(next)
	}
}

func (c *Client) TaskNode(ctx context.Context, jobID, taskID string) (string, error) {
	var out cloudTask
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"jobId": jobID, "taskId": taskID}).
		SetQueryParam("$select", "id,nodeInfo").
		SetResult(&out).
		Get("/jobs/{jobId}/tasks/{taskId}")
	if err := check(resp, err, "get task "+taskID); err != nil {
		return "", err
	}
	if out.NodeInfo == nil {
		return "", nil
	}
	return out.NodeInfo.NodeID, nil
}

// TaskFile streams a file from the task directory. The caller closes it.
func (c *Client) TaskFile(ctx context.Context, jobID, taskID, name string) (io.ReadCloser, error) {
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"jobId": jobID, "taskId": taskID, "name": name}).
		SetDoNotParseResponse(true).
		Get("/jobs/{jobId}/tasks/{taskId}/files/{name}")
	if err != nil {
		return nil, fmt.Errorf("read %s of %s: %w", name, taskID, err)
	}
	body := resp.RawBody()
	if resp.IsError() {
		defer body.Close()
		raw, _ := io.ReadAll(body)
		return nil, fmt.Errorf("read %s of %s: %w", name, taskID, decodeError(resp.StatusCode(), raw))
	}
	return body, nil
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	if be, ok := resp.Error().(*batchError); ok && (be.Code != "" || be.Message.Value != "") {
		return fmt.Errorf("%s: %w", op, be.toFabric(resp.StatusCode()))
	}
	return fmt.Errorf("%s: %w", op, decodeError(resp.StatusCode(), resp.Body()))
}
