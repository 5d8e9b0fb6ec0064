package azbatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

const testKey = "c2VjcmV0LWtleQ==" // base64("secret-key")

func TestStringToSign(t *testing.T) {
	s, err := newSigner("acct", testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	req, _ := http.NewRequest(http.MethodGet, "https://acct.westeurope.batch.azure.com/jobs/j1/tasks?api-version="+APIVersion+"&$select=id", nil)
	s.sign(req)

	want := "GET" + strings.Repeat("\n", 12) +
		"ocp-date:Fri, 01 Mar 2024 12:00:00 GMT\n" +
		"/acct/jobs/j1/tasks\n$select:id\napi-version:" + APIVersion
	if got := s.stringToSign(req); got != want {
		t.Fatalf("string to sign mismatch\n got: %q\nwant: %q", got, want)
	}
	if !strings.HasPrefix(req.Header.Get("Authorization"), "SharedKey acct:") {
		t.Fatalf("unexpected auth header %q", req.Header.Get("Authorization"))
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New(Options{AccountURL: "https://x", AccountName: "acct", AccountKey: "not base64!"}); err == nil {
		t.Fatalf("expected error for non-base64 key")
	}
	if _, err := New(Options{AccountName: "acct", AccountKey: testKey}); err == nil {
		t.Fatalf("expected error without url")
	}
}

// fakeService verifies the Shared Key signature of every request before
// handing it to the mux.
func fakeService(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	verifier, err := newSigner("acct", testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mac := hmac.New(sha256.New, verifier.key)
		mac.Write([]byte(verifier.stringToSign(r)))
		want := "SharedKey acct:" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if r.Header.Get("Authorization") != want {
			t.Errorf("%s %s: bad signature", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Query().Get("api-version") != APIVersion {
			t.Errorf("%s %s: api-version = %q", r.Method, r.URL.Path, r.URL.Query().Get("api-version"))
		}
		mux.ServeHTTP(w, r)
	}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;odata=minimalmetadata")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Options{AccountURL: srv.URL, AccountName: "acct", AccountKey: testKey})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestAddPoolAlreadyExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pools", func(w http.ResponseWriter, r *http.Request) {
		var body poolAddParameter
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode pool: %v", err)
		}
		if body.VirtualMachineConfiguration.ContainerConfiguration == nil ||
			len(body.VirtualMachineConfiguration.ContainerConfiguration.ContainerRegistries) != 1 {
			t.Errorf("registry not attached: %+v", body.VirtualMachineConfiguration)
		}
		if body.NetworkConfiguration != nil {
			t.Errorf("unexpected network configuration")
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":    fabric.CodePoolExists,
			"message": map[string]string{"lang": "en-US", "value": "The specified pool already exists."},
		})
	})
	srv := fakeService(t, mux)
	defer srv.Close()

	err := newTestClient(t, srv).AddPool(context.Background(), fabric.PoolSpec{
		ID: "p1", VMSize: "STANDARD_A1_v2", Image: fabric.DefaultImage, TargetDedicatedNodes: 1,
		Registry: &fabric.ContainerRegistry{Server: "r.io", Username: "u", Password: "p"},
	})
	if !fabric.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	var fe *fabric.Error
	if !errors.As(err, &fe) || fe.Message != "The specified pool already exists." {
		t.Fatalf("unexpected error detail: %v", err)
	}
}

func TestAddTasksRejectsPartialAcceptance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/j1/addtaskcollection", func(w http.ResponseWriter, r *http.Request) {
		var body taskAddCollection
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode tasks: %v", err)
		}
		if len(body.Value) != 2 {
			t.Errorf("expected 2 tasks, got %d", len(body.Value))
		}
		if got := body.Value[0].OutputFiles[0].UploadOptions.UploadCondition; got != fabric.UploadOnSuccess {
			t.Errorf("upload condition = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{
			{"status": "success", "taskId": "Task_0"},
			{"status": "clienterror", "taskId": "Task_0", "error": map[string]any{
				"code":    fabric.CodeTaskExists,
				"message": map[string]string{"value": "The specified task already exists."},
			}},
		}})
	})
	srv := fakeService(t, mux)
	defer srv.Close()

	tasks := []fabric.TaskSpec{
		{ID: "Task_0", CommandLine: "run", OutputFiles: []fabric.OutputFile{{Pattern: "out.txt", ContainerURL: "https://c", Path: "a"}}},
		{ID: "Task_0", CommandLine: "run"},
	}
	err := newTestClient(t, srv).AddTasks(context.Background(), "j1", tasks)
	if !fabric.IsAlreadyExists(err) {
		t.Fatalf("expected task exists error, got %v", err)
	}
	var fe *fabric.Error
	errors.As(err, &fe)
	if !strings.Contains(fe.Describe(), "TaskId:\tTask_0") {
		t.Fatalf("task id missing from detail: %q", fe.Describe())
	}
}

func TestListTasksFollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/j1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"value": []map[string]any{
					{"id": "Task_0", "state": "completed", "executionInfo": map[string]any{"exitCode": 0}},
					{"id": "Task_1", "state": "running", "executionInfo": map[string]any{}},
				},
				"odata.nextLink": srv.URL + "/jobs/j1/tasks?api-version=" + APIVersion + "&$skiptoken=2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"value": []map[string]any{
				{"id": "Task_2", "state": "completed", "executionInfo": map[string]any{"exitCode": 3}},
			},
		})
	})
	srv = fakeService(t, mux)
	defer srv.Close()

	got, err := newTestClient(t, srv).ListTasks(context.Background(), "j1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(got))
	}
	if got[1].ExitCode != nil || got[1].State != fabric.TaskRunning {
		t.Fatalf("unexpected running task %+v", got[1])
	}
	if !got[2].Failed() || *got[2].ExitCode != 3 {
		t.Fatalf("expected Task_2 failed with 3, got %+v", got[2])
	}
}

func TestTaskNodeAndFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/j1/tasks/Task_0", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "Task_0", "nodeInfo": map[string]string{"nodeId": "tvm-1"}})
	})
	mux.HandleFunc("/jobs/j1/tasks/Task_0/files/stdout.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "hello\n")
	})
	mux.HandleFunc("/jobs/j1/tasks/Task_0/files/missing.txt", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"code":    "FileNotFound",
			"message": map[string]string{"value": "The specified file does not exist."},
		})
	})
	srv := fakeService(t, mux)
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := context.Background()

	node, err := c.TaskNode(ctx, "j1", "Task_0")
	if err != nil || node != "tvm-1" {
		t.Fatalf("node = %q, err = %v", node, err)
	}
	rc, err := c.TaskFile(ctx, "j1", "Task_0", "stdout.txt")
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello\n" {
		t.Fatalf("unexpected stdout %q", data)
	}
	if _, err := c.TaskFile(ctx, "j1", "Task_0", "missing.txt"); !fabric.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteJobNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/gone", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	})
	srv := fakeService(t, mux)
	defer srv.Close()

	err := newTestClient(t, srv).DeleteJob(context.Background(), "gone")
	if !fabric.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
