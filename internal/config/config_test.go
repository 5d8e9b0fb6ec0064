package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

func valid() Config {
	c := Default()
	c.PoolID = "pool"
	c.JobID = "job-1"
	c.BlobContainerName = "outputs"
	c.BatchDirectory = "/tmp/batch"
	c.DockerImage = "busybox"
	c.BatchAccountName = "acct"
	c.BatchAccountKey = "a2V5"
	c.BatchAccountEndpoint = "acct.westeurope.batch.azure.com"
	c.StorageAccountName = "store"
	c.StorageAccountKey = "a2V5"
	return c
}

func TestBuildDerivesFields(t *testing.T) {
	c, err := build(valid(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.BatchAccountURL != "https://acct.westeurope.batch.azure.com" {
		t.Fatalf("unexpected account url %q", c.BatchAccountURL)
	}
	if c.PollTimeout != 24*time.Hour {
		t.Fatalf("poll timeout should default to storage access duration, got %s", c.PollTimeout)
	}
	if c.Image != fabric.DefaultImage || c.NodeAgentSKUID != "batch.node.ubuntu 16.04" {
		t.Fatalf("unexpected image defaults %+v %q", c.Image, c.NodeAgentSKUID)
	}
	if c.CreatesPool() {
		t.Fatalf("no vm size means no pool creation")
	}
}

func TestNewAppliesStorageDurationDefault(t *testing.T) {
	raw := valid()
	raw.StorageAccessDurationHrs = 0
	raw.PollTimeout = 0
	c, err := build(raw, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.StorageAccessDuration() != 24*time.Hour {
		t.Fatalf("storage access duration = %s, want 24h", c.StorageAccessDuration())
	}
	if c.PollTimeout != 24*time.Hour {
		t.Fatalf("poll timeout = %s, want the storage access duration", c.PollTimeout)
	}

	raw.StorageAccessDurationHrs = 6
	if c, err = build(raw, nil); err != nil || c.PollTimeout != 6*time.Hour {
		t.Fatalf("explicit duration not kept: %s, %v", c.PollTimeout, err)
	}
}

func TestValidateAggregatesIssues(t *testing.T) {
	raw := valid()
	raw.PoolID = ""
	raw.BlobContainerName = "Bad_Name"
	raw.RegistryServer = "registry.example.com"
	raw.PoolNodeCount = -1
	raw.StorageAccountKey = ""

	_, err := build(raw, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"pool_id", "blob_container_name", "storage_account", "registry_", "pool_node_count"}
	for _, w := range want {
		found := false
		for _, issue := range verr.Issues {
			if strings.Contains(issue, w) {
				found = true
			}
		}
		if !found {
			t.Errorf("missing issue about %s in %v", w, verr.Issues)
		}
	}
}

func TestContainerNameRules(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"abc", true},
		{"my-outputs-01", true},
		{"ab", false},
		{strings.Repeat("a", 64), false},
		{"-abc", false},
		{"abc-", false},
		{"a--b", false},
		{"ABC", false},
	}
	for _, tt := range tests {
		raw := valid()
		raw.BlobContainerName = tt.name
		_, err := build(raw, nil)
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%q: expected error", tt.name)
		}
	}
}

func TestCredentialDefaultsFillOnlyEmptyFields(t *testing.T) {
	raw := valid()
	raw.BatchAccountKey = ""
	raw.StorageAccountName = ""
	raw.StorageAccountKey = ""
	defaults := map[string]string{
		EnvBatchAccountKey:         "ZW52",
		EnvBatchAccountName:        "from-env",
		EnvStorageConnectionString: "AccountName=s;AccountKey=k",
	}
	c, err := build(raw, defaults)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.BatchAccountKey != "ZW52" {
		t.Fatalf("empty key not filled: %q", c.BatchAccountKey)
	}
	if c.BatchAccountName != "acct" {
		t.Fatalf("explicit account name overridden: %q", c.BatchAccountName)
	}
	if c.StorageAccountConnectionString == "" {
		t.Fatalf("connection string not filled")
	}
}

func TestLoadSecretsEnvAndEnvironmentPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.env")
	content := "# comment\nBATCH_ACCOUNT_KEY=\"ZmlsZQ==\"\nexport STORAGE_ACCOUNT_NAME=fromfile\nUNRELATED=x\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := map[string]string{EnvStorageAccountName: "'fromenv'"}
	got := loadCredentialDefaults(path, func(k string) string { return env[k] })

	if got[EnvBatchAccountKey] != "ZmlsZQ==" {
		t.Errorf("quotes not stripped: %q", got[EnvBatchAccountKey])
	}
	if got[EnvStorageAccountName] != "fromenv" {
		t.Errorf("environment should win: %q", got[EnvStorageAccountName])
	}
	if _, ok := got["UNRELATED"]; ok {
		t.Errorf("non-credential key leaked into defaults")
	}

	missing, err := LoadSecretsEnv(filepath.Join(dir, "nope.env"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing file should be empty and not fail: %v %v", missing, err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `pool_id: pool
job_id: job-1
blob_container_name: outputs
batch_directory: /tmp/batch
docker_image: busybox
batch_account_name: acct
batch_account_key: a2V5
batch_account_endpoint: https://acct.batch.azure.com
storage_account_connection_string: "AccountName=s;AccountKey=k"
pool_vm_size: STANDARD_A1_v2
pool_node_count: 2
poll_interval: 5s
image:
  publisher: microsoft-azure-batch
  offer: ubuntu-server-container
  sku: 20-04-lts
  version: latest
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %s", c.PollInterval)
	}
	if c.StorageAccessDurationHrs != 24 {
		t.Errorf("storage access default lost: %d", c.StorageAccessDurationHrs)
	}
	if c.BatchAccountURL != "https://acct.batch.azure.com" {
		t.Errorf("scheme should be kept: %q", c.BatchAccountURL)
	}
	if c.NodeAgentSKUID != "batch.node.ubuntu 20.04" {
		t.Errorf("node agent sku = %q", c.NodeAgentSKUID)
	}
	if !c.CreatesPool() {
		t.Errorf("vm size with nodes should create the pool")
	}
}

func TestCleanDropsSecrets(t *testing.T) {
	c := valid()
	c.StorageAccountConnectionString = "AccountName=s;AccountKey=k"
	c.RegistryServer, c.RegistryUsername, c.RegistryPassword = "r.io", "u", "p"
	clean := c.Clean()
	if clean.BatchAccountKey != "" || clean.StorageAccountKey != "" || clean.StorageAccountConnectionString != "" ||
		clean.RegistryUsername != "" || clean.RegistryPassword != "" {
		t.Fatalf("secrets survived Clean: %+v", clean)
	}
	if clean.RegistryServer != "r.io" || c.BatchAccountKey == "" {
		t.Fatalf("Clean must not touch non-secret fields or the receiver")
	}
}
