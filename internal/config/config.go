// Package config loads and validates the job configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/superbatch-dev/superbatch/internal/fabric"
)

// Config is the immutable description of one job. Obtain it from Load or New;
// derived fields are filled there and never recomputed.
type Config struct {
	PoolID            string `yaml:"pool_id" json:"pool_id"`
	JobID             string `yaml:"job_id" json:"job_id"`
	BlobContainerName string `yaml:"blob_container_name" json:"blob_container_name"`
	BatchDirectory    string `yaml:"batch_directory" json:"batch_directory"`
	DockerImage       string `yaml:"docker_image" json:"docker_image"`

	BatchAccountName     string `yaml:"batch_account_name" json:"batch_account_name"`
	BatchAccountKey      string `yaml:"batch_account_key" json:"batch_account_key,omitempty"`
	BatchAccountEndpoint string `yaml:"batch_account_endpoint" json:"batch_account_endpoint"`

	StorageAccountName             string `yaml:"storage_account_name" json:"storage_account_name,omitempty"`
	StorageAccountKey              string `yaml:"storage_account_key" json:"storage_account_key,omitempty"`
	StorageAccountConnectionString string `yaml:"storage_account_connection_string" json:"storage_account_connection_string,omitempty"`

	PoolVMSize               string `yaml:"pool_vm_size" json:"pool_vm_size,omitempty"`
	PoolNodeCount            int    `yaml:"pool_node_count" json:"pool_node_count"`
	PoolLowPriorityNodeCount int    `yaml:"pool_low_priority_node_count" json:"pool_low_priority_node_count"`
	SubnetID                 string `yaml:"subnet_id" json:"subnet_id,omitempty"`

	RegistryServer   string `yaml:"registry_server" json:"registry_server,omitempty"`
	RegistryUsername string `yaml:"registry_username" json:"registry_username,omitempty"`
	RegistryPassword string `yaml:"registry_password" json:"registry_password,omitempty"`

	CommandLine string `yaml:"command_line" json:"command_line,omitempty"`
	// StorageAccessDurationHrs is the lifetime of signed storage URLs. Zero
	// means DefaultStorageAccessDurationHrs; a zero-length signature is unusable.
	StorageAccessDurationHrs int `yaml:"storage_access_duration_hrs" json:"storage_access_duration_hrs"`

	DeletePoolWhenDone      bool `yaml:"delete_pool_when_done" json:"delete_pool_when_done"`
	DeleteJobWhenDone       bool `yaml:"delete_job_when_done" json:"delete_job_when_done"`
	DeleteContainerWhenDone bool `yaml:"delete_container_when_done" json:"delete_container_when_done"`

	Image          fabric.ImageReference `yaml:"image" json:"image"`
	NodeAgentSKUID string                `yaml:"node_agent_sku_id" json:"node_agent_sku_id"`

	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// PollTimeout defaults to the storage access duration: output signatures
	// stop working once it elapses anyway.
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	// PollRetryMaxElapsed enables retrying transient list failures for up to
	// this long. Zero disables retries.
	PollRetryMaxElapsed time.Duration `yaml:"poll_retry_max_elapsed" json:"poll_retry_max_elapsed"`
	// VerifyExistingPool checks that the pool exists before submitting when
	// no pool is being created.
	VerifyExistingPool bool `yaml:"verify_existing_pool" json:"verify_existing_pool"`

	// BatchAccountURL is derived from BatchAccountEndpoint.
	BatchAccountURL string `yaml:"-" json:"-"`
}

// DefaultStorageAccessDurationHrs applies when storage_access_duration_hrs is unset.
const DefaultStorageAccessDurationHrs = 24

var containerNameRE = regexp.MustCompile(`^[a-z0-9](-?[a-z0-9]+)*$`)

// Default returns a Config carrying every optional default.
func Default() Config {
	return Config{
		StorageAccessDurationHrs: DefaultStorageAccessDurationHrs,
		PollInterval:             time.Second,
	}
}

// Dir resolves $XDG_CONFIG_HOME/superbatch or ~/.config/superbatch.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "superbatch")
}

// Load reads YAML configuration from path, or Dir()/config.yaml when path is
// empty, and finalises it with New.
func Load(path string) (Config, error) {
	if path == "" {
		path = filepath.Join(Dir(), "config.yaml")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return New(cfg)
}

// New fills empty credentials from the process defaults, applies defaults,
// computes derived fields and validates. No remote call happens before a
// Config passes here.
func New(raw Config) (Config, error) {
	return build(raw, credentialDefaults())
}

func build(raw Config, defaults map[string]string) (Config, error) {
	c := raw.withCredentials(defaults)
	if c.StorageAccessDurationHrs == 0 {
		c.StorageAccessDurationHrs = DefaultStorageAccessDurationHrs
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = c.StorageAccessDuration()
	}
	if c.Image == (fabric.ImageReference{}) {
		c.Image = fabric.DefaultImage
	}
	if c.NodeAgentSKUID == "" {
		c.NodeAgentSKUID = c.Image.NodeAgentSKU()
	}
	c.BatchAccountURL = accountURL(c.BatchAccountEndpoint)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func accountURL(endpoint string) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	v := &ValidationError{}
	required := []struct{ key, value string }{
		{"pool_id", c.PoolID},
		{"job_id", c.JobID},
		{"blob_container_name", c.BlobContainerName},
		{"batch_directory", c.BatchDirectory},
		{"docker_image", c.DockerImage},
		{"batch_account_name", c.BatchAccountName},
		{"batch_account_key", c.BatchAccountKey},
		{"batch_account_endpoint", c.BatchAccountEndpoint},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			v.Add(r.key + " is required")
		}
	}
	if n := c.BlobContainerName; n != "" {
		if len(n) < 3 || len(n) > 63 || !containerNameRE.MatchString(n) {
			v.Add(fmt.Sprintf("blob_container_name %q must be 3-63 lowercase letters, digits or single hyphens", n))
		}
	}
	if c.StorageAccountConnectionString == "" && (c.StorageAccountName == "" || c.StorageAccountKey == "") {
		v.Add("storage_account_connection_string or storage_account_name and storage_account_key are required")
	}
	registry := 0
	for _, s := range []string{c.RegistryServer, c.RegistryUsername, c.RegistryPassword} {
		if s != "" {
			registry++
		}
	}
	if registry != 0 && registry != 3 {
		v.Add("registry_server, registry_username and registry_password must be set together")
	}
	if c.PoolNodeCount < 0 {
		v.Add("pool_node_count must be >= 0")
	}
	if c.PoolLowPriorityNodeCount < 0 {
		v.Add("pool_low_priority_node_count must be >= 0")
	}
	if c.StorageAccessDurationHrs < 0 {
		v.Add("storage_access_duration_hrs must be >= 0")
	}
	if c.PollInterval < 0 {
		v.Add("poll_interval must be positive")
	}
	if c.PollTimeout < 0 {
		v.Add("poll_timeout must be >= 0")
	}
	if c.PollRetryMaxElapsed < 0 {
		v.Add("poll_retry_max_elapsed must be >= 0")
	}
	return v.OrNil()
}

// StorageAccessDuration is the lifetime of signed storage URLs.
func (c Config) StorageAccessDuration() time.Duration {
	return time.Duration(c.StorageAccessDurationHrs) * time.Hour
}

// CreatesPool reports whether submission should create the pool rather than
// reuse an existing one.
func (c Config) CreatesPool() bool {
	return c.PoolVMSize != "" && (c.PoolNodeCount > 0 || c.PoolLowPriorityNodeCount > 0)
}

// Registry returns the private registry credentials, or nil when no registry
// server is configured.
func (c Config) Registry() *fabric.ContainerRegistry {
	if c.RegistryServer == "" {
		return nil
	}
	return &fabric.ContainerRegistry{Server: c.RegistryServer, Username: c.RegistryUsername, Password: c.RegistryPassword}
}

// Clean returns a copy without account keys or registry credentials, fit for
// persisting next to job outputs.
func (c Config) Clean() Config {
	c.BatchAccountKey = ""
	c.StorageAccountKey = ""
	c.StorageAccountConnectionString = ""
	c.RegistryUsername = ""
	c.RegistryPassword = ""
	return c
}

// WithSecrets fills the fields Clean blanks from other where they are empty.
// Restored job data uses it to regain credentials.
func (c Config) WithSecrets(other Config) Config {
	fill := func(field *string, v string) {
		if *field == "" {
			*field = v
		}
	}
	fill(&c.BatchAccountKey, other.BatchAccountKey)
	fill(&c.StorageAccountKey, other.StorageAccountKey)
	fill(&c.StorageAccountConnectionString, other.StorageAccountConnectionString)
	fill(&c.RegistryUsername, other.RegistryUsername)
	fill(&c.RegistryPassword, other.RegistryPassword)
	return c
}
