package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Credential keys consulted when the matching config field is empty.
const (
	EnvBatchAccountName        = "BATCH_ACCOUNT_NAME"
	EnvBatchAccountKey         = "BATCH_ACCOUNT_KEY"
	EnvBatchAccountEndpoint    = "BATCH_ACCOUNT_ENDPOINT"
	EnvStorageAccountName      = "STORAGE_ACCOUNT_NAME"
	EnvStorageAccountKey       = "STORAGE_ACCOUNT_KEY"
	EnvStorageConnectionString = "STORAGE_ACCOUNT_CONNECTION_STRING"
	EnvRegistryServer          = "REGISTRY_SERVER"
	EnvRegistryUsername        = "REGISTRY_USERNAME"
	EnvRegistryPassword        = "REGISTRY_PASSWORD"
)

var credentialKeys = []string{
	EnvBatchAccountName, EnvBatchAccountKey, EnvBatchAccountEndpoint,
	EnvStorageAccountName, EnvStorageAccountKey, EnvStorageConnectionString,
	EnvRegistryServer, EnvRegistryUsername, EnvRegistryPassword,
}

// credentialDefaults is read once per process and never changes afterwards.
var credentialDefaults = sync.OnceValue(func() map[string]string {
	return loadCredentialDefaults(filepath.Join(Dir(), "secrets.env"), os.Getenv)
})

// LoadSecretsEnv reads KEY=VALUE lines from path. Lines starting with # are
// ignored and surrounding quotes are stripped. A missing file is not an error.
func LoadSecretsEnv(path string) (map[string]string, error) {
	out := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			out[strings.TrimSpace(line[:i])] = unquote(strings.TrimSpace(line[i+1:]))
		}
	}
	return out, s.Err()
}

// loadCredentialDefaults merges the secrets file with the environment; the
// environment wins.
func loadCredentialDefaults(path string, getenv func(string) string) map[string]string {
	secrets, _ := LoadSecretsEnv(path)
	out := map[string]string{}
	for _, k := range credentialKeys {
		if v := unquote(getenv(k)); v != "" {
			out[k] = v
		} else if v := secrets[k]; v != "" {
			out[k] = v
		}
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// withCredentials fills only the empty credential fields from defaults.
func (c Config) withCredentials(defaults map[string]string) Config {
	fill := func(field *string, key string) {
		if *field == "" {
			*field = defaults[key]
		}
	}
	fill(&c.BatchAccountName, EnvBatchAccountName)
	fill(&c.BatchAccountKey, EnvBatchAccountKey)
	fill(&c.BatchAccountEndpoint, EnvBatchAccountEndpoint)
	fill(&c.StorageAccountName, EnvStorageAccountName)
	fill(&c.StorageAccountKey, EnvStorageAccountKey)
	fill(&c.StorageAccountConnectionString, EnvStorageConnectionString)
	fill(&c.RegistryServer, EnvRegistryServer)
	fill(&c.RegistryUsername, EnvRegistryUsername)
	fill(&c.RegistryPassword, EnvRegistryPassword)
	return c
}
