package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
environment: test
environments:
  prod:
    admission_url: https://billing.example.com/check
    storage_domain: store.example.com
  test:
    admission_url: https://billing.test.example.com/check
    admission_timeout: 10s
    storage_domain: store.test.example.com
    env_vars:
      access_key: TEST_ACCESS_KEY
credentials:
  env_vars:
    access_key: ACCESS_KEY
    billing_scope: BILLING_SCOPE
  dotenv_files: [.env, /etc/toolmesh.env]
pipeline:
  call_timeout: 30s
  reference_args: [input_file]
report:
  columns:
    - key: _worker
    - key: name
      header: Name
    - key: file
      reference: true
session:
  driver: redis
  redis:
    address: localhost:6379
    ttl: 24h
workers:
  - name: structures
    endpoint: https://tools.example.com/structures
    mode: remote_profile
    priority: 1
    capabilities: [structure]
    contract:
      count_field: result_count
      detail_field: results
      location_field: output_url
      location:
        segments: [jobs, outputs]
        suffix: .zip
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample), "/srv/toolmesh")
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "https://billing.test.example.com/check", cfg.Active().AdmissionURL)
	assert.Equal(t, []string{"/srv/toolmesh/.env", "/etc/toolmesh.env"}, cfg.Credentials.DotenvFiles)
	assert.Equal(t, map[string]string{"access_key": "TEST_ACCESS_KEY", "billing_scope": "BILLING_SCOPE"}, cfg.EnvVars())

	d, err := ParseDuration(cfg.Pipeline.CallTimeout)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	require.Len(t, cfg.Report.Columns, 3)
	assert.True(t, cfg.Report.Columns[2].Reference)
	assert.Equal(t, "N/A", cfg.Report.Sentinel)

	require.Len(t, cfg.Workers, 1)
	w := cfg.Workers[0]
	assert.Equal(t, "structures", w.Tool)
	assert.Equal(t, "https", w.Contract.Location.Scheme)
	assert.Equal(t, "store.test.example.com", w.Contract.Location.DomainFamily)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "memory", cfg.Session.Driver)
	assert.Equal(t, ".zip", cfg.Archive.Extension)
	assert.Equal(t, 256, cfg.Archive.MaxMembers)
	assert.Equal(t, "5m", cfg.Pipeline.CallTimeout)
	assert.Equal(t, "toolmesh", cfg.Metrics.Namespace)
	assert.NoError(t, cfg.Validate())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown environment", "environment: qa\nenvironments:\n  prod: {}\n", `environment "qa"`},
		{"unknown driver", "session:\n  driver: etcd\n", "unknown session driver"},
		{"redis without address", "session:\n  driver: redis\n", "session.redis.address"},
		{"bad duration", "pipeline:\n  call_timeout: soon\n", "pipeline.call_timeout"},
		{"unknown model", "model:\n  provider: llama\n", "unknown model provider"},
		{"worker without name", "workers:\n  - tool: x\n", "name is required"},
		{"duplicate worker", "workers:\n  - name: a\n  - name: a\n", "duplicate worker"},
		{"bad mode", "workers:\n  - name: a\n    mode: ssh\n", "unknown mode"},
		{"count without detail", "workers:\n  - name: a\n    contract:\n      count_field: n\n", "requires detail_field"},
		{"location without field", "workers:\n  - name: a\n    contract:\n      location: {domain_family: d, segments: [a, b]}\n", "location_field"},
		{"location one segment", "workers:\n  - name: a\n    contract:\n      location_field: u\n      location: {domain_family: d, segments: [a]}\n", "two segments"},
		{"location without domain", "workers:\n  - name: a\n    contract:\n      location_field: u\n      location: {segments: [a, b]}\n", "domain family"},
		{"malformed yaml", "workers: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credentials:\n  dotenv_files: [secrets.env]\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "secrets.env")}, cfg.Credentials.DotenvFiles)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDuration("-1s")
	assert.Error(t, err)
}
