package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, time.Second, cfg.Fleet.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.Fleet.BackoffMax)
	assert.Equal(t, "none", cfg.Provision.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    credential: secret123
fleet:
  backoffBase: 500ms
  backoffMax: 10s
provision:
  mode: ssh
  ssh:
    user: deploy
    key_path: /home/deploy/.ssh/id_ed25519
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Credential)
	assert.Equal(t, 500*time.Millisecond, cfg.Fleet.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.Fleet.BackoffMax)
	assert.Equal(t, "ssh", cfg.Provision.Mode)
	assert.Equal(t, "deploy", cfg.Provision.SSH.User)
	assert.Equal(t, "/home/deploy/.ssh/id_ed25519", cfg.Provision.SSH.KeyPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// unset fields fall back to defaults
	assert.Equal(t, 30*time.Second, cfg.Fleet.ProvisionWait)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: [not a map"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config:")
}

func TestExpandEnvVarsInCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  auth:
    credential: ${FLEETD_TEST_SECRET}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("FLEETD_TEST_SECRET", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Gateway.Auth.Credential)
}

func TestExpandEnvVarsLeavesUnsetAlone(t *testing.T) {
	assert.Equal(t, "${FLEETD_DEFINITELY_UNSET_VAR}", expandEnvVars("${FLEETD_DEFINITELY_UNSET_VAR}"))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLEETD_GATEWAY_PORT", "7777")
	t.Setenv("FLEETD_CREDENTIAL", "override-secret")
	t.Setenv("FLEETD_LOG_LEVEL", "TRACE")

	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, "override-secret", cfg.Gateway.Auth.Credential)
	assert.Equal(t, "trace", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Auth.Credential = "s3cret"
	assert.Empty(t, Validate(&cfg))

	cfg.Gateway.Port = 99999
	cfg.Gateway.Bind = "everywhere"
	cfg.Provision.Mode = "carrier-pigeon"
	issues := Validate(&cfg)
	require.Len(t, issues, 3)
	assert.Equal(t, "gateway.port", issues[0].Path)
	assert.Equal(t, "gateway.bind", issues[1].Path)
	assert.Equal(t, "provision.mode", issues[2].Path)
}

func TestValidateMissingCredential(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "gateway.auth.credential", issues[0].Path)
}

func TestValidateSSHProvisioning(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Auth.Credential = "s3cret"
	cfg.Provision.Mode = "ssh"

	issues := Validate(&cfg)
	require.Len(t, issues, 2)
	assert.Equal(t, "provision.ssh.user", issues[0].Path)
	assert.Equal(t, "provision.ssh", issues[1].Path)

	cfg.Provision.SSH.User = "deploy"
	cfg.Provision.SSH.Password = "pw"
	assert.Empty(t, Validate(&cfg))
}

func TestValidateStaticFleet(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Auth.Credential = "s3cret"
	cfg.Fleet.Agents = []AgentConfig{
		{Name: "builder", Host: "build-01:9001"},
		{Name: "builder", Host: "build-02:9001"},
		{Name: "", Host: ""},
	}

	issues := Validate(&cfg)
	require.Len(t, issues, 3)
	assert.Equal(t, "fleet.agents[1].name", issues[0].Path)
	assert.Equal(t, "fleet.agents[2].name", issues[1].Path)
	assert.Equal(t, "fleet.agents[2].host", issues[2].Path)
}

func TestResolvePathsHonorsHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FLEETD_HOME", dir)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, dir, paths.Base)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(dir, "data", "fleetd.db"), paths.DatabasePath(StoreConfig{}))
	assert.Equal(t, "/tmp/x.db", paths.DatabasePath(StoreConfig{Path: "/tmp/x.db"}))
}
