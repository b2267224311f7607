package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ubuntu", cfg.SSH.User)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, 10*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.SSH.ProbeTimeout)
	assert.Equal(t, 15*time.Second, cfg.Inventory.Timeout)
	assert.Equal(t, "last", cfg.Inventory.AddressPolicy)
	assert.Equal(t, "/tmp/fl-workspace", cfg.Workspace.BaseDir)
	assert.Equal(t, 10*time.Minute, cfg.Local.InstallTimeout)
	assert.Equal(t, time.Hour, cfg.Local.RunTimeout)
	assert.Equal(t, 1000, cfg.Registry.Capacity)
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Address())
	assert.Equal(t, time.Hour, cfg.Retention.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Retention.LocalRuns)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
ssh:
  user: fl
  key_path: /keys/id
inventory:
  provider: static
  address_policy: network
  preferred_network: public
  static:
    - id: vm-1
      networks: "public=10.0.0.5"
workspace:
  base_dir: /srv/fl
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("FLEECY_SSH_USER", "override")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "override", cfg.SSH.User)
	assert.Equal(t, "/keys/id", cfg.SSH.KeyPath)
	assert.Equal(t, "static", cfg.Inventory.Provider)
	assert.Equal(t, "public", cfg.Inventory.PreferredNetwork)
	require.Len(t, cfg.Inventory.Static, 1)
	assert.Equal(t, "vm-1", cfg.Inventory.Static[0].ID)
	assert.Equal(t, "public=10.0.0.5", cfg.Inventory.Static[0].Networks)
	assert.Equal(t, "/srv/fl", cfg.Workspace.BaseDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "fl", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fl sslmode=disable", d.DSN())
}
