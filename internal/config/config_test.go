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
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pebble", cfg.Storage.Backend)
	assert.Equal(t, uint(3), cfg.Storage.OpenAttempts)
	assert.Equal(t, "0", cfg.Ledger.Fee)
	assert.Equal(t, "0.0.0.0:8080", cfg.REST.Addr)
	assert.Equal(t, 5*time.Second, cfg.REST.ShutdownTimeout)
	assert.Equal(t, 60*time.Second, cfg.Schedule.ExpiryReport)
	assert.False(t, cfg.Genesis.Enabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  owner: "0x00000000000000000000000000000000000000a0"
  fee: "0.002"
  decimals: 6
genesis:
  depositor: "0x0000000000000000000000000000000000000001"
  releaser: "0x0000000000000000000000000000000000000003"
  amount: "5"
accounts:
  initial:
    "0x0000000000000000000000000000000000000001": "100"
storage:
  backend: bolt
schedule:
  expiryReport: 0s
`), 0o644))
	t.Setenv("REMIT_STORAGE_PATH", "/var/lib/remit")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000a0", cfg.Ledger.Owner)
	assert.Equal(t, int32(6), cfg.Ledger.Decimals)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/remit", cfg.Storage.Path)
	assert.Equal(t, time.Duration(0), cfg.Schedule.ExpiryReport)
	assert.True(t, cfg.Genesis.Enabled())
	assert.Equal(t, uint64(3600), cfg.Genesis.DurationSeconds)
	assert.Equal(t, map[string]string{"0x0000000000000000000000000000000000000001": "100"}, cfg.Accounts.Initial)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
